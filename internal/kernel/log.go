package kernel

import "github.com/sirupsen/logrus"

// NewLogger builds the base log entry every kernel component derives
// its own field-tagged entry from (one per CPU, one for the core
// console), text-formatted with microsecond timestamps so scheduler
// traces stay readable during interactive debugging.
func NewLogger(level logrus.Level) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000000"})
	return logrus.NewEntry(l).WithField("component", "hwkernel")
}
