// Command hwkernel-sched-test drives the kernel's seed scenarios
// (spec §8: S1 through S6) outside of `go test`, the way the teacher
// repo ships standalone conformance runners alongside its unit tests.
// It is meant for interactive poking and CI smoke checks where a
// human wants to see the scheduler's checkpoints printed, not just a
// pass/fail bit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// quietLevel is the log level scenarios run the kernel at: loud
// enough to see on -verbose, silent otherwise.
var quietLevel = logrus.ErrorLevel

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&runCmd{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

type listCmd struct{}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list the available seed scenarios" }
func (*listCmd) Usage() string    { return "list\n" }
func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	for _, s := range scenarios {
		fmt.Printf("%-4s %s\n", s.name, s.doc)
	}
	return subcommands.ExitSuccess
}

type runCmd struct {
	name    string
	verbose bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run one or all seed scenarios" }
func (*runCmd) Usage() string {
	return "run [-scenario S1] [-verbose]\n\n" +
		"  Runs every scenario in order, or just the one named by -scenario.\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "scenario", "", "scenario to run (default: all)")
	f.BoolVar(&c.verbose, "verbose", false, "print each scenario's checkpoint log")
}

func (c *runCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if c.verbose {
		quietLevel = logrus.InfoLevel
	}
	failed := 0
	ran := 0
	for _, s := range scenarios {
		if c.name != "" && s.name != c.name {
			continue
		}
		ran++
		r := &reporter{}
		err := s.run(r)
		status := "PASS"
		if err != nil {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s: %s\n", status, s.name, s.doc)
		if c.verbose || err != nil {
			for _, line := range r.lines {
				fmt.Printf("    %s\n", line)
			}
		}
		if err != nil {
			fmt.Printf("    error: %v\n", err)
		}
	}
	if c.name != "" && ran == 0 {
		fmt.Fprintf(os.Stderr, "no such scenario: %s\n", c.name)
		return subcommands.ExitUsageError
	}
	if failed > 0 {
		fmt.Printf("%d/%d scenarios failed\n", failed, ran)
		return subcommands.ExitFailure
	}
	fmt.Printf("%d/%d scenarios passed\n", ran, ran)
	return subcommands.ExitSuccess
}
