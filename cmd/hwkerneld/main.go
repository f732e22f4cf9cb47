// Command hwkerneld runs the hardware-kernel core as a background
// daemon fronted by a UNIX-domain control socket, so an external
// driver process can issue syscalls (new_pd, new_thread, ...) without
// linking against the kernel package directly. This mirrors the
// teacher's own daemon-with-a-control-socket deployment shape, scaled
// down to this core's syscall surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&serveCmd{}, "")
	subcommands.Register(&versionCmd{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string          { return "print the daemon's protocol version" }
func (*versionCmd) Usage() string             { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet)    {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Println(protocolVersion)
	return subcommands.ExitSuccess
}
