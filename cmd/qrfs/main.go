// Command qrfs inspects QRFS volumes without mounting them.
//
//	qrfs fsck <volume>
//	qrfs info [-inodes] <volume>
//	qrfs ls [-l] <volume> [path]
//	qrfs cat <volume> <path>
//	qrfs pack <folder> <image>
//
// A volume is either a folder of block files or a packed image file.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/mit-pdos/go-qrfs/util"
)

// env carries the output streams to every command.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

func envOf(args []interface{}) *env {
	return args[0].(*env)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	top := flag.NewFlagSet("qrfs", flag.ContinueOnError)
	top.SetOutput(stderr)
	debug := top.Uint64("debug", 0, "debug verbosity (0 is quiet)")

	cdr := subcommands.NewCommander(top, "qrfs")
	cdr.Output = stdout
	cdr.Error = stderr
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(&fsckCmd{}, "check")
	cdr.Register(&infoCmd{}, "inspect")
	cdr.Register(&lsCmd{}, "inspect")
	cdr.Register(&catCmd{}, "inspect")
	cdr.Register(&packCmd{}, "convert")

	if err := top.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}
	logrus.SetOutput(stderr)
	util.Debug = *debug
	if *debug > 0 {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return int(cdr.Execute(context.Background(), &env{stdout: stdout, stderr: stderr}))
}
