// Command mkfs-qrfs formats a folder of block files as an empty QRFS volume.
//
//	mkfs-qrfs [--blocks=N] [--inodes=M] [--blocksize=B] [--staged] [--sync] <folder>
//
// Exit status is 2 for bad arguments or capacity and 1 for failures while
// writing the volume.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/mkfs"
	"github.com/mit-pdos/go-qrfs/util"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func format(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: mkfs-qrfs [options] <folder>", 2)
	}
	folder := c.Args().First()
	p := mkfs.Params{
		Blocks:    c.Uint64("blocks"),
		Inodes:    c.Uint64("inodes"),
		BlockSize: c.Uint64("blocksize"),
	}
	if err := p.Validate(); err != nil {
		return cli.Exit(err, 2)
	}
	l, err := mkfs.Plan(p)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logrus.SetOutput(c.App.ErrWriter)
	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
		util.Debug = 5
	}

	if err := os.MkdirAll(folder, 0755); err != nil {
		return cli.Exit(fmt.Errorf("prepare folder: %w", err), 1)
	}
	fl, err := disk.Lock(folder, true)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer fl.Unlock()

	opts := mkfs.Options{Sync: c.Bool("sync")}
	if c.Bool("staged") {
		err = formatStaged(folder, l, opts)
	} else {
		err = formatInPlace(folder, l, opts)
	}
	if err != nil {
		return cli.Exit(err, 1)
	}
	l.Report(c.App.Writer, folder)
	return nil
}

func formatInPlace(folder string, l *mkfs.Layout, opts mkfs.Options) error {
	d, err := disk.CreateFolder(folder, l.BlockSize, l.Blocks)
	if err != nil {
		return err
	}
	if err := mkfs.Format(d, l, opts); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

func formatStaged(folder string, l *mkfs.Layout, opts mkfs.Options) error {
	s, err := disk.CreateStaged(folder, l.BlockSize, l.Blocks)
	if err != nil {
		return err
	}
	if err := mkfs.Format(s, l, opts); err != nil {
		s.Discard()
		return err
	}
	if err := s.Publish(); err != nil {
		s.Discard()
		return err
	}
	if opts.Sync {
		if err := s.Barrier(); err != nil {
			return err
		}
	}
	return s.Close()
}

func app(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "mkfs-qrfs",
		Usage:     "format a folder of block files as a QRFS volume",
		ArgsUsage: "<folder>",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "blocks", Value: mkfs.DefaultBlocks,
				Usage: fmt.Sprintf("total blocks (at most %d)", common.MAXBLOCKS)},
			&cli.Uint64Flag{Name: "inodes", Value: mkfs.DefaultInodes,
				Usage: fmt.Sprintf("total inodes (at most %d)", common.MAXINODES)},
			&cli.Uint64Flag{Name: "blocksize", Value: mkfs.DefaultBlockSize,
				Usage: fmt.Sprintf("block size in bytes (%d to %d)", common.MINBLKSZ, common.MAXBLKSZ)},
			&cli.BoolFlag{Name: "staged", Usage: "format in a staging folder and publish when complete"},
			&cli.BoolFlag{Name: "sync", Usage: "flush blocks to stable storage around the superblock write"},
			&cli.BoolFlag{Name: "debug", Usage: "log each block write"},
		},
		Action: format,
		// exit codes are handled by run
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	err := app(stdout, stderr).Run(args)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "mkfs-qrfs: %v\n", err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	// flag parsing
	return 2
}
