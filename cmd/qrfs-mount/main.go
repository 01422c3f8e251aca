// Command qrfs-mount mounts a QRFS volume read-only through FUSE and serves
// it until interrupted.
//
//	qrfs-mount [--config=FILE] [--debug] <folder> <mountpoint>
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/config"
	"github.com/mit-pdos/go-qrfs/fuse"
	"github.com/mit-pdos/go-qrfs/util"
	"github.com/mit-pdos/go-qrfs/volume"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func mount(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: qrfs-mount [options] <folder> <mountpoint>", 2)
	}
	folder, mnt := c.Args().Get(0), c.Args().Get(1)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	logrus.SetOutput(c.App.ErrWriter)
	logrus.SetLevel(cfg.Level())
	if cfg.Debug {
		util.Debug = 5
	}

	if _, err := os.Stat(folder); err != nil {
		return cli.Exit(fmt.Errorf("volume folder: %w", err), 1)
	}
	st, err := os.Stat(mnt)
	if err != nil {
		return cli.Exit(fmt.Errorf("mountpoint: %w", err), 1)
	}
	if !st.IsDir() {
		return cli.Exit(fmt.Errorf("mountpoint %s: %w", mnt, common.ErrNotDir), 1)
	}

	v, err := volume.OpenPath(folder)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer v.Close()

	srv, err := fuse.Mount(v, mnt, *cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logrus.WithFields(logrus.Fields{
		"volume":     folder,
		"mountpoint": mnt,
		"fsname":     cfg.FsName,
	}).Info("mounted")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logrus.WithField("signal", sig).Info("unmounting")
		if err := srv.Unmount(); err != nil {
			logrus.WithError(err).Error("unmount")
		}
	}()
	srv.Wait()
	signal.Stop(sigs)
	return nil
}

func app(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "qrfs-mount",
		Usage:     "mount a QRFS volume read-only",
		ArgsUsage: "<folder> <mountpoint>",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file (default $QRFS_CONFIG_FILE)"},
			&cli.BoolFlag{Name: "debug", Usage: "log every FUSE request"},
		},
		Action:         mount,
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	err := app(stdout, stderr).Run(args)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "qrfs-mount: %v\n", err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 2
}
