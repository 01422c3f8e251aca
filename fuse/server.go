package fuse

import (
	"fmt"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mit-pdos/go-qrfs/config"
	"github.com/mit-pdos/go-qrfs/util"
	"github.com/mit-pdos/go-qrfs/volume"
)

// MountOptions builds the go-fuse options for cfg. The mount is always
// read-only.
func MountOptions(cfg config.Mount) *gofuse.MountOptions {
	return &gofuse.MountOptions{
		FsName:         cfg.FsName,
		Name:           "qrfs",
		Options:        []string{"ro"},
		Debug:          cfg.Debug,
		AllowOther:     cfg.AllowOther,
		SingleThreaded: cfg.SingleThreaded,
	}
}

// Mount mounts v at mountpoint and starts serving requests in the
// background. Stop with Unmount followed by Wait on the returned server.
func Mount(v *volume.Volume, mountpoint string, cfg config.Mount) (*gofuse.Server, error) {
	srv, err := gofuse.NewServer(New(v, cfg), mountpoint, MountOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	if err := start(srv, mountpoint); err != nil {
		return nil, err
	}
	return srv, nil
}

type server interface {
	Serve()
	WaitMount() error
	Unmount() error
}

// start serves srv in the background and waits for the kernel to answer the
// mount. A failed mount is unmounted so the serve loop exits.
func start(srv server, mountpoint string) error {
	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		if uerr := srv.Unmount(); uerr != nil {
			util.DPrintf(1, "unmount %s: %v\n", mountpoint, uerr)
		}
		return fmt.Errorf("mount %s: %w", mountpoint, err)
	}
	return nil
}
