package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/fsck"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/util"
	"github.com/mit-pdos/go-qrfs/volume"
)

func fail(e *env, format string, a ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(e.stderr, "qrfs: "+format+"\n", a...)
	return subcommands.ExitFailure
}

// fsName turns a user path into an io/fs name rooted at the volume root.
func fsName(p string) string {
	n := strings.TrimPrefix(path.Clean("/"+p), "/")
	if n == "" {
		return "."
	}
	return n
}

// fsckCmd implements subcommands.Command for "fsck".
type fsckCmd struct{}

func (*fsckCmd) Name() string     { return "fsck" }
func (*fsckCmd) Synopsis() string { return "check a volume for inconsistencies" }
func (*fsckCmd) Usage() string {
	return "fsck <volume>\n\tExits 1 if the volume has problems.\n"
}
func (*fsckCmd) SetFlags(*flag.FlagSet) {}

func (*fsckCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := envOf(args)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	p := f.Arg(0)
	fl, err := disk.Lock(p, false)
	if errors.Is(err, disk.ErrBusy) {
		return fail(e, "%v", err)
	}
	if fl != nil {
		defer fl.Unlock()
	}
	d, err := volume.OpenDisk(p, true)
	if err != nil {
		return fail(e, "%v", err)
	}
	defer d.Close()
	r, err := fsck.Check(d)
	if err != nil {
		return fail(e, "%v", err)
	}
	r.Print(e.stdout)
	if !r.OK() {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// infoCmd implements subcommands.Command for "info".
type infoCmd struct {
	inodes bool
}

func (*infoCmd) Name() string     { return "info" }
func (*infoCmd) Synopsis() string { return "print the superblock and layout of a volume" }
func (*infoCmd) Usage() string    { return "info [-inodes] <volume>\n" }

func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.inodes, "inodes", false, "also list every occupied inode")
}

var regionOrder = []string{"superblock", "inode_bitmap", "data_bitmap", "inode_table", "data_region"}

func (c *infoCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := envOf(args)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	v, err := volume.OpenPath(f.Arg(0))
	if err != nil {
		return fail(e, "%v", err)
	}
	defer v.Close()

	sb := v.Superblock()
	usedBlocks, usedInodes := v.Usage()
	w := tabwriter.NewWriter(e.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "version\t%d\n", sb.Version)
	fmt.Fprintf(w, "block_size\t%d\n", sb.BlockSize)
	fmt.Fprintf(w, "total_blocks\t%d (%d used)\n", sb.TotalBlocks, usedBlocks)
	fmt.Fprintf(w, "total_inodes\t%d (%d used)\n", sb.TotalInodes, usedInodes)
	fmt.Fprintf(w, "root_inode\t%d\n", sb.RootInode)
	regions := sb.Regions()
	for _, name := range regionOrder {
		r := regions[name]
		fmt.Fprintf(w, "%s\t[%d, %d)\n", name, r.Start, r.End())
	}
	fmt.Fprintf(w, "used blocks\t%v\n", fsck.UsedBlocks(sb))
	w.Flush()

	if c.inodes {
		v.Inodes(func(ip *inode.Inode) {
			if !ip.Free {
				fmt.Fprintf(e.stdout, "%v\n", ip)
			}
		})
	}
	return subcommands.ExitSuccess
}

// lsCmd implements subcommands.Command for "ls".
type lsCmd struct {
	long bool
}

func (*lsCmd) Name() string     { return "ls" }
func (*lsCmd) Synopsis() string { return "list a directory of a volume" }
func (*lsCmd) Usage() string    { return "ls [-l] <volume> [path]\n" }

func (c *lsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.long, "l", false, "long listing with inode, mode and size")
}

func (c *lsCmd) print(w *tabwriter.Writer, fi fs.FileInfo) {
	if !c.long {
		fmt.Fprintf(w, "%s\n", fi.Name())
		return
	}
	ip := fi.Sys().(*inode.Inode)
	fmt.Fprintf(w, "%d\t%v\t%d\t%d:%d\t%d\t%s\n", ip.Inum, fi.Mode(), ip.Links, ip.Uid, ip.Gid, fi.Size(), fi.Name())
}

func (c *lsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := envOf(args)
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	v, err := volume.OpenPath(f.Arg(0))
	if err != nil {
		return fail(e, "%v", err)
	}
	defer v.Close()

	fsys := v.FS()
	name := fsName(f.Arg(1))
	fi, err := fs.Stat(fsys, name)
	if err != nil {
		return fail(e, "%v", err)
	}
	w := tabwriter.NewWriter(e.stdout, 0, 8, 1, ' ', 0)
	defer w.Flush()
	if !fi.IsDir() {
		c.print(w, fi)
		return subcommands.ExitSuccess
	}
	ents, err := fs.ReadDir(fsys, name)
	if err != nil {
		return fail(e, "%v", err)
	}
	for _, de := range ents {
		info, err := de.Info()
		if err != nil {
			return fail(e, "%v", err)
		}
		c.print(w, info)
	}
	return subcommands.ExitSuccess
}

// catCmd implements subcommands.Command for "cat".
type catCmd struct{}

func (*catCmd) Name() string           { return "cat" }
func (*catCmd) Synopsis() string       { return "print a file of a volume" }
func (*catCmd) Usage() string          { return "cat <volume> <path>\n" }
func (*catCmd) SetFlags(*flag.FlagSet) {}

func (*catCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := envOf(args)
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	v, err := volume.OpenPath(f.Arg(0))
	if err != nil {
		return fail(e, "%v", err)
	}
	defer v.Close()
	data, err := fs.ReadFile(v.FS(), fsName(f.Arg(1)))
	if err != nil {
		return fail(e, "%v", err)
	}
	e.stdout.Write(data)
	return subcommands.ExitSuccess
}

// packCmd implements subcommands.Command for "pack".
type packCmd struct{}

func (*packCmd) Name() string     { return "pack" }
func (*packCmd) Synopsis() string { return "copy a folder volume into a single image file" }
func (*packCmd) Usage() string {
	return "pack <folder> <image>\n\tThe image must not exist.\n"
}
func (*packCmd) SetFlags(*flag.FlagSet) {}

func (*packCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	e := envOf(args)
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := pack(f.Arg(0), f.Arg(1)); err != nil {
		return fail(e, "pack: %v", err)
	}
	return subcommands.ExitSuccess
}

// pack copies the blocks of the volume at src into a new image at dst,
// superblock last.
func pack(src string, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, fs.ErrExist)
	}
	v, err := volume.OpenPath(src)
	if err != nil {
		return err
	}
	defer v.Close()
	sb := v.Superblock()
	n := uint64(sb.TotalBlocks)
	out, err := disk.CreateImage(dst, uint64(sb.BlockSize), n)
	if err != nil {
		return err
	}
	for i := uint64(1); i <= n; i++ {
		// 1, 2, ..., n-1, then 0
		bn := common.Bnum(i % n)
		blk, err := v.ReadBlock(bn)
		if err == nil {
			err = out.Write(bn, blk)
		}
		if err != nil {
			out.Close()
			os.Remove(dst)
			return err
		}
	}
	if err := out.Barrier(); err != nil {
		out.Close()
		return err
	}
	util.DPrintf(1, "pack: %s -> %s, %d blocks\n", src, dst, n)
	return out.Close()
}
