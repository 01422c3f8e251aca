// Package volume serves read-only queries against a mounted QRFS volume:
// attributes, name lookup, directory listing and file reads.
//
// A Volume decodes the superblock and the inode table once, at Mount, and
// never modifies them. Directory and file blocks are read from the disk on
// every call, so a Volume may be used from any number of goroutines.
package volume

import (
	"fmt"
	"path"
	"strings"

	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/super"
	"github.com/mit-pdos/go-qrfs/util"
)

type Volume struct {
	d     disk.Disk
	sb    *super.Superblock
	table *inode.Table

	release func() // drops the volume lock, if any
}

// Mount decodes and validates the superblock in block 0 of d and loads the
// inode table.
func Mount(d disk.Disk) (*Volume, error) {
	if d.BlockSize() < common.SUPERSZ {
		return nil, fmt.Errorf("mount: %w: %d-byte blocks cannot hold a superblock",
			common.ErrTooSmall, d.BlockSize())
	}
	blk, err := d.Read(0)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	sb, err := super.Decode(blk)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if err := sb.Validate(); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if uint64(sb.BlockSize) != d.BlockSize() {
		return nil, fmt.Errorf("mount: %w: superblock block size %d, disk block size %d",
			common.ErrCorrupt, sb.BlockSize, d.BlockSize())
	}
	if uint64(sb.TotalBlocks) > d.Size() {
		util.DPrintf(1, "mount: volume claims %d blocks, disk has %d\n", sb.TotalBlocks, d.Size())
	}
	table, err := inode.Load(d, sb)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	root, err := table.Get(sb.RootInode)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("mount: %w: root inode %d is not a directory (mode %o)",
			common.ErrCorrupt, sb.RootInode, root.Mode)
	}
	util.DPrintf(1, "mount: %d blocks of %d bytes, %d inodes, root %d\n",
		sb.TotalBlocks, sb.BlockSize, sb.TotalInodes, sb.RootInode)
	return &Volume{d: d, sb: sb, table: table}, nil
}

// Superblock returns the decoded superblock. Callers must not modify it.
func (v *Volume) Superblock() *super.Superblock {
	return v.sb
}

func (v *Volume) Root() common.Inum {
	return v.sb.RootInode
}

// Close closes the underlying disk and releases the volume lock.
func (v *Volume) Close() error {
	err := v.d.Close()
	if v.release != nil {
		v.release()
		v.release = nil
	}
	return err
}

// Attributes returns the inode table record for inum. Free slots are
// returned as well, with mode 0.
func (v *Volume) Attributes(inum common.Inum) (*inode.Inode, error) {
	return v.table.Get(inum)
}

// Inodes calls f on every inode table slot.
func (v *Volume) Inodes(f func(*inode.Inode)) {
	v.table.Apply(f)
}

func (v *Volume) readBlock(bn common.Bnum) (disk.Block, error) {
	if uint64(bn) >= uint64(v.sb.TotalBlocks) {
		return nil, &disk.IOError{Op: "read", Blkno: bn,
			Err: fmt.Errorf("past end of volume (%d blocks)", v.sb.TotalBlocks)}
	}
	return v.d.Read(bn)
}

// ReadBlock reads block bn of the volume.
func (v *Volume) ReadBlock(bn common.Bnum) (disk.Block, error) {
	return v.readBlock(bn)
}

// ReadRange returns the bytes of ip in [off, off+n) clipped to ip.Size. Only
// direct blocks are read; a zero pointer ends the read early.
func (v *Volume) ReadRange(ip *inode.Inode, off uint64, n uint64) ([]byte, error) {
	size := uint64(ip.Size)
	if off >= size {
		return []byte{}, nil
	}
	want := util.Min(n, size-off)
	data := make([]byte, 0, want)
	bs := uint64(v.sb.BlockSize)
	// a.Blkno is the logical block within the file and a.Off the byte in it
	a := addr.MkStreamAddr(0, bs, off)
	for i := uint64(a.Blkno); i < common.NDIRECT && uint64(len(data)) < want; i++ {
		bn := ip.Direct[i]
		if bn == common.NULLBNUM {
			util.DPrintf(5, "ReadRange %d: hole at block %d, size %d\n", ip.Inum, i, size)
			break
		}
		blk, err := v.readBlock(bn)
		if err != nil {
			return nil, err
		}
		m := util.Min(bs-a.Off, want-uint64(len(data)))
		data = append(data, blk[a.Off:a.Off+m]...)
		a.Off = 0
	}
	util.DPrintf(10, "ReadRange %d: [%d, +%d) -> %d bytes\n", ip.Inum, off, n, len(data))
	return data, nil
}

// Read reads a range of file inum.
func (v *Volume) Read(inum common.Inum, off uint64, n uint64) ([]byte, error) {
	ip, err := v.Attributes(inum)
	if err != nil {
		return nil, err
	}
	if ip.IsDir() {
		return nil, fmt.Errorf("read inode %d: %w", inum, common.ErrIsDir)
	}
	return v.ReadRange(ip, off, n)
}

// dirBlock returns the single block of directory ip, or nil if it has none.
func (v *Volume) dirBlock(ip *inode.Inode) (disk.Block, error) {
	bn := ip.Direct[0]
	if bn == common.NULLBNUM {
		return nil, nil
	}
	return v.readBlock(bn)
}

// LookupChild returns the inode number of the first entry of parent named
// name. A parent that is not a directory has no children.
func (v *Volume) LookupChild(parent *inode.Inode, name string) (common.Inum, error) {
	if !parent.IsDir() {
		return 0, fmt.Errorf("lookup %q in inode %d: %w", name, parent.Inum, common.ErrNotFound)
	}
	blk, err := v.dirBlock(parent)
	if err != nil {
		return 0, err
	}
	e, ok := dir.Lookup(blk, name)
	if !ok {
		return 0, fmt.Errorf("lookup %q in inode %d: %w", name, parent.Inum, common.ErrNotFound)
	}
	return e.Inum, nil
}

// Lookup is LookupChild by parent inode number.
func (v *Volume) Lookup(parent common.Inum, name string) (common.Inum, error) {
	ip, err := v.Attributes(parent)
	if err != nil {
		return 0, err
	}
	return v.LookupChild(ip, name)
}

// ListDirectory returns the entries of directory inum, "." and ".."
// included, in slot order.
func (v *Volume) ListDirectory(inum common.Inum) ([]dir.DirEnt, error) {
	ip, err := v.Attributes(inum)
	if err != nil {
		return nil, err
	}
	if !ip.IsDir() {
		return nil, fmt.Errorf("list inode %d: %w", inum, common.ErrNotDir)
	}
	blk, err := v.dirBlock(ip)
	if err != nil {
		return nil, err
	}
	return dir.Decode(blk), nil
}

// ResolvePath walks a slash-separated path from the root. Empty components
// are ignored, so "" and "/" name the root.
func (v *Volume) ResolvePath(p string) (common.Inum, error) {
	inum := v.sb.RootInode
	for _, name := range strings.Split(p, "/") {
		if name == "" {
			continue
		}
		ip, err := v.Attributes(inum)
		if err != nil {
			return 0, err
		}
		if !ip.IsDir() {
			return 0, fmt.Errorf("resolve %s: %w", path.Clean("/"+p), common.ErrNotDir)
		}
		inum, err = v.LookupChild(ip, name)
		if err != nil {
			return 0, err
		}
	}
	return inum, nil
}

// Usage counts occupied blocks and inodes from the superblock bitmaps.
func (v *Volume) Usage() (usedBlocks uint64, usedInodes uint64) {
	usedBlocks = v.sb.DataAlloc().NumUsed(uint64(v.sb.TotalBlocks))
	usedInodes = v.sb.InodeAlloc().NumUsed(uint64(v.sb.TotalInodes))
	return
}

// Free counts the free markers of both bitmaps within the volume's totals.
func (v *Volume) Free() (freeBlocks uint64, freeInodes uint64) {
	freeBlocks = v.sb.DataAlloc().NumFree(uint64(v.sb.TotalBlocks))
	freeInodes = v.sb.InodeAlloc().NumFree(uint64(v.sb.TotalInodes))
	return
}
