// Package mkfs plans and writes a fresh QRFS volume: the superblock, both
// occupancy bitmaps, the inode table and an empty root directory.
package mkfs

import (
	"fmt"
	"io"

	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/alloc"
	"github.com/mit-pdos/go-qrfs/buf"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/super"
	"github.com/mit-pdos/go-qrfs/util"
)

const (
	DefaultBlocks    uint64 = 100
	DefaultInodes    uint64 = 10
	DefaultBlockSize uint64 = 1024

	RootMode = common.S_IFDIR | 0755
)

// Params is the requested capacity of a volume.
type Params struct {
	Blocks    uint64
	Inodes    uint64
	BlockSize uint64
}

func DefaultParams() Params {
	return Params{Blocks: DefaultBlocks, Inodes: DefaultInodes, BlockSize: DefaultBlockSize}
}

// Validate rejects capacities the format cannot describe.
func (p Params) Validate() error {
	if p.Blocks > common.MAXBLOCKS {
		return fmt.Errorf("%w: %d blocks (at most %d)", common.ErrCapacity, p.Blocks, common.MAXBLOCKS)
	}
	if p.Inodes > common.MAXINODES {
		return fmt.Errorf("%w: %d inodes (at most %d)", common.ErrCapacity, p.Inodes, common.MAXINODES)
	}
	if p.Inodes == 0 {
		return fmt.Errorf("%w: no inodes", common.ErrCapacity)
	}
	if p.BlockSize < common.MINBLKSZ || p.BlockSize > common.MAXBLKSZ {
		return fmt.Errorf("%w: block size %d outside [%d, %d]",
			common.ErrCapacity, p.BlockSize, common.MINBLKSZ, common.MAXBLKSZ)
	}
	return nil
}

// Layout is a planned volume: its superblock and the root objects to write.
type Layout struct {
	Params
	Super        *super.Superblock
	RootDirBlock common.Bnum
	Root         *inode.Inode
}

// Plan lays out regions in order after the superblock: one inode bitmap
// block, one data bitmap block, the inode table, then the data region. The
// first data block holds the root directory.
func Plan(p Params) (*Layout, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	bs := p.BlockSize
	sb := &super.Superblock{
		Version:           common.VERSION,
		BlockSize:         uint32(bs),
		TotalBlocks:       uint32(p.Blocks),
		TotalInodes:       uint32(p.Inodes),
		InodeBitmapStart:  1,
		InodeBitmapBlocks: 1,
	}
	sb.DataBitmapStart = sb.InodeBitmapStart + sb.InodeBitmapBlocks
	sb.DataBitmapBlocks = 1
	sb.InodeTableStart = sb.DataBitmapStart + sb.DataBitmapBlocks
	sb.InodeTableBlocks = uint32(super.InodeTableBlocksNeeded(p.Inodes, bs))
	sb.DataRegionStart = sb.InodeTableStart + sb.InodeTableBlocks
	if uint64(sb.DataRegionStart) >= p.Blocks {
		return nil, fmt.Errorf("%w: metadata needs %d blocks, volume has %d",
			common.ErrNoDataRegion, sb.DataRegionStart, p.Blocks)
	}

	ialloc := alloc.MkAlloc()
	rootInum, ok := ialloc.AllocNum(p.Inodes)
	if !ok {
		return nil, fmt.Errorf("%w: no inode for the root", common.ErrCapacity)
	}
	sb.RootInode = common.Inum(rootInum)

	dalloc := alloc.MkAlloc()
	dalloc.MarkUsed(0)
	for _, r := range []super.Region{sb.InodeBitmapRegion(), sb.DataBitmapRegion(), sb.InodeTableRegion()} {
		dalloc.MarkRange(uint64(r.Start), uint64(r.Blocks))
	}
	rootBlk, ok := dalloc.AllocFrom(uint64(sb.DataRegionStart), p.Blocks)
	if !ok {
		return nil, fmt.Errorf("%w: no block for the root directory", common.ErrNoDataRegion)
	}
	copy(sb.InodeBitmap[:], ialloc.Bytes())
	copy(sb.DataBitmap[:], dalloc.Bytes())

	root := &inode.Inode{
		Inum:  sb.RootInode,
		Mode:  RootMode,
		Links: 2,
		Size:  uint32(common.ROOTDIRSZ),
	}
	root.Direct[0] = common.Bnum(rootBlk)

	util.DPrintf(1, "Plan: %+v data region at %d, root dir block %d\n", p, sb.DataRegionStart, rootBlk)
	return &Layout{Params: p, Super: sb, RootDirBlock: common.Bnum(rootBlk), Root: root}, nil
}

// Options control how Format writes.
type Options struct {
	// Sync issues a barrier before and after the superblock write.
	Sync bool
}

func (l *Layout) bufs() (*buf.BufMap, error) {
	sb := l.Super
	bs := l.BlockSize
	bmap := buf.MkBufMap()
	bmap.Insert(buf.MkBuf(addr.MkAddr(sb.InodeBitmapStart, 0), common.BITMAPSZ,
		util.CloneByteSlice(sb.InodeBitmap[:])))
	bmap.Insert(buf.MkBuf(addr.MkAddr(sb.DataBitmapStart, 0), common.BITMAPSZ,
		util.CloneByteSlice(sb.DataBitmap[:])))
	bmap.Insert(buf.MkBuf(addr.MkInodeAddr(sb.InodeTableStart, bs, l.Root.Inum),
		common.INODESZ, l.Root.Encode()))
	dirblk, err := dir.MkRootBlock(bs, sb.RootInode)
	if err != nil {
		return nil, err
	}
	bmap.Insert(buf.MkBuf(addr.MkAddr(l.RootDirBlock, 0), bs, dirblk))
	bmap.Insert(buf.MkBuf(addr.MkAddr(0, 0), bs, sb.Encode()))
	return bmap, nil
}

// Format writes the planned volume to d, which must hold at least l.Blocks
// zeroed blocks of l.BlockSize bytes. Blocks are written in order: inode
// bitmap, data bitmap, the inode-table block holding the root record, the
// root directory, and the superblock last.
func Format(d disk.Disk, l *Layout, opts Options) error {
	if d.BlockSize() != l.BlockSize {
		return fmt.Errorf("format: disk block size %d, want %d", d.BlockSize(), l.BlockSize)
	}
	if d.Size() < l.Blocks {
		return fmt.Errorf("format: disk has %d blocks, want %d", d.Size(), l.Blocks)
	}
	bmap, err := l.bufs()
	if err != nil {
		return err
	}
	sb := l.Super
	rootAddr := addr.MkInodeAddr(sb.InodeTableStart, l.BlockSize, l.Root.Inum)
	for _, bn := range []common.Bnum{sb.InodeBitmapStart, sb.DataBitmapStart, rootAddr.Blkno, l.RootDirBlock} {
		if err := bmap.WriteBlock(d, bn); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	if opts.Sync {
		if err := d.Barrier(); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	if err := bmap.WriteBlock(d, 0); err != nil {
		return fmt.Errorf("format: superblock: %w", err)
	}
	if opts.Sync {
		if err := d.Barrier(); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	util.DPrintf(1, "Format: done, %d objects unwritten\n", len(bmap.Bufs()))
	return nil
}

// Report prints the layout summary shown after formatting.
func (l *Layout) Report(w io.Writer, where string) {
	sb := l.Super
	fmt.Fprintf(w, "QRFS created in '%s'\n", where)
	fmt.Fprintf(w, "block_size=%d, total_blocks=%d, total_inodes=%d\n", sb.BlockSize, sb.TotalBlocks, sb.TotalInodes)
	fmt.Fprintf(w, "Layout:\n")
	fmt.Fprintf(w, "  SB               : block 0\n")
	fmt.Fprintf(w, "  inode_bitmap     : start=%d, blocks=%d\n", sb.InodeBitmapStart, sb.InodeBitmapBlocks)
	fmt.Fprintf(w, "  data_bitmap      : start=%d, blocks=%d\n", sb.DataBitmapStart, sb.DataBitmapBlocks)
	fmt.Fprintf(w, "  inode_table      : start=%d, blocks=%d (record_size=%d)\n", sb.InodeTableStart, sb.InodeTableBlocks, common.INODESZ)
	fmt.Fprintf(w, "  data_region_start: %d\n", sb.DataRegionStart)
	fmt.Fprintf(w, "  root inode       : %d  (direct[0]=%d, size=%d)\n", sb.RootInode, l.RootDirBlock, l.Root.Size)
}
