// Package super encodes, decodes and validates the QRFS superblock (block 0).
package super

import (
	"fmt"

	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/alloc"
	"github.com/mit-pdos/go-qrfs/buf"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/util"
)

// Byte offsets of the superblock fields.
const (
	offMagic        = 0
	offVersion      = 4
	offBlockSize    = 8
	offTotalBlocks  = 12
	offTotalInodes  = 16
	offInodeBitmap  = 20
	offDataBitmap   = 148
	offRootInode    = 276
	offIbStart      = 280
	offIbBlocks     = 284
	offDbStart      = 288
	offDbBlocks     = 292
	offItStart      = 296
	offItBlocks     = 300
	offDataRegionSt = 304
)

// A Region is a contiguous range of blocks.
type Region struct {
	Start  common.Bnum
	Blocks uint32
}

func (r Region) End() uint64 {
	return uint64(r.Start) + uint64(r.Blocks)
}

func (r Region) Contains(bn common.Bnum) bool {
	return bn >= r.Start && uint64(bn) < r.End()
}

func (r Region) overlaps(o Region) bool {
	return uint64(r.Start) < o.End() && uint64(o.Start) < r.End()
}

// Superblock describes the layout of a volume. It is immutable once a volume
// is formatted.
type Superblock struct {
	Version     uint32
	BlockSize   uint32
	TotalBlocks uint32
	TotalInodes uint32
	InodeBitmap [common.BITMAPSZ]byte
	DataBitmap  [common.BITMAPSZ]byte
	RootInode   common.Inum

	InodeBitmapStart  common.Bnum
	InodeBitmapBlocks uint32
	DataBitmapStart   common.Bnum
	DataBitmapBlocks  uint32
	InodeTableStart   common.Bnum
	InodeTableBlocks  uint32
	DataRegionStart   common.Bnum
}

// Decode parses the first common.SUPERSZ bytes of b. It only checks size and
// magic; call Validate before trusting the layout.
func Decode(b []byte) (*Superblock, error) {
	if uint64(len(b)) < common.SUPERSZ {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", common.ErrTooSmall, len(b), common.SUPERSZ)
	}
	if string(b[offMagic:offMagic+4]) != common.MAGIC {
		return nil, fmt.Errorf("%w: %q", common.ErrBadMagic, b[offMagic:offMagic+4])
	}
	// sb aliases b; Decode never writes through it
	sb, err := buf.MkBufLoad(addr.MkAddr(0, 0), common.SUPERSZ, b)
	if err != nil {
		return nil, err
	}
	s := &Superblock{
		Version:           sb.Uint32Get(offVersion),
		BlockSize:         sb.Uint32Get(offBlockSize),
		TotalBlocks:       sb.Uint32Get(offTotalBlocks),
		TotalInodes:       sb.Uint32Get(offTotalInodes),
		RootInode:         common.Inum(sb.Uint32Get(offRootInode)),
		InodeBitmapStart:  sb.BnumGet(offIbStart),
		InodeBitmapBlocks: sb.Uint32Get(offIbBlocks),
		DataBitmapStart:   sb.BnumGet(offDbStart),
		DataBitmapBlocks:  sb.Uint32Get(offDbBlocks),
		InodeTableStart:   sb.BnumGet(offItStart),
		InodeTableBlocks:  sb.Uint32Get(offItBlocks),
		DataRegionStart:   sb.BnumGet(offDataRegionSt),
	}
	copy(s.InodeBitmap[:], b[offInodeBitmap:offInodeBitmap+common.BITMAPSZ])
	copy(s.DataBitmap[:], b[offDataBitmap:offDataBitmap+common.BITMAPSZ])
	util.DPrintf(5, "super.Decode: %+v\n", s.Regions())
	return s, nil
}

// Encode serializes s into a zeroed buffer of BlockSize bytes (never less
// than common.SUPERSZ).
func (s *Superblock) Encode() []byte {
	sz := util.Max(uint64(s.BlockSize), common.SUPERSZ)
	blk := make([]byte, sz)
	copy(blk[offMagic:], common.MAGIC)
	sb := buf.MkBuf(addr.MkAddr(0, 0), common.SUPERSZ, blk[:common.SUPERSZ])
	sb.Uint32Put(offVersion, s.Version)
	sb.Uint32Put(offBlockSize, s.BlockSize)
	sb.Uint32Put(offTotalBlocks, s.TotalBlocks)
	sb.Uint32Put(offTotalInodes, s.TotalInodes)
	copy(blk[offInodeBitmap:], s.InodeBitmap[:])
	copy(blk[offDataBitmap:], s.DataBitmap[:])
	sb.Uint32Put(offRootInode, uint32(s.RootInode))
	sb.BnumPut(offIbStart, s.InodeBitmapStart)
	sb.Uint32Put(offIbBlocks, s.InodeBitmapBlocks)
	sb.BnumPut(offDbStart, s.DataBitmapStart)
	sb.Uint32Put(offDbBlocks, s.DataBitmapBlocks)
	sb.BnumPut(offItStart, s.InodeTableStart)
	sb.Uint32Put(offItBlocks, s.InodeTableBlocks)
	sb.BnumPut(offDataRegionSt, s.DataRegionStart)
	return blk
}

func (s *Superblock) InodeBitmapRegion() Region {
	return Region{Start: s.InodeBitmapStart, Blocks: s.InodeBitmapBlocks}
}

func (s *Superblock) DataBitmapRegion() Region {
	return Region{Start: s.DataBitmapStart, Blocks: s.DataBitmapBlocks}
}

func (s *Superblock) InodeTableRegion() Region {
	return Region{Start: s.InodeTableStart, Blocks: s.InodeTableBlocks}
}

// DataRegion runs from DataRegionStart to the end of the volume. It is empty
// if DataRegionStart is past the end.
func (s *Superblock) DataRegion() Region {
	if uint64(s.TotalBlocks) > common.MAXBLOCKS {
		return corrupt("total blocks %d above %d", s.TotalBlocks, common.MAXBLOCKS)
	}
	if uint64(s.TotalInodes) > common.MAXINODES {
		return corrupt("total inodes %d above %d", s.TotalInodes, common.MAXINODES)
	}
	if s.DataRegionStart >= s.TotalBlocks {
		return Region{Start: s.DataRegionStart}
	}
	return Region{Start: s.DataRegionStart, Blocks: s.TotalBlocks - s.DataRegionStart}
}

// Regions names every region of the layout, superblock included.
func (s *Superblock) Regions() map[string]Region {
	return map[string]Region{
		"superblock":   {Start: 0, Blocks: 1},
		"inode_bitmap": s.InodeBitmapRegion(),
		"data_bitmap":  s.DataBitmapRegion(),
		"inode_table":  s.InodeTableRegion(),
		"data_region":  s.DataRegion(),
	}
}

// InodeAlloc and DataAlloc return copies of the bitmaps embedded in the
// superblock.
func (s *Superblock) InodeAlloc() *alloc.Alloc {
	return alloc.FromBytes(s.InodeBitmap[:])
}

func (s *Superblock) DataAlloc() *alloc.Alloc {
	return alloc.FromBytes(s.DataBitmap[:])
}

// InodeTableBlocksNeeded is the number of blocks holding ninodes records.
func InodeTableBlocksNeeded(ninodes uint64, blockSize uint64) uint64 {
	return util.RoundUp(ninodes*common.INODESZ, blockSize)
}

// Validate checks the layout invariants a mount relies on. Violations wrap
// common.ErrCorrupt.
func (s *Superblock) Validate() error {
	corrupt := func(format string, a ...interface{}) error {
		return fmt.Errorf("%w: %s", common.ErrCorrupt, fmt.Sprintf(format, a...))
	}
	bs := uint64(s.BlockSize)
	if bs < common.MINBLKSZ || bs > common.MAXBLKSZ {
		return corrupt("block size %d outside [%d, %d]", bs, common.MINBLKSZ, common.MAXBLKSZ)
	}
	if s.DataRegionStart >= s.TotalBlocks {
		return corrupt("data region start %d not below total blocks %d", s.DataRegionStart, s.TotalBlocks)
	}
	if s.TotalInodes == 0 || s.RootInode >= s.TotalInodes {
		return corrupt("root inode %d not below total inodes %d", s.RootInode, s.TotalInodes)
	}
	meta := []struct {
		name string
		r    Region
	}{
		{"inode_bitmap", s.InodeBitmapRegion()},
		{"data_bitmap", s.DataBitmapRegion()},
		{"inode_table", s.InodeTableRegion()},
		{"data_region", s.DataRegion()},
	}
	for _, m := range meta {
		if m.r.Blocks == 0 {
			return corrupt("%s is empty", m.name)
		}
		if m.r.Start == 0 {
			return corrupt("%s overlaps the superblock", m.name)
		}
		if m.r.End() > uint64(s.TotalBlocks) {
			return corrupt("%s [%d, %d) past end of volume (%d blocks)",
				m.name, m.r.Start, m.r.End(), s.TotalBlocks)
		}
	}
	for i := range meta {
		for j := i + 1; j < len(meta); j++ {
			if meta[i].r.overlaps(meta[j].r) {
				return corrupt("%s overlaps %s", meta[i].name, meta[j].name)
			}
		}
	}
	if InodeTableBlocksNeeded(uint64(s.TotalInodes), bs) > uint64(s.InodeTableBlocks) {
		util.DPrintf(1, "inode table holds %d blocks, %d inodes need more; missing records read as free\n",
			s.InodeTableBlocks, s.TotalInodes)
	}
	return nil
}
