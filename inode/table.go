package inode

import (
	"fmt"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/super"
	"github.com/mit-pdos/go-qrfs/util"
)

// Table is the decoded inode table. It is never modified after Load, so it
// may be shared by any number of readers.
type Table struct {
	inodes []*Inode
}

// Load reads the inode table region as one byte stream and decodes
// sb.TotalInodes records from it. Blocks past the end of the volume are not
// read; the records they would hold come back as free slots.
func Load(d disk.Disk, sb *super.Superblock) (*Table, error) {
	bs := uint64(sb.BlockSize)
	n := uint64(sb.TotalInodes)
	if n > common.MAXINODES {
		return nil, fmt.Errorf("%w: %d inodes, at most %d", common.ErrCorrupt, n, common.MAXINODES)
	}
	need := super.InodeTableBlocksNeeded(n, bs)
	end := util.Min(uint64(sb.TotalBlocks), d.Size())
	var avail uint64
	if uint64(sb.InodeTableStart) < end {
		avail = util.Min(need, end-uint64(sb.InodeTableStart))
	}
	util.DPrintf(5, "inode.Load: %d inodes, %d of %d blocks at %d\n",
		n, avail, need, sb.InodeTableStart)

	stream := make([]byte, avail*bs)
	for i := uint64(0); i < avail; i++ {
		bn := sb.InodeTableStart + common.Bnum(i)
		if err := d.ReadTo(bn, stream[i*bs:(i+1)*bs]); err != nil {
			return nil, fmt.Errorf("load inode table: %w", err)
		}
	}

	inodes := make([]*Inode, n)
	for i := uint64(0); i < n; i++ {
		off := i * common.INODESZ
		if off >= uint64(len(stream)) {
			inodes[i] = MkFree(common.Inum(i))
			continue
		}
		rec := stream[off:util.Min(off+common.INODESZ, uint64(len(stream)))]
		inodes[i] = Decode(rec, common.Inum(i))
	}
	return &Table{inodes: inodes}, nil
}

// Get returns the record at position inum.
func (t *Table) Get(inum common.Inum) (*Inode, error) {
	if uint64(inum) >= uint64(len(t.inodes)) {
		return nil, fmt.Errorf("inode %d: %w", inum, common.ErrNotFound)
	}
	return t.inodes[inum], nil
}

func (t *Table) Len() uint64 {
	return uint64(len(t.inodes))
}

// Apply calls f on every slot in position order.
func (t *Table) Apply(f func(*Inode)) {
	for _, ip := range t.inodes {
		f(ip)
	}
}
