// Package fsck checks a volume for layout and reference inconsistencies
// without modifying it.
package fsck

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-qrfs/alloc"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/super"
	"github.com/mit-pdos/go-qrfs/util"
	"github.com/mit-pdos/go-qrfs/volume"
)

// Concurrency bounds the number of blocks read at once.
var Concurrency = 8

// Report is the outcome of a check. Problems make a volume unfit to mount or
// read; warnings do not.
type Report struct {
	Super    *super.Superblock
	Root     *inode.Inode
	RootDir  []dir.DirEnt
	Problems []string
	Warnings []string
}

func (r *Report) problem(format string, a ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, a...))
}

func (r *Report) warn(format string, a ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, a...))
}

func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Check inspects d. The returned error is non-nil only when block 0 cannot be
// read or decoded; every other finding goes into the report.
func Check(d disk.Disk) (*Report, error) {
	r := &Report{}
	if d.BlockSize() < common.SUPERSZ {
		return nil, fmt.Errorf("fsck: %w", common.ErrTooSmall)
	}
	blk, err := d.Read(0)
	if err != nil {
		return nil, fmt.Errorf("fsck: %w", err)
	}
	sb, err := super.Decode(blk)
	if err != nil {
		return nil, fmt.Errorf("fsck: %w", err)
	}
	r.Super = sb
	if err := sb.Validate(); err != nil {
		r.problem("superblock: %v", err)
		return r, nil
	}
	if uint64(sb.BlockSize) != d.BlockSize() {
		r.problem("superblock block size %d, storage block size %d", sb.BlockSize, d.BlockSize())
		return r, nil
	}
	if uint64(sb.TotalBlocks) > d.Size() {
		r.problem("volume has %d blocks, storage holds %d", sb.TotalBlocks, d.Size())
	}
	if sb.Version != common.VERSION {
		r.warn("version %d, expected %d", sb.Version, common.VERSION)
	}
	if need := super.InodeTableBlocksNeeded(uint64(sb.TotalInodes), uint64(sb.BlockSize)); need > uint64(sb.InodeTableBlocks) {
		r.warn("inode table has %d blocks, %d inodes need %d", sb.InodeTableBlocks, sb.TotalInodes, need)
	}

	v, err := volume.Mount(d)
	if err != nil {
		r.problem("%v", err)
		return r, nil
	}
	root, err := v.Attributes(v.Root())
	if err != nil {
		r.problem("root inode: %v", err)
		return r, nil
	}
	r.Root = root
	if root.Links != 2 {
		r.warn("root inode links=%d (expected 2)", root.Links)
	}
	r.RootDir, err = v.ListDirectory(v.Root())
	if err != nil {
		r.problem("root directory: %v", err)
	}

	checkBitmaps(r, d, v)
	refs := checkPointers(r, v)
	checkBlocks(r, d, refs)
	checkDirectories(r, v)
	util.DPrintf(1, "fsck: %d problems, %d warnings\n", len(r.Problems), len(r.Warnings))
	return r, nil
}

// checkBitmaps compares the bitmaps embedded in the superblock with the
// bitmap blocks, with the inode table, and with the reserved regions.
func checkBitmaps(r *Report, d disk.Disk, v *volume.Volume) {
	sb := v.Superblock()
	for _, bm := range []struct {
		name  string
		start common.Bnum
		embed []byte
	}{
		{"inode bitmap", sb.InodeBitmapStart, sb.InodeBitmap[:]},
		{"data bitmap", sb.DataBitmapStart, sb.DataBitmap[:]},
	} {
		blk, err := d.Read(bm.start)
		if err != nil {
			r.problem("%s: %v", bm.name, err)
			continue
		}
		if !bytes.Equal(blk[:common.BITMAPSZ], bm.embed) {
			r.warn("%s block %d differs from the copy in the superblock", bm.name, bm.start)
		}
	}

	ialloc := sb.InodeAlloc()
	v.Inodes(func(ip *inode.Inode) {
		used := ialloc.IsUsed(uint64(ip.Inum))
		if !ip.Free && !used {
			r.problem("inode %d in use but free in the inode bitmap", ip.Inum)
		}
		if ip.Free && used {
			r.warn("inode %d marked in use but its slot is empty", ip.Inum)
		}
	})

	dalloc := sb.DataAlloc()
	regions := sb.Regions()
	for _, name := range []string{"superblock", "inode_bitmap", "data_bitmap", "inode_table"} {
		reg := regions[name]
		for bn := uint64(reg.Start); bn < reg.End(); bn++ {
			if !dalloc.IsUsed(bn) {
				r.problem("%s block %d free in the data bitmap", name, bn)
			}
		}
	}
}

// checkPointers validates the direct pointers of every occupied inode and
// returns the set of referenced blocks.
func checkPointers(r *Report, v *volume.Volume) map[common.Bnum]common.Inum {
	sb := v.Superblock()
	data := sb.DataRegion()
	dalloc := sb.DataAlloc()
	refs := make(map[common.Bnum]common.Inum)
	v.Inodes(func(ip *inode.Inode) {
		if ip.Free {
			return
		}
		if ip.Indirect1 != common.NULLBNUM {
			r.warn("inode %d has an indirect block %d, which is not read", ip.Inum, ip.Indirect1)
		}
		n := ip.NBlocks()
		for i := n; i < common.NDIRECT; i++ {
			if ip.Direct[i] != common.NULLBNUM {
				r.warn("inode %d: direct[%d]=%d after a hole is unreachable", ip.Inum, i, ip.Direct[i])
			}
		}
		if ip.IsDir() && n > 1 {
			r.warn("directory %d has %d blocks; only the first is read", ip.Inum, n)
		}
		if !ip.IsDir() && uint64(ip.Size) > n*uint64(sb.BlockSize) {
			r.warn("inode %d: size %d exceeds its %d readable blocks", ip.Inum, ip.Size, n)
		}
		for i := uint64(0); i < n; i++ {
			bn := ip.Direct[i]
			if !data.Contains(bn) {
				r.problem("inode %d: direct[%d]=%d outside the data region [%d, %d)",
					ip.Inum, i, bn, data.Start, data.End())
				continue
			}
			if !dalloc.IsUsed(uint64(bn)) {
				r.problem("inode %d: block %d free in the data bitmap", ip.Inum, bn)
			}
			if owner, ok := refs[bn]; ok {
				r.problem("block %d referenced by inodes %d and %d", bn, owner, ip.Inum)
				continue
			}
			refs[bn] = ip.Inum
		}
	})
	return refs
}

// checkBlocks reads every referenced block, Concurrency at a time.
func checkBlocks(r *Report, d disk.Disk, refs map[common.Bnum]common.Inum) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(Concurrency)
	for bn, inum := range refs {
		g.Go(func() error {
			if _, err := d.Read(bn); err != nil {
				mu.Lock()
				r.problem("inode %d: block %d unreadable: %v", inum, bn, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
}

// checkDirectories checks that every entry of every directory names an
// occupied inode.
func checkDirectories(r *Report, v *volume.Volume) {
	v.Inodes(func(ip *inode.Inode) {
		if ip.Free || !ip.IsDir() {
			return
		}
		ents, err := v.ListDirectory(ip.Inum)
		if err != nil {
			r.problem("directory %d: %v", ip.Inum, err)
			return
		}
		for _, e := range ents {
			child, err := v.Attributes(e.Inum)
			if err != nil {
				r.problem("directory %d: entry %q -> inode %d out of range", ip.Inum, e.Name, e.Inum)
				continue
			}
			if child.Free {
				r.warn("directory %d: entry %q -> free inode %d", ip.Inum, e.Name, e.Inum)
			}
		}
	})
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	if sb := r.Super; sb != nil {
		fmt.Fprintf(w, "Superblock: version=%d, blocks=%d, inodes=%d, block_size=%d\n",
			sb.Version, sb.TotalBlocks, sb.TotalInodes, sb.BlockSize)
	}
	if ip := r.Root; ip != nil {
		fmt.Fprintf(w, "Root inode: inode=%d, mode=%o, size=%d, links=%d\n", ip.Inum, ip.Mode, ip.Size, ip.Links)
		fmt.Fprintf(w, "Root directory (block %d):\n", ip.Direct[0])
		for i, e := range r.RootDir {
			fmt.Fprintf(w, "  [%d] inode=%d, name='%s'\n", i, e.Inum, e.Name)
		}
	}
	for _, s := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", s)
	}
	for _, s := range r.Problems {
		fmt.Fprintf(w, "error: %s\n", s)
	}
	if r.OK() {
		fmt.Fprintf(w, "Check complete: volume is consistent.\n")
	} else {
		fmt.Fprintf(w, "Check complete: %d problem(s) found.\n", len(r.Problems))
	}
}

// UsedBlocks lists the blocks marked in use in the data bitmap of sb.
func UsedBlocks(sb *super.Superblock) []uint64 {
	a := alloc.FromBytes(sb.DataBitmap[:])
	used := make([]uint64, 0)
	for i := uint64(0); i < uint64(sb.TotalBlocks); i++ {
		if a.IsUsed(i) {
			used = append(used, i)
		}
	}
	return used
}
