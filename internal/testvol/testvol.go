// Package testvol builds small populated volumes for tests. It writes records
// with the same codecs the formatter uses and does no validation.
package testvol

import (
	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/alloc"
	"github.com/mit-pdos/go-qrfs/buf"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/mkfs"
)

// Builder formats a volume and then places files and directories on it.
type Builder struct {
	D      disk.Disk
	Layout *mkfs.Layout
	next   common.Bnum
	ialloc *alloc.Alloc
	dalloc *alloc.Alloc
}

// New formats d with p. d must be zeroed.
func New(d disk.Disk, p mkfs.Params) (*Builder, error) {
	l, err := mkfs.Plan(p)
	if err != nil {
		return nil, err
	}
	if err := mkfs.Format(d, l, mkfs.Options{}); err != nil {
		return nil, err
	}
	return &Builder{
		D:      d,
		Layout: l,
		next:   l.RootDirBlock + 1,
		ialloc: l.Super.InodeAlloc(),
		dalloc: l.Super.DataAlloc(),
	}, nil
}

// NewMem formats a fresh in-memory disk.
func NewMem(p mkfs.Params) (*Builder, error) {
	return New(disk.NewMemDisk(p.BlockSize, p.Blocks), p)
}

func (b *Builder) bs() uint64 {
	return b.Layout.BlockSize
}

// AllocBlock hands out the next unused data block.
func (b *Builder) AllocBlock() common.Bnum {
	bn := b.next
	b.next++
	b.dalloc.MarkUsed(uint64(bn))
	return bn
}

// PutInode writes ip into its inode table slot.
func (b *Builder) PutInode(ip *inode.Inode) error {
	a := addr.MkInodeAddr(b.Layout.Super.InodeTableStart, b.bs(), ip.Inum)
	b.ialloc.MarkUsed(uint64(ip.Inum))
	return buf.MkBuf(a, common.INODESZ, ip.Encode()).WriteDirect(b.D)
}

// PutEntry writes entry e into slot i of directory block bn.
func (b *Builder) PutEntry(bn common.Bnum, i uint64, e dir.DirEnt) error {
	blk, err := b.D.Read(bn)
	if err != nil {
		return err
	}
	if err := dir.PutEntry(blk, i, e); err != nil {
		return err
	}
	return b.D.Write(bn, blk)
}

// AddFile stores data in fresh direct blocks and writes a regular file
// inode for it. size overrides the recorded size when non-negative.
func (b *Builder) AddFile(inum common.Inum, data []byte, size int) (*inode.Inode, error) {
	ip := &inode.Inode{Inum: inum, Mode: common.S_IFREG | 0644, Links: 1, Uid: 1000, Gid: 1000}
	ip.Size = uint32(len(data))
	if size >= 0 {
		ip.Size = uint32(size)
	}
	bs := b.bs()
	for i := 0; uint64(i)*bs < uint64(len(data)) && i < int(common.NDIRECT); i++ {
		blk := make([]byte, bs)
		copy(blk, data[uint64(i)*bs:])
		bn := b.AllocBlock()
		if err := b.D.Write(bn, blk); err != nil {
			return nil, err
		}
		ip.Direct[i] = bn
	}
	return ip, b.PutInode(ip)
}

// AddDir writes a directory inode with an empty block holding "." and "..".
func (b *Builder) AddDir(inum common.Inum, parent common.Inum) (*inode.Inode, error) {
	ip := &inode.Inode{Inum: inum, Mode: common.S_IFDIR | 0750, Links: 2, Size: uint32(common.ROOTDIRSZ)}
	ip.Direct[0] = b.AllocBlock()
	blk := make([]byte, b.bs())
	if err := dir.PutEntry(blk, 0, dir.DirEnt{Inum: inum, Name: dir.Dot}); err != nil {
		return nil, err
	}
	if err := dir.PutEntry(blk, 1, dir.DirEnt{Inum: parent, Name: dir.DotDot}); err != nil {
		return nil, err
	}
	if err := b.D.Write(ip.Direct[0], blk); err != nil {
		return nil, err
	}
	return ip, b.PutInode(ip)
}

// Link adds name -> inum in slot i of the directory dirIp.
func (b *Builder) Link(dirIp *inode.Inode, i uint64, name string, inum common.Inum) error {
	return b.PutEntry(dirIp.Direct[0], i, dir.DirEnt{Inum: inum, Name: name})
}

// Finish records every inode and block handed out so far in both bitmap
// blocks and in the superblock.
func (b *Builder) Finish() error {
	sb := b.Layout.Super
	copy(sb.InodeBitmap[:], b.ialloc.Bytes())
	copy(sb.DataBitmap[:], b.dalloc.Bytes())
	bmap := buf.MkBufMap()
	bmap.Insert(buf.MkBuf(addr.MkAddr(sb.InodeBitmapStart, 0), common.BITMAPSZ, sb.InodeBitmap[:]))
	bmap.Insert(buf.MkBuf(addr.MkAddr(sb.DataBitmapStart, 0), common.BITMAPSZ, sb.DataBitmap[:]))
	bmap.Insert(buf.MkBuf(addr.MkAddr(0, 0), b.bs(), sb.Encode()))
	for _, bn := range []common.Bnum{sb.InodeBitmapStart, sb.DataBitmapStart, 0} {
		if err := bmap.WriteBlock(b.D, bn); err != nil {
			return err
		}
	}
	return nil
}
