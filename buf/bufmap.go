package buf

import (
	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/util"
)

//
// A map from Addr's to bufs.
//

type BufMap struct {
	addrs *AddrMap
}

func MkBufMap() *BufMap {
	a := &BufMap{
		addrs: MkAddrMap(),
	}
	return a
}

func (bmap *BufMap) Insert(buf *Buf) {
	bmap.addrs.Insert(buf.Addr, buf)
}

func (bmap *BufMap) Del(a addr.Addr) bool {
	return bmap.addrs.Del(a)
}

func (bmap *BufMap) Bufs() []*Buf {
	bufs := make([]*Buf, 0)
	bmap.addrs.Apply(func(a addr.Addr, e interface{}) {
		b := e.(*Buf)
		bufs = append(bufs, b)
	})
	return bufs
}

// BlockBufs returns the bufs that live in block blkno, in insertion order.
func (bmap *BufMap) BlockBufs(blkno common.Bnum) []*Buf {
	bufs := make([]*Buf, 0)
	bmap.addrs.ApplyBlock(blkno, func(a addr.Addr, e interface{}) {
		bufs = append(bufs, e.(*Buf))
	})
	return bufs
}

// WriteBlock assembles block blkno from a zeroed block and every buf mapped
// to it, writes it to d, and forgets those bufs.
func (bmap *BufMap) WriteBlock(d disk.Disk, blkno common.Bnum) error {
	blk := make(disk.Block, d.BlockSize())
	bufs := bmap.BlockBufs(blkno)
	for _, b := range bufs {
		if err := b.Install(blk); err != nil {
			return err
		}
	}
	if err := d.Write(blkno, blk); err != nil {
		return err
	}
	for _, b := range bufs {
		bmap.Del(b.Addr)
	}
	util.DPrintf(5, "WriteBlock %d: %d objects\n", blkno, len(bufs))
	return nil
}
