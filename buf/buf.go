// buf manages sub-block disk objects, to be packed into disk blocks
package buf

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/util"
)

// A Buf is a disk object (an inode record, a bitmap, a directory entry, or a
// whole block) located at a byte offset inside one block.
type Buf struct {
	Addr addr.Addr
	Sz   uint64 // number of bytes
	Data []byte
}

func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	b := &Buf{
		Addr: addr,
		Sz:   sz,
		Data: data,
	}
	return b
}

func fits(a addr.Addr, sz uint64, blk disk.Block) error {
	if util.SumOverflows(a.Off, sz) || a.Off+sz > uint64(len(blk)) {
		return fmt.Errorf("%w: object %v of %d bytes overruns %d-byte block",
			common.ErrCorrupt, a, sz, len(blk))
	}
	return nil
}

// Load the bytes of a disk block into a new buf, as specified by addr. The
// buf aliases blk.
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) (*Buf, error) {
	if err := fits(addr, sz, blk); err != nil {
		return nil, err
	}
	b := &Buf{
		Addr: addr,
		Sz:   sz,
		Data: blk[addr.Off : addr.Off+sz],
	}
	return b, nil
}

// Install the bytes from buf into blk
func (buf *Buf) Install(blk disk.Block) error {
	util.DPrintf(15, "%v: install %d bytes\n", buf.Addr, buf.Sz)
	if err := fits(buf.Addr, buf.Sz, blk); err != nil {
		return err
	}
	if uint64(len(buf.Data)) < buf.Sz {
		return fmt.Errorf("install %v: have %d bytes, want %d", buf.Addr, len(buf.Data), buf.Sz)
	}
	copy(blk[buf.Addr.Off:buf.Addr.Off+buf.Sz], buf.Data)
	util.DPrintf(20, "install -> %v\n", blk)
	return nil
}

// WriteDirect writes buf to its block without any staging: whole-block bufs
// overwrite the block, smaller ones are installed into the current contents.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	if buf.Addr.Off == 0 && buf.Sz == d.BlockSize() {
		return d.Write(buf.Addr.Blkno, buf.Data)
	}
	blk, err := d.Read(buf.Addr.Blkno)
	if err != nil {
		return err
	}
	if err := buf.Install(blk); err != nil {
		return err
	}
	return d.Write(buf.Addr.Blkno, blk)
}

// Uint32Get decodes the little-endian u32 at byte off of the object.
func (buf *Buf) Uint32Get(off uint64) uint32 {
	dec := marshal.NewDec(buf.Data[off : off+4])
	return dec.GetInt32()
}

func (buf *Buf) Uint32Put(off uint64, v uint32) {
	enc := marshal.NewEnc(4)
	enc.PutInt32(v)
	copy(buf.Data[off:off+4], enc.Finish())
}

func (buf *Buf) BnumGet(off uint64) common.Bnum {
	return common.Bnum(buf.Uint32Get(off))
}

func (buf *Buf) BnumPut(off uint64, v common.Bnum) {
	buf.Uint32Put(off, uint32(v))
}
