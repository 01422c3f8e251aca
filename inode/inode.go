// Package inode decodes the fixed-size inode records of the inode table.
package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-qrfs/common"
)

// Inode is one 128-byte record of the inode table. Fields are stored as
// little-endian u32s in declaration order, Free excepted.
type Inode struct {
	Inum      common.Inum
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Links     uint32
	Size      uint32
	Direct    [common.NDIRECT]common.Bnum
	Indirect1 common.Bnum

	// Free marks a slot decoded from an all-zero record. Its Inum is the
	// slot's position and every other field is zero.
	Free bool
}

// MkFree returns the free-slot sentinel for position inum.
func MkFree(inum common.Inum) *Inode {
	return &Inode{Inum: inum, Free: true}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Decode decodes the record at table position pos. Input shorter than a
// record is zero padded, so Decode never fails.
func Decode(b []byte, pos common.Inum) *Inode {
	rec := make([]byte, common.INODESZ)
	copy(rec, b)
	if isZero(rec) {
		return MkFree(pos)
	}
	dec := marshal.NewDec(rec)
	ip := &Inode{}
	ip.Inum = common.Inum(dec.GetInt32())
	ip.Mode = dec.GetInt32()
	ip.Uid = dec.GetInt32()
	ip.Gid = dec.GetInt32()
	ip.Links = dec.GetInt32()
	ip.Size = dec.GetInt32()
	for i := range ip.Direct {
		ip.Direct[i] = common.Bnum(dec.GetInt32())
	}
	ip.Indirect1 = common.Bnum(dec.GetInt32())
	return ip
}

// Encode is the inverse of Decode. A free slot encodes as the all-zero
// record.
func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	if ip.Free {
		return enc.Finish()
	}
	enc.PutInt32(uint32(ip.Inum))
	enc.PutInt32(ip.Mode)
	enc.PutInt32(ip.Uid)
	enc.PutInt32(ip.Gid)
	enc.PutInt32(ip.Links)
	enc.PutInt32(ip.Size)
	for _, bn := range ip.Direct {
		enc.PutInt32(uint32(bn))
	}
	enc.PutInt32(uint32(ip.Indirect1))
	return enc.Finish()
}

func (ip *Inode) IsDir() bool {
	return ip.Mode&common.S_IFMT == common.S_IFDIR
}

func (ip *Inode) Perm() uint32 {
	return ip.Mode & common.PERMMSK
}

// NBlocks is the number of direct pointers before the first zero one.
func (ip *Inode) NBlocks() uint64 {
	for i, bn := range ip.Direct {
		if bn == common.NULLBNUM {
			return uint64(i)
		}
	}
	return common.NDIRECT
}

func (ip *Inode) String() string {
	if ip.Free {
		return fmt.Sprintf("# %d: free", ip.Inum)
	}
	return fmt.Sprintf("# %d: mode %o links %d size %d direct %v",
		ip.Inum, ip.Mode, ip.Links, ip.Size, ip.Direct[:ip.NBlocks()])
}
