package addr

import (
	"github.com/mit-pdos/go-qrfs/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a byte offset). The size of the
// object is determined by the context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bytes
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkStreamAddr locates byte n of a region that starts at block start and
// continues across block boundaries.
func MkStreamAddr(start common.Bnum, blockSize uint64, n uint64) Addr {
	return MkAddr(start+common.Bnum(n/blockSize), n%blockSize)
}

// MkInodeAddr locates the record of inode inum in an inode table starting at
// block start. Records are packed back to back, so a record may straddle two
// blocks when the block size is not a multiple of the record size.
func MkInodeAddr(start common.Bnum, blockSize uint64, inum common.Inum) Addr {
	return MkStreamAddr(start, blockSize, uint64(inum)*common.INODESZ)
}

// MkDirentAddr locates directory entry slot i in directory block blkno.
func MkDirentAddr(blkno common.Bnum, i uint64) Addr {
	return MkAddr(blkno, i*common.DIRENTSZ)
}
