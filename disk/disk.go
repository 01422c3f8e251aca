package disk

import (
	"fmt"

	"github.com/mit-pdos/go-qrfs/common"
)

// Block is a block-sized buffer
type Block = []byte

// Disk provides access to a logical block-based disk whose block size is
// fixed when the disk is created or opened.
type Disk interface {
	// Read reads a disk block by address
	//
	// Fails with an *IOError if a >= Size() or the block cannot be read in
	// full.
	Read(a common.Bnum) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	ReadTo(a common.Bnum, b Block) error

	// Write updates a disk block by address
	Write(a common.Bnum, v Block) error

	// Size reports how big the disk is, in blocks
	Size() uint64

	// BlockSize reports the size of every block, in bytes
	BlockSize() uint64

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

// IOError records a failed block operation.
type IOError struct {
	Op    string
	Blkno common.Bnum
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Blkno, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == common.ErrIO }

func ioErr(op string, a common.Bnum, err error) error {
	return &IOError{Op: op, Blkno: a, Err: err}
}

func checkBounds(op string, a common.Bnum, size uint64) error {
	if uint64(a) >= size {
		return ioErr(op, a, fmt.Errorf("out-of-bounds (disk has %d blocks)", size))
	}
	return nil
}

func checkLen(op string, a common.Bnum, b Block, bsz uint64) error {
	if uint64(len(b)) != bsz {
		return ioErr(op, a, fmt.Errorf("buffer is not block-sized (%d bytes, want %d)", len(b), bsz))
	}
	return nil
}
