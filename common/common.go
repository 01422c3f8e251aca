package common

import (
	"errors"
	"fmt"
	"io/fs"
)

// On-disk format constants. All sizes are in bytes unless noted.
const (
	MAGIC   = "QRFS"
	VERSION = uint32(1)

	SUPERSZ  uint64 = 308 // minimum size of a valid superblock
	BITMAPSZ uint64 = 128 // markers per bitmap

	INODESZ uint64 = 128 // on-disk size
	NDIRECT uint64 = 12

	DIRENTSZ   uint64 = 260
	DIRNAMESZ  uint64 = 256
	ROOTDIRSZ  uint64 = 2 * DIRENTSZ
	MINBLKSZ   uint64 = 512
	MAXBLKSZ   uint64 = 65536
	MAXBLOCKS  uint64 = BITMAPSZ
	MAXINODES  uint64 = BITMAPSZ
	BLOCKNAMEF        = "block_%04d.png"
)

// Mode bits.
const (
	S_IFMT  uint32 = 0o170000
	S_IFDIR uint32 = 0o040000
	S_IFREG uint32 = 0o100000
	PERMMSK uint32 = 0o777
)

type Inum = uint32
type Bnum = uint32

const (
	ROOTINUM Inum = 0
	NULLBNUM Bnum = 0
)

var (
	// ErrFormat is the root of all format errors: structurally impossible
	// input or a capacity the format cannot describe.
	ErrFormat       = errors.New("qrfs: format error")
	ErrTooSmall     = fmt.Errorf("%w: superblock too small", ErrFormat)
	ErrBadMagic     = fmt.Errorf("%w: bad magic", ErrFormat)
	ErrCapacity     = fmt.Errorf("%w: capacity out of range", ErrFormat)
	ErrNoDataRegion = fmt.Errorf("%w: no room for data region", ErrFormat)
	ErrCorrupt      = fmt.Errorf("%w: corrupt layout", ErrFormat)

	ErrIO       = errors.New("qrfs: i/o error")
	ErrNotFound = fmt.Errorf("qrfs: %w", fs.ErrNotExist)
	ErrNotDir   = errors.New("qrfs: not a directory")
	ErrIsDir    = errors.New("qrfs: is a directory")
)

// BlockName is the file name of block bn inside a folder volume.
func BlockName(bn Bnum) string {
	return fmt.Sprintf(BLOCKNAMEF, bn)
}
