package disk

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/util"
)

var _ Disk = (*imageDisk)(nil)

// imageDisk stores all blocks back to back in one file.
type imageDisk struct {
	fd        int
	blockSize uint64
	numBlocks uint64
}

// CreateImage creates (or truncates) an image file holding numBlocks zeroed
// blocks.
func CreateImage(path string, blockSize uint64, numBlocks uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("create image %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(numBlocks*blockSize)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size image %s: %w", path, err)
	}
	return &imageDisk{fd: fd, blockSize: blockSize, numBlocks: numBlocks}, nil
}

// OpenImage opens an existing image file. The number of blocks is derived
// from the file size; a trailing partial block is ignored.
func OpenImage(path string, blockSize uint64, readOnly bool) (Disk, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("open image %s: zero block size", path)
	}
	flags := unix.O_RDWR
	if readOnly {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat image %s: %w", path, err)
	}
	return &imageDisk{fd: fd, blockSize: blockSize, numBlocks: uint64(stat.Size) / blockSize}, nil
}

func (d *imageDisk) ReadTo(a common.Bnum, buf Block) error {
	if err := checkLen("read", a, buf, d.blockSize); err != nil {
		return err
	}
	if err := checkBounds("read", a, d.numBlocks); err != nil {
		return err
	}
	n, err := unix.Pread(d.fd, buf, int64(uint64(a)*d.blockSize))
	if err != nil {
		return ioErr("read", a, err)
	}
	if uint64(n) != d.blockSize {
		return ioErr("read", a, io.ErrUnexpectedEOF)
	}
	util.DPrintf(10, "image read: %d\n", a)
	return nil
}

func (d *imageDisk) Read(a common.Bnum) (Block, error) {
	buf := make(Block, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *imageDisk) Write(a common.Bnum, v Block) error {
	if err := checkLen("write", a, v, d.blockSize); err != nil {
		return err
	}
	if err := checkBounds("write", a, d.numBlocks); err != nil {
		return err
	}
	n, err := unix.Pwrite(d.fd, v, int64(uint64(a)*d.blockSize))
	if err != nil {
		return ioErr("write", a, err)
	}
	if uint64(n) != d.blockSize {
		return ioErr("write", a, io.ErrShortWrite)
	}
	util.DPrintf(10, "image write: %d\n", a)
	return nil
}

func (d *imageDisk) Size() uint64 {
	return d.numBlocks
}

func (d *imageDisk) BlockSize() uint64 {
	return d.blockSize
}

func (d *imageDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is fcntl with F_FULLFSYNC.
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("image sync: %w", err)
	}
	util.DPrintf(5, "barrier\n")
	return nil
}

func (d *imageDisk) Close() error {
	return unix.Close(d.fd)
}

/////////////////////////

var _ Disk = (*memDisk)(nil)

type memDisk struct {
	l         *sync.RWMutex
	blockSize uint64
	blocks    []Block
}

func NewMemDisk(blockSize uint64, numBlocks uint64) Disk {
	blocks := make([]Block, numBlocks)
	for i := range blocks {
		blocks[i] = make(Block, blockSize)
	}
	return &memDisk{l: new(sync.RWMutex), blockSize: blockSize, blocks: blocks}
}

func (d *memDisk) ReadTo(a common.Bnum, buf Block) error {
	if err := checkLen("read", a, buf, d.blockSize); err != nil {
		return err
	}
	d.l.RLock()
	defer d.l.RUnlock()
	if err := checkBounds("read", a, uint64(len(d.blocks))); err != nil {
		return err
	}
	copy(buf, d.blocks[a])
	return nil
}

func (d *memDisk) Read(a common.Bnum) (Block, error) {
	buf := make(Block, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *memDisk) Write(a common.Bnum, v Block) error {
	if err := checkLen("write", a, v, d.blockSize); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	if err := checkBounds("write", a, uint64(len(d.blocks))); err != nil {
		return err
	}
	copy(d.blocks[a], v)
	return nil
}

func (d *memDisk) Size() uint64 {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.blocks))
}

func (d *memDisk) BlockSize() uint64 { return d.blockSize }

func (d *memDisk) Barrier() error { return nil }

func (d *memDisk) Close() error { return nil }
