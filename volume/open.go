package volume

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/super"
	"github.com/mit-pdos/go-qrfs/util"
)

// OpenDisk opens the volume stored at path, either a folder of block files or
// a single image file. An image's block size comes from its superblock.
func OpenDisk(path string, readOnly bool) (disk.Disk, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return disk.OpenFolder(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hdr := make([]byte, common.SUPERSZ)
	if _, err := io.ReadFull(f, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("image %s: %w", path, common.ErrTooSmall)
		}
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	sb, err := super.Decode(hdr)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	if sb.BlockSize < uint32(common.SUPERSZ) {
		return nil, fmt.Errorf("image %s: %w: block size %d", path, common.ErrCorrupt, sb.BlockSize)
	}
	return disk.OpenImage(path, uint64(sb.BlockSize), readOnly)
}

// OpenPath takes a shared lock on the volume at path and mounts it. Closing
// the volume releases the lock. A lock that cannot be created (for instance
// on read-only media) is skipped; a lock held exclusively by a formatter is
// an error.
func OpenPath(path string) (*Volume, error) {
	fl, err := disk.Lock(path, false)
	if errors.Is(err, disk.ErrBusy) {
		return nil, err
	}
	if err != nil {
		util.DPrintf(1, "OpenPath %s: not locking: %v\n", path, err)
	}
	release := func() {
		if fl != nil {
			fl.Unlock()
		}
	}
	d, err := OpenDisk(path, true)
	if err != nil {
		release()
		return nil, err
	}
	v, err := Mount(d)
	if err != nil {
		d.Close()
		release()
		return nil, err
	}
	v.release = release
	return v, nil
}
