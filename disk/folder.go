package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/util"
)

var _ Disk = (*folderDisk)(nil)

// folderDisk keeps one file per block inside a directory. Every operation
// opens its own file, so concurrent readers share no state.
type folderDisk struct {
	path      string
	blockSize uint64
	numBlocks uint64

	mu    *sync.Mutex // protects dirty
	dirty map[common.Bnum]bool
}

func mkFolderDisk(path string, blockSize uint64, numBlocks uint64) *folderDisk {
	return &folderDisk{
		path:      path,
		blockSize: blockSize,
		numBlocks: numBlocks,
		mu:        new(sync.Mutex),
		dirty:     make(map[common.Bnum]bool),
	}
}

// CreateFolder creates the directory if needed and fills it with numBlocks
// zeroed block files.
func CreateFolder(path string, blockSize uint64, numBlocks uint64) (Disk, error) {
	return createFolder(path, blockSize, numBlocks)
}

func createFolder(path string, blockSize uint64, numBlocks uint64) (*folderDisk, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("prepare folder %s: %w", path, err)
	}
	d := mkFolderDisk(path, blockSize, numBlocks)
	zero := make([]byte, blockSize)
	for i := uint64(0); i < numBlocks; i++ {
		a := common.Bnum(i)
		if err := os.WriteFile(d.blockPath(a), zero, 0644); err != nil {
			return nil, ioErr("create", a, err)
		}
		d.dirty[a] = true
	}
	util.DPrintf(1, "CreateFolder: %s %d blocks of %d bytes\n", path, numBlocks, blockSize)
	return d, nil
}

// OpenFolder opens an existing folder volume. The block size is the size of
// block 0 (the superblock is padded to a full block) and the disk size is one
// past the highest block file present.
func OpenFolder(path string) (Disk, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open folder: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("open folder %s: %w", path, common.ErrNotDir)
	}
	b0, err := os.Stat(filepath.Join(path, common.BlockName(0)))
	if err != nil {
		return nil, ioErr("stat", 0, err)
	}
	ents, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("open folder: %w", err)
	}
	var n uint64
	for _, e := range ents {
		i, ok := parseBlockName(e.Name())
		if !ok {
			continue
		}
		if uint64(i)+1 > n {
			n = uint64(i) + 1
		}
	}
	return mkFolderDisk(path, uint64(b0.Size()), n), nil
}

// parseBlockName accepts only canonical names, so block_1.png and
// block_00001.png are not block 1.
func parseBlockName(name string) (common.Bnum, bool) {
	if !strings.HasPrefix(name, "block_") || !strings.HasSuffix(name, ".png") {
		return 0, false
	}
	num := strings.TrimSuffix(strings.TrimPrefix(name, "block_"), ".png")
	i, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, false
	}
	bn := common.Bnum(i)
	if common.BlockName(bn) != name {
		return 0, false
	}
	return bn, true
}

func (d *folderDisk) blockPath(a common.Bnum) string {
	return filepath.Join(d.path, common.BlockName(a))
}

func (d *folderDisk) ReadTo(a common.Bnum, buf Block) error {
	if err := checkLen("read", a, buf, d.blockSize); err != nil {
		return err
	}
	if err := checkBounds("read", a, d.numBlocks); err != nil {
		return err
	}
	f, err := os.Open(d.blockPath(a))
	if err != nil {
		return ioErr("read", a, err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, buf); err != nil {
		return ioErr("read", a, err)
	}
	util.DPrintf(10, "folder read: %d\n", a)
	return nil
}

func (d *folderDisk) Read(a common.Bnum) (Block, error) {
	buf := make(Block, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *folderDisk) Write(a common.Bnum, v Block) error {
	if err := checkLen("write", a, v, d.blockSize); err != nil {
		return err
	}
	if err := checkBounds("write", a, d.numBlocks); err != nil {
		return err
	}
	// the block file must already exist; CreateFolder allocated it
	f, err := os.OpenFile(d.blockPath(a), os.O_WRONLY, 0)
	if err != nil {
		return ioErr("write", a, err)
	}
	if _, err := f.WriteAt(v, 0); err != nil {
		f.Close()
		return ioErr("write", a, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("write", a, err)
	}
	d.mu.Lock()
	d.dirty[a] = true
	d.mu.Unlock()
	util.DPrintf(10, "folder write: %d\n", a)
	return nil
}

func (d *folderDisk) Size() uint64 {
	return d.numBlocks
}

func (d *folderDisk) BlockSize() uint64 {
	return d.blockSize
}

// Barrier fsyncs every block file written since the last barrier, then the
// directory itself.
func (d *folderDisk) Barrier() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a := range d.dirty {
		if err := fsyncPath(d.blockPath(a)); err != nil {
			return ioErr("sync", a, err)
		}
		delete(d.dirty, a)
	}
	if err := fsyncPath(d.path); err != nil {
		return fmt.Errorf("sync folder %s: %w", d.path, err)
	}
	util.DPrintf(5, "barrier %s\n", d.path)
	return nil
}

func (d *folderDisk) Close() error {
	return nil
}

func fsyncPath(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}

// Staged is a folder disk written in a private staging directory and later
// published into its final location.
type Staged struct {
	*folderDisk
	final string
}

// CreateStaged creates a zeroed folder volume in a temporary sibling of
// final.
func CreateStaged(final string, blockSize uint64, numBlocks uint64) (*Staged, error) {
	parent := filepath.Dir(filepath.Clean(final))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("prepare parent %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(final)+".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging folder: %w", err)
	}
	d, err := createFolder(tmp, blockSize, numBlocks)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	return &Staged{folderDisk: d, final: final}, nil
}

// Publish moves the staged blocks into the final folder, block 0 last, and
// removes the staging directory. After Publish the disk addresses the final
// folder.
func (s *Staged) Publish() error {
	if err := os.MkdirAll(s.final, 0755); err != nil {
		return fmt.Errorf("prepare folder %s: %w", s.final, err)
	}
	move := func(a common.Bnum) error {
		err := os.Rename(s.blockPath(a), filepath.Join(s.final, common.BlockName(a)))
		if err != nil {
			return ioErr("publish", a, err)
		}
		return nil
	}
	for i := uint64(1); i < s.numBlocks; i++ {
		if err := move(common.Bnum(i)); err != nil {
			return err
		}
	}
	if s.numBlocks > 0 {
		if err := move(0); err != nil {
			return err
		}
	}
	staging := s.path
	s.path = s.final
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging folder: %w", err)
	}
	util.DPrintf(1, "Publish: %s -> %s\n", staging, s.final)
	return nil
}

// Discard removes the staging directory without publishing.
func (s *Staged) Discard() error {
	if s.path == s.final {
		return nil
	}
	return os.RemoveAll(s.path)
}
