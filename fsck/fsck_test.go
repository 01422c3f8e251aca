package fsck

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/internal/testvol"
	"github.com/mit-pdos/go-qrfs/mkfs"
)

var small = mkfs.Params{Blocks: 20, Inodes: 8, BlockSize: 4096}

func contains(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// badDisk fails reads of one block.
type badDisk struct {
	disk.Disk
	bad common.Bnum
}

func (d *badDisk) Read(a common.Bnum) (disk.Block, error) {
	if a == d.bad {
		return nil, &disk.IOError{Op: "read", Blkno: a, Err: errors.New("injected")}
	}
	return d.Disk.Read(a)
}

func TestFresh(t *testing.T) {
	b, err := testvol.NewMem(small)
	require.NoError(t, err)
	r, err := Check(b.D)
	require.NoError(t, err)
	assert.True(t, r.OK(), "%v", r.Problems)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, []dir.DirEnt{{Inum: 0, Name: "."}, {Inum: 0, Name: ".."}}, r.RootDir)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, UsedBlocks(r.Super))

	var out bytes.Buffer
	r.Print(&out)
	assert.Contains(t, out.String(), "Superblock: version=1, blocks=20, inodes=8, block_size=4096")
	assert.Contains(t, out.String(), "  [1] inode=0, name='..'")
	assert.Contains(t, out.String(), "volume is consistent")
}

func populate(t *testing.T, finish bool) *testvol.Builder {
	b, err := testvol.NewMem(small)
	require.NoError(t, err)
	_, err = b.AddFile(1, bytes.Repeat([]byte("x"), 5000), -1)
	require.NoError(t, err)
	sub, err := b.AddDir(2, 0)
	require.NoError(t, err)
	require.NoError(t, b.Link(b.Layout.Root, 2, "x", 1))
	require.NoError(t, b.Link(b.Layout.Root, 3, "sub", 2))
	require.NoError(t, b.Link(sub, 2, "x-again", 1))
	if finish {
		require.NoError(t, b.Finish())
	}
	return b
}

func TestPopulated(t *testing.T) {
	r, err := Check(populate(t, true).D)
	require.NoError(t, err)
	assert.True(t, r.OK(), "%v", r.Problems)
	assert.Empty(t, r.Warnings)
	assert.Len(t, r.RootDir, 4)
}

func TestStaleBitmaps(t *testing.T) {
	r, err := Check(populate(t, false).D)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.True(t, contains(r.Problems, "inode 1 in use but free in the inode bitmap"), "%v", r.Problems)
	assert.True(t, contains(r.Problems, "inode 1: block 5 free in the data bitmap"), "%v", r.Problems)
}

func TestBitmapCopiesDiffer(t *testing.T) {
	b := populate(t, true)
	blk := make([]byte, small.BlockSize)
	copy(blk, b.Layout.Super.InodeBitmap[:])
	blk[7] = '1'
	require.NoError(t, b.D.Write(1, blk))
	r, err := Check(b.D)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.True(t, contains(r.Warnings, "inode bitmap block 1 differs"), "%v", r.Warnings)
}

func TestRootLinks(t *testing.T) {
	b, err := testvol.NewMem(small)
	require.NoError(t, err)
	root := *b.Layout.Root
	root.Links = 3
	require.NoError(t, b.PutInode(&root))
	r, err := Check(b.D)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Equal(t, []string{"root inode links=3 (expected 2)"}, r.Warnings)
}

func TestBadPointers(t *testing.T) {
	b := populate(t, true)
	ip := &inode.Inode{Inum: 3, Mode: common.S_IFREG | 0644, Links: 1, Size: 2048}
	ip.Direct[0] = 2  // data bitmap block
	ip.Direct[1] = 5  // owned by inode 1
	ip.Direct[3] = 30 // unreachable, after a hole
	require.NoError(t, b.PutInode(ip))
	require.NoError(t, b.Finish())

	r, err := Check(b.D)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.True(t, contains(r.Problems, "inode 3: direct[0]=2 outside the data region"), "%v", r.Problems)
	assert.True(t, contains(r.Problems, "block 5 referenced by inodes 1 and 3"), "%v", r.Problems)
	assert.True(t, contains(r.Warnings, "direct[3]=30 after a hole"), "%v", r.Warnings)
}

func TestDanglingEntry(t *testing.T) {
	b := populate(t, true)
	require.NoError(t, b.Link(b.Layout.Root, 4, "ghost", 6))
	require.NoError(t, b.Link(b.Layout.Root, 5, "void", 99))
	r, err := Check(b.D)
	require.NoError(t, err)
	assert.True(t, contains(r.Warnings, `entry "ghost" -> free inode 6`), "%v", r.Warnings)
	assert.True(t, contains(r.Problems, `entry "void" -> inode 99 out of range`), "%v", r.Problems)
}

func TestUnreadableBlock(t *testing.T) {
	b := populate(t, true)
	r, err := Check(&badDisk{Disk: b.D, bad: 6})
	require.NoError(t, err)
	assert.True(t, contains(r.Problems, "inode 1: block 6 unreadable"), "%v", r.Problems)
}

func TestCorruptLayout(t *testing.T) {
	b, err := testvol.NewMem(small)
	require.NoError(t, err)
	sb := *b.Layout.Super
	sb.InodeTableBlocks = 30
	require.NoError(t, b.D.Write(0, sb.Encode()))
	r, err := Check(b.D)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.True(t, contains(r.Problems, "superblock:"))
}

func TestUnformatted(t *testing.T) {
	_, err := Check(disk.NewMemDisk(1024, 10))
	assert.ErrorIs(t, err, common.ErrBadMagic)
	_, err = Check(disk.NewMemDisk(1024, 0))
	assert.ErrorIs(t, err, common.ErrIO)
}
