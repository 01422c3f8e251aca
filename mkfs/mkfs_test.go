package mkfs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/disk"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/super"
)

// recDisk records the order of writes and barriers.
type recDisk struct {
	disk.Disk
	ops []string
}

func (d *recDisk) Write(a common.Bnum, v disk.Block) error {
	d.ops = append(d.ops, string(rune('0'+a)))
	return d.Disk.Write(a, v)
}

func (d *recDisk) Barrier() error {
	d.ops = append(d.ops, "B")
	return d.Disk.Barrier()
}

func TestPlanSmall(t *testing.T) {
	l, err := Plan(Params{Blocks: 10, Inodes: 4, BlockSize: 1024})
	require.NoError(t, err)
	sb := l.Super
	assert.Equal(t, common.Bnum(1), sb.InodeBitmapStart)
	assert.Equal(t, common.Bnum(2), sb.DataBitmapStart)
	assert.Equal(t, common.Bnum(3), sb.InodeTableStart)
	assert.Equal(t, uint32(1), sb.InodeTableBlocks)
	assert.Equal(t, common.Bnum(4), sb.DataRegionStart)
	assert.Equal(t, common.Bnum(4), l.RootDirBlock)
	assert.Equal(t, common.ROOTINUM, sb.RootInode)
	assert.Equal(t, "1000", string(sb.InodeBitmap[:4]))
	assert.Equal(t, "1111100000", string(sb.DataBitmap[:10]))
	assert.Equal(t, strings.Repeat("0", 118), string(sb.DataBitmap[10:]))
	assert.NoError(t, sb.Validate())

	assert.Equal(t, RootMode, l.Root.Mode)
	assert.Equal(t, uint32(2), l.Root.Links)
	assert.Equal(t, uint32(520), l.Root.Size)
	assert.Equal(t, common.Bnum(4), l.Root.Direct[0])
}

func TestPlanDefaults(t *testing.T) {
	l, err := Plan(DefaultParams())
	require.NoError(t, err)
	// 10 inodes * 128 bytes = 1280 bytes = 2 blocks
	assert.Equal(t, uint32(2), l.Super.InodeTableBlocks)
	assert.Equal(t, common.Bnum(5), l.Super.DataRegionStart)
	assert.Equal(t, uint32(100), l.Super.TotalBlocks)
}

func TestPlanLargest(t *testing.T) {
	l, err := Plan(Params{Blocks: 128, Inodes: 128, BlockSize: 512})
	require.NoError(t, err)
	assert.Equal(t, uint32(32), l.Super.InodeTableBlocks)
	assert.Equal(t, common.Bnum(35), l.Super.DataRegionStart)
	assert.Equal(t, byte('1'), l.Super.DataBitmap[35])
	assert.Equal(t, byte('0'), l.Super.DataBitmap[36])
}

func TestCapacity(t *testing.T) {
	for _, p := range []Params{
		{Blocks: 129, Inodes: 10, BlockSize: 1024},
		{Blocks: 100, Inodes: 129, BlockSize: 1024},
		{Blocks: 100, Inodes: 10, BlockSize: 256},
		{Blocks: 100, Inodes: 10, BlockSize: 100000},
		{Blocks: 100, Inodes: 0, BlockSize: 1024},
	} {
		_, err := Plan(p)
		assert.ErrorIs(t, err, common.ErrCapacity, "%+v", p)
	}
	assert.NoError(t, Params{Blocks: 128, Inodes: 128, BlockSize: 65536}.Validate())
	assert.NoError(t, Params{Blocks: 5, Inodes: 1, BlockSize: 512}.Validate())
}

func TestNoDataRegion(t *testing.T) {
	_, err := Plan(Params{Blocks: 4, Inodes: 4, BlockSize: 1024})
	assert.ErrorIs(t, err, common.ErrNoDataRegion)
	_, err = Plan(Params{Blocks: 5, Inodes: 4, BlockSize: 1024})
	assert.NoError(t, err, "one data block is enough")
	_, err = Plan(Params{Blocks: 20, Inodes: 128, BlockSize: 512})
	assert.ErrorIs(t, err, common.ErrNoDataRegion)
}

func TestFormat(t *testing.T) {
	l, err := Plan(Params{Blocks: 10, Inodes: 4, BlockSize: 1024})
	require.NoError(t, err)
	d := disk.NewMemDisk(1024, 10)
	require.NoError(t, Format(d, l, Options{}))

	blk, err := d.Read(0)
	require.NoError(t, err)
	sb, err := super.Decode(blk)
	require.NoError(t, err)
	assert.Equal(t, l.Super, sb)

	blk, err = d.Read(1)
	require.NoError(t, err)
	assert.Equal(t, "1000", string(blk[:4]))
	assert.Equal(t, make([]byte, 1024-128), blk[128:], "bitmap padded with zeros")

	blk, err = d.Read(2)
	require.NoError(t, err)
	assert.Equal(t, "11111", string(blk[:5]))

	tbl, err := inode.Load(d, sb)
	require.NoError(t, err)
	root, err := tbl.Get(0)
	require.NoError(t, err)
	assert.Equal(t, l.Root, root)
	for i := common.Inum(1); i < 4; i++ {
		ip, err := tbl.Get(i)
		require.NoError(t, err)
		assert.True(t, ip.Free)
	}

	blk, err = d.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []dir.DirEnt{{Inum: 0, Name: "."}, {Inum: 0, Name: ".."}}, dir.Decode(blk))
}

func TestFormatSmallBlocks(t *testing.T) {
	l, err := Plan(Params{Blocks: 20, Inodes: 4, BlockSize: 512})
	require.NoError(t, err)
	d := disk.NewMemDisk(512, 20)
	require.NoError(t, Format(d, l, Options{Sync: true}))

	blk, err := d.Read(l.RootDirBlock)
	require.NoError(t, err)
	assert.Equal(t, byte('.'), blk[4])
	assert.Equal(t, []byte(".."), blk[268:270])
	assert.Equal(t, []dir.DirEnt{{Inum: 0, Name: "."}, {Inum: 0, Name: ".."}}, dir.Decode(blk))
}

func TestFormatOrder(t *testing.T) {
	l, err := Plan(Params{Blocks: 10, Inodes: 4, BlockSize: 1024})
	require.NoError(t, err)
	d := &recDisk{Disk: disk.NewMemDisk(1024, 10)}
	require.NoError(t, Format(d, l, Options{}))
	assert.Equal(t, []string{"1", "2", "3", "4", "0"}, d.ops, "superblock last")

	d = &recDisk{Disk: disk.NewMemDisk(1024, 10)}
	require.NoError(t, Format(d, l, Options{Sync: true}))
	assert.Equal(t, []string{"1", "2", "3", "4", "B", "0", "B"}, d.ops)
}

func TestFormatMismatch(t *testing.T) {
	l, err := Plan(Params{Blocks: 10, Inodes: 4, BlockSize: 1024})
	require.NoError(t, err)
	assert.Error(t, Format(disk.NewMemDisk(512, 10), l, Options{}))
	assert.Error(t, Format(disk.NewMemDisk(1024, 9), l, Options{}))
}

func TestReport(t *testing.T) {
	l, err := Plan(Params{Blocks: 10, Inodes: 4, BlockSize: 1024})
	require.NoError(t, err)
	var out bytes.Buffer
	l.Report(&out, "vol")
	s := out.String()
	assert.Contains(t, s, "QRFS created in 'vol'")
	assert.Contains(t, s, "block_size=1024, total_blocks=10, total_inodes=4")
	assert.Contains(t, s, "inode_table      : start=3, blocks=1 (record_size=128)")
	assert.Contains(t, s, "data_region_start: 4")
	assert.Contains(t, s, "root inode       : 0  (direct[0]=4, size=520)")
}
