package fuse

import (
	"encoding/binary"
	"syscall"
	"testing"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-qrfs/config"
	"github.com/mit-pdos/go-qrfs/internal/testvol"
	"github.com/mit-pdos/go-qrfs/mkfs"
	"github.com/mit-pdos/go-qrfs/volume"
)

var hello = []byte("hello, world\n")

type FuseSuite struct {
	suite.Suite
	v  *volume.Volume
	fs *FS
}

func (suite *FuseSuite) SetupTest() {
	require := suite.Require()
	b, err := testvol.NewMem(mkfs.Params{Blocks: 20, Inodes: 6, BlockSize: 4096})
	require.NoError(err)
	root := b.Layout.Root
	_, err = b.AddFile(1, hello, -1)
	require.NoError(err)
	_, err = b.AddDir(2, root.Inum)
	require.NoError(err)
	require.NoError(b.Link(root, 2, "hello.txt", 1))
	require.NoError(b.Link(root, 3, "sub", 2))
	require.NoError(b.Link(root, 4, "ghost", 9))
	require.NoError(b.Finish())

	suite.v, err = volume.Mount(b.D)
	require.NoError(err)
	suite.fs = New(suite.v, config.Default())
}

func TestFuse(t *testing.T) {
	suite.Run(t, new(FuseSuite))
}

func header(nodeid uint64) gofuse.InHeader {
	return gofuse.InHeader{NodeId: nodeid}
}

// dirents decodes the fuse_dirent records AddDirEntry wrote into b.
func dirents(b []byte) (names []string, inos []uint64) {
	for len(b) >= 24 {
		ino := binary.LittleEndian.Uint64(b[0:])
		namelen := binary.LittleEndian.Uint32(b[16:])
		if namelen == 0 {
			break
		}
		names = append(names, string(b[24:24+namelen]))
		inos = append(inos, ino)
		n := (24 + int(namelen) + 7) &^ 7
		b = b[n:]
	}
	return
}

func (suite *FuseSuite) TestNodeIds() {
	inum, ok := suite.fs.inum(gofuse.FUSE_ROOT_ID)
	suite.True(ok)
	suite.Equal(suite.v.Root(), inum)
	inum, ok = suite.fs.inum(2)
	suite.True(ok)
	suite.Equal(uint32(1), inum)
	_, ok = suite.fs.inum(0)
	suite.False(ok)

	suite.Equal(uint64(gofuse.FUSE_ROOT_ID), suite.fs.nodeid(suite.v.Root()))
	suite.Equal(uint64(3), suite.fs.nodeid(2))
}

func (suite *FuseSuite) TestLookup() {
	var out gofuse.EntryOut
	h := header(gofuse.FUSE_ROOT_ID)
	suite.Equal(gofuse.OK, suite.fs.Lookup(nil, &h, "hello.txt", &out))
	suite.Equal(uint64(2), out.NodeId)
	suite.Equal(uint64(2), out.Attr.Ino)
	suite.Equal(uint32(syscall.S_IFREG|0644), out.Attr.Mode)
	suite.Equal(uint64(len(hello)), out.Attr.Size)
	suite.Equal(uint64(1), out.Attr.Blocks)
	suite.Equal(uint32(512), out.Attr.Blksize)
	suite.Equal(uint32(1000), out.Attr.Uid)
	suite.Equal(uint64(1), out.EntryValid)

	out = gofuse.EntryOut{}
	suite.Equal(gofuse.OK, suite.fs.Lookup(nil, &h, "..", &out))
	suite.Equal(uint64(gofuse.FUSE_ROOT_ID), out.NodeId)

	suite.Equal(gofuse.ENOENT, suite.fs.Lookup(nil, &h, "missing", &out))
	suite.Equal(gofuse.ENOENT, suite.fs.Lookup(nil, &h, "ghost", &out))
	h = header(2)
	suite.Equal(gofuse.ENOENT, suite.fs.Lookup(nil, &h, "x", &out), "file has no children")
	h = header(0)
	suite.Equal(gofuse.ENOENT, suite.fs.Lookup(nil, &h, "hello.txt", &out))
}

func (suite *FuseSuite) TestGetAttr() {
	var out gofuse.AttrOut
	in := &gofuse.GetAttrIn{InHeader: header(gofuse.FUSE_ROOT_ID)}
	suite.Equal(gofuse.OK, suite.fs.GetAttr(nil, in, &out))
	suite.Equal(uint32(syscall.S_IFDIR|0755), out.Mode)
	suite.Equal(uint32(2), out.Nlink)
	suite.Equal(uint64(520), out.Size)
	suite.Equal(uint64(2), out.Blocks)
	suite.NotZero(out.Mtime)
	suite.Equal(out.Mtime, out.Ctime)

	// a free slot still has attributes
	in = &gofuse.GetAttrIn{InHeader: header(5)}
	suite.Equal(gofuse.OK, suite.fs.GetAttr(nil, in, &out))
	suite.Equal(uint32(syscall.S_IFREG), out.Mode)

	in = &gofuse.GetAttrIn{InHeader: header(100)}
	suite.Equal(gofuse.ENOENT, suite.fs.GetAttr(nil, in, &out))
}

func (suite *FuseSuite) TestOpen() {
	var out gofuse.OpenOut
	in := &gofuse.OpenIn{InHeader: header(2), Flags: syscall.O_RDONLY}
	suite.Equal(gofuse.OK, suite.fs.Open(nil, in, &out))
	suite.Equal(uint32(gofuse.FOPEN_KEEP_CACHE), out.OpenFlags)

	for _, fl := range []uint32{syscall.O_WRONLY, syscall.O_RDWR, syscall.O_RDONLY | syscall.O_TRUNC} {
		in = &gofuse.OpenIn{InHeader: header(2), Flags: fl}
		suite.Equal(gofuse.Status(syscall.EROFS), suite.fs.Open(nil, in, &out))
	}

	in = &gofuse.OpenIn{InHeader: header(gofuse.FUSE_ROOT_ID)}
	suite.Equal(gofuse.EISDIR, suite.fs.Open(nil, in, &out))
}

func (suite *FuseSuite) TestRead() {
	buf := make([]byte, 4096)
	in := &gofuse.ReadIn{InHeader: header(2), Offset: 7, Size: 100}
	res, st := suite.fs.Read(nil, in, buf)
	suite.Equal(gofuse.OK, st)
	b, st := res.Bytes(buf)
	suite.Equal(gofuse.OK, st)
	suite.Equal(hello[7:], b)

	in.Offset = uint64(len(hello))
	res, st = suite.fs.Read(nil, in, buf)
	suite.Equal(gofuse.OK, st)
	suite.Equal(0, res.Size())

	in = &gofuse.ReadIn{InHeader: header(gofuse.FUSE_ROOT_ID), Size: 100}
	_, st = suite.fs.Read(nil, in, buf)
	suite.Equal(gofuse.EISDIR, st)
}

func (suite *FuseSuite) TestOpenDir() {
	var out gofuse.OpenOut
	in := &gofuse.OpenIn{InHeader: header(gofuse.FUSE_ROOT_ID)}
	suite.Equal(gofuse.OK, suite.fs.OpenDir(nil, in, &out))
	in = &gofuse.OpenIn{InHeader: header(3)}
	suite.Equal(gofuse.OK, suite.fs.OpenDir(nil, in, &out))
	in = &gofuse.OpenIn{InHeader: header(2)}
	suite.Equal(gofuse.ENOTDIR, suite.fs.OpenDir(nil, in, &out))
}

func (suite *FuseSuite) readDir(nodeid uint64, off uint64) ([]string, []uint64, gofuse.Status) {
	buf := make([]byte, 4096)
	out := gofuse.NewDirEntryList(buf, off)
	in := &gofuse.ReadIn{InHeader: header(nodeid), Offset: off, Size: uint32(len(buf))}
	st := suite.fs.ReadDir(nil, in, out)
	names, inos := dirents(buf)
	return names, inos, st
}

func (suite *FuseSuite) TestReadDir() {
	names, inos, st := suite.readDir(gofuse.FUSE_ROOT_ID, 0)
	suite.Equal(gofuse.OK, st)
	suite.Equal([]string{".", "..", "hello.txt", "sub", "ghost"}, names)
	suite.Equal([]uint64{1, 1, 2, 3, 10}, inos)

	names, _, st = suite.readDir(gofuse.FUSE_ROOT_ID, 3)
	suite.Equal(gofuse.OK, st)
	suite.Equal([]string{"sub", "ghost"}, names)

	names, _, st = suite.readDir(gofuse.FUSE_ROOT_ID, 5)
	suite.Equal(gofuse.OK, st)
	suite.Empty(names)

	names, inos, st = suite.readDir(3, 0)
	suite.Equal(gofuse.OK, st)
	suite.Equal([]string{".", ".."}, names)
	suite.Equal([]uint64{3, 1}, inos)

	_, _, st = suite.readDir(2, 0)
	suite.Equal(gofuse.ENOTDIR, st)
}

func (suite *FuseSuite) TestReadDirPlus() {
	buf := make([]byte, 4096)
	out := gofuse.NewDirEntryList(buf, 0)
	in := &gofuse.ReadIn{InHeader: header(gofuse.FUSE_ROOT_ID), Size: uint32(len(buf))}
	suite.Equal(gofuse.OK, suite.fs.ReadDirPlus(nil, in, out))

	in = &gofuse.ReadIn{InHeader: header(2), Size: uint32(len(buf))}
	suite.Equal(gofuse.ENOTDIR, suite.fs.ReadDirPlus(nil, in, gofuse.NewDirEntryList(buf, 0)))
}

func (suite *FuseSuite) TestStatFs() {
	var out gofuse.StatfsOut
	h := header(gofuse.FUSE_ROOT_ID)
	suite.Equal(gofuse.OK, suite.fs.StatFs(nil, &h, &out))
	usedBlocks, usedInodes := suite.v.Usage()
	suite.Equal(uint64(20), out.Blocks)
	suite.Equal(20-usedBlocks, out.Bfree)
	suite.Equal(uint64(6), out.Files)
	suite.Equal(6-usedInodes, out.Ffree)
	suite.Equal(uint32(3), uint32(usedInodes))
	suite.Equal(uint32(4096), out.Bsize)
}

func TestMountOptions(t *testing.T) {
	cfg := config.Default()
	cfg.AllowOther = true
	opts := MountOptions(cfg)
	assert.Equal(t, "qr_file_system", opts.FsName)
	assert.Contains(t, opts.Options, "ro")
	assert.True(t, opts.AllowOther)
	assert.False(t, opts.Debug)
}

func TestString(t *testing.T) {
	b, err := testvol.NewMem(mkfs.DefaultParams())
	require.NoError(t, err)
	v, err := volume.Mount(b.D)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.FsName = "photos"
	assert.Equal(t, "photos", New(v, cfg).String())
}
