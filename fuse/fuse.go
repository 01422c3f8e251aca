// Package fuse serves a Volume to the kernel through the go-fuse raw
// protocol API.
//
// The kernel reserves node id 1 for the root and never uses 0, so node ids
// are translated here and nowhere else: id 1 is the volume's root inode and
// any other id n is inode n-1.
package fuse

import (
	"errors"
	"math"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/config"
	"github.com/mit-pdos/go-qrfs/inode"
	"github.com/mit-pdos/go-qrfs/util"
	"github.com/mit-pdos/go-qrfs/volume"
)

const (
	// Unit of Attr.Blocks as the kernel counts them.
	SECTORSZ = 512

	writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_APPEND | unix.O_TRUNC | unix.O_CREAT
)

type FS struct {
	gofuse.RawFileSystem

	v       *volume.Volume
	cfg     config.Mount
	mounted time.Time
}

func New(v *volume.Volume, cfg config.Mount) *FS {
	return &FS{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		v:             v,
		cfg:           cfg,
		mounted:       time.Now(),
	}
}

func (fs *FS) String() string {
	return fs.cfg.FsName
}

func (fs *FS) inum(nodeid uint64) (common.Inum, bool) {
	if nodeid == gofuse.FUSE_ROOT_ID {
		return fs.v.Root(), true
	}
	if nodeid == 0 || nodeid-1 > math.MaxUint32 {
		return 0, false
	}
	return common.Inum(nodeid - 1), true
}

func (fs *FS) nodeid(inum common.Inum) uint64 {
	if inum == fs.v.Root() {
		return gofuse.FUSE_ROOT_ID
	}
	return uint64(inum) + 1
}

// toStatus maps volume errors to errno replies. Anything unrecognized is
// reported as an I/O error.
func toStatus(op string, err error) gofuse.Status {
	var st gofuse.Status
	switch {
	case errors.Is(err, common.ErrNotFound):
		st = gofuse.ENOENT
	case errors.Is(err, common.ErrNotDir):
		st = gofuse.ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		st = gofuse.EISDIR
	default:
		st = gofuse.EIO
	}
	util.DPrintf(3, "%s: %v -> %v\n", op, err, st)
	return st
}

func fileType(ip *inode.Inode) uint32 {
	if ip.IsDir() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func (fs *FS) fillAttr(ip *inode.Inode, out *gofuse.Attr) {
	out.Ino = fs.nodeid(ip.Inum)
	out.Mode = fileType(ip) | ip.Perm()
	out.Nlink = ip.Links
	out.Owner = gofuse.Owner{Uid: ip.Uid, Gid: ip.Gid}
	out.Size = uint64(ip.Size)
	out.Blocks = util.RoundUp(uint64(ip.Size), SECTORSZ)
	out.Blksize = SECTORSZ
	t := fs.mounted
	out.SetTimes(&t, &t, &t)
}

func (fs *FS) attributes(op string, nodeid uint64) (*inode.Inode, gofuse.Status) {
	inum, ok := fs.inum(nodeid)
	if !ok {
		return nil, gofuse.ENOENT
	}
	ip, err := fs.v.Attributes(inum)
	if err != nil {
		return nil, toStatus(op, err)
	}
	return ip, gofuse.OK
}

func (fs *FS) fillEntry(ip *inode.Inode, out *gofuse.EntryOut) {
	out.NodeId = fs.nodeid(ip.Inum)
	fs.fillAttr(ip, &out.Attr)
	out.SetEntryTimeout(fs.cfg.EntryTimeout)
	out.SetAttrTimeout(fs.cfg.AttrTimeout)
}

func (fs *FS) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	parent, ok := fs.inum(header.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	inum, err := fs.v.Lookup(parent, name)
	if err != nil {
		return toStatus("lookup", err)
	}
	ip, err := fs.v.Attributes(inum)
	if err != nil {
		return toStatus("lookup", err)
	}
	fs.fillEntry(ip, out)
	return gofuse.OK
}

func (fs *FS) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	ip, st := fs.attributes("getattr", input.NodeId)
	if !st.Ok() {
		return st
	}
	fs.fillAttr(ip, &out.Attr)
	out.SetTimeout(fs.cfg.AttrTimeout)
	return gofuse.OK
}

func (fs *FS) Open(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	ip, st := fs.attributes("open", input.NodeId)
	if !st.Ok() {
		return st
	}
	if ip.IsDir() {
		return gofuse.EISDIR
	}
	if input.Flags&writeFlags != 0 {
		return gofuse.Status(syscall.EROFS)
	}
	// Contents never change while mounted.
	out.OpenFlags = gofuse.FOPEN_KEEP_CACHE
	return gofuse.OK
}

func (fs *FS) Read(cancel <-chan struct{}, input *gofuse.ReadIn, buf []byte) (gofuse.ReadResult, gofuse.Status) {
	inum, ok := fs.inum(input.NodeId)
	if !ok {
		return nil, gofuse.ENOENT
	}
	data, err := fs.v.Read(inum, input.Offset, uint64(input.Size))
	if err != nil {
		return nil, toStatus("read", err)
	}
	return gofuse.ReadResultData(data), gofuse.OK
}

func (fs *FS) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	ip, st := fs.attributes("opendir", input.NodeId)
	if !st.Ok() {
		return st
	}
	if !ip.IsDir() {
		return gofuse.ENOTDIR
	}
	return gofuse.OK
}

// entryMode is the type of the inode an entry names. Entries pointing
// outside the table are listed as regular files; looking them up fails.
func (fs *FS) entryMode(inum common.Inum) uint32 {
	ip, err := fs.v.Attributes(inum)
	if err != nil {
		return syscall.S_IFREG
	}
	return fileType(ip)
}

// ReadDir lists the directory block from entry input.Offset on. The
// directory is decoded again on every call, so no handle state is kept.
func (fs *FS) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	inum, ok := fs.inum(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	ents, err := fs.v.ListDirectory(inum)
	if err != nil {
		return toStatus("readdir", err)
	}
	for i := input.Offset; i < uint64(len(ents)); i++ {
		e := ents[i]
		de := gofuse.DirEntry{Name: e.Name, Ino: fs.nodeid(e.Inum), Mode: fs.entryMode(e.Inum)}
		if !out.AddDirEntry(de) {
			break
		}
	}
	return gofuse.OK
}

func (fs *FS) ReadDirPlus(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	inum, ok := fs.inum(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	ents, err := fs.v.ListDirectory(inum)
	if err != nil {
		return toStatus("readdirplus", err)
	}
	for i := input.Offset; i < uint64(len(ents)); i++ {
		e := ents[i]
		de := gofuse.DirEntry{Name: e.Name, Ino: fs.nodeid(e.Inum), Mode: fs.entryMode(e.Inum)}
		eo := out.AddDirLookupEntry(de)
		if eo == nil {
			break
		}
		// The kernel does not take a lookup reference for these.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		ip, err := fs.v.Attributes(e.Inum)
		if err != nil {
			continue
		}
		fs.fillEntry(ip, eo)
	}
	return gofuse.OK
}

func (fs *FS) StatFs(cancel <-chan struct{}, input *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	sb := fs.v.Superblock()
	freeBlocks, freeInodes := fs.v.Free()
	out.Blocks = uint64(sb.TotalBlocks)
	out.Bfree = freeBlocks
	out.Bavail = freeBlocks
	out.Files = uint64(sb.TotalInodes)
	out.Ffree = freeInodes
	out.Bsize = sb.BlockSize
	out.Frsize = sb.BlockSize
	out.NameLen = uint32(common.DIRNAMESZ)
	return gofuse.OK
}
