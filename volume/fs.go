package volume

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/dir"
	"github.com/mit-pdos/go-qrfs/inode"
)

// FS returns a read-only io/fs view of the volume. Directory listings leave
// out "." and "..". Modification times are the zero time; the format stores
// none.
func (v *Volume) FS() fs.FS {
	return &fsys{v: v}
}

var (
	_ fs.ReadDirFS = (*fsys)(nil)
	_ fs.StatFS    = (*fsys)(nil)
)

type fsys struct {
	v *Volume
}

func (fsys *fsys) resolve(op string, name string) (*inode.Inode, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	p := name
	if p == "." {
		p = ""
	}
	inum, err := fsys.v.ResolvePath(p)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	ip, err := fsys.v.Attributes(inum)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return ip, nil
}

func (fsys *fsys) Open(name string) (fs.File, error) {
	ip, err := fsys.resolve("open", name)
	if err != nil {
		return nil, err
	}
	fi := &fileInfo{name: path.Base(name), ip: ip}
	if ip.IsDir() {
		return &dirFile{fsys: fsys, info: fi}, nil
	}
	return &file{v: fsys.v, info: fi}, nil
}

func (fsys *fsys) Stat(name string) (fs.FileInfo, error) {
	ip, err := fsys.resolve("stat", name)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(name), ip: ip}, nil
}

func (fsys *fsys) ReadDir(name string) ([]fs.DirEntry, error) {
	ip, err := fsys.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	ents, err := fsys.readDir(ip)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return ents, nil
}

// readDir lists ip sorted by name. Entries that point outside the inode
// table are dropped.
func (fsys *fsys) readDir(ip *inode.Inode) ([]fs.DirEntry, error) {
	des, err := fsys.v.ListDirectory(ip.Inum)
	if err != nil {
		return nil, err
	}
	ents := make([]fs.DirEntry, 0, len(des))
	seen := make(map[string]bool)
	for _, de := range des {
		if de.Name == dir.Dot || de.Name == dir.DotDot || seen[de.Name] {
			continue
		}
		child, err := fsys.v.Attributes(de.Inum)
		if err != nil {
			continue
		}
		seen[de.Name] = true
		ents = append(ents, &dirEntry{info: &fileInfo{name: de.Name, ip: child}})
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].Name() < ents[j].Name() })
	return ents, nil
}

type fileInfo struct {
	name string
	ip   *inode.Inode
}

func (fi *fileInfo) Name() string { return fi.name }

func (fi *fileInfo) Size() int64 { return int64(fi.ip.Size) }

func (fi *fileInfo) Mode() fs.FileMode {
	m := fs.FileMode(fi.ip.Perm())
	if fi.ip.IsDir() {
		m |= fs.ModeDir
	}
	return m
}

func (fi *fileInfo) ModTime() time.Time { return time.Time{} }

func (fi *fileInfo) IsDir() bool { return fi.ip.IsDir() }

// Sys returns the *inode.Inode.
func (fi *fileInfo) Sys() any { return fi.ip }

type dirEntry struct {
	info *fileInfo
}

func (de *dirEntry) Name() string { return de.info.name }

func (de *dirEntry) IsDir() bool { return de.info.IsDir() }

func (de *dirEntry) Type() fs.FileMode { return de.info.Mode().Type() }

func (de *dirEntry) Info() (fs.FileInfo, error) { return de.info, nil }

type file struct {
	v      *Volume
	info   *fileInfo
	off    int64
	closed bool
}

func (f *file) Stat() (fs.FileInfo, error) {
	if f.closed {
		return nil, fs.ErrClosed
	}
	return f.info, nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "readat", Path: f.info.name, Err: fs.ErrInvalid}
	}
	data, err := f.v.ReadRange(f.info.ip, uint64(off), uint64(len(p)))
	if err != nil {
		return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: err}
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.ReadAt(p, f.off)
	f.off += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.off
	case io.SeekEnd:
		offset += f.info.Size()
	default:
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: fs.ErrInvalid}
	}
	if offset < 0 {
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: fs.ErrInvalid}
	}
	f.off = offset
	return offset, nil
}

func (f *file) Close() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	return nil
}

type dirFile struct {
	fsys   *fsys
	info   *fileInfo
	ents   []fs.DirEntry
	loaded bool
	closed bool
}

func (d *dirFile) Stat() (fs.FileInfo, error) {
	if d.closed {
		return nil, fs.ErrClosed
	}
	return d.info, nil
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: common.ErrIsDir}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.closed {
		return nil, fs.ErrClosed
	}
	if !d.loaded {
		ents, err := d.fsys.readDir(d.info.ip)
		if err != nil {
			return nil, &fs.PathError{Op: "readdir", Path: d.info.name, Err: err}
		}
		d.ents = ents
		d.loaded = true
	}
	if n <= 0 {
		ents := d.ents
		d.ents = nil
		return ents, nil
	}
	if len(d.ents) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(d.ents))
	ents := d.ents[:n]
	d.ents = d.ents[n:]
	return ents, nil
}

func (d *dirFile) Close() error {
	if d.closed {
		return fs.ErrClosed
	}
	d.closed = true
	return nil
}
