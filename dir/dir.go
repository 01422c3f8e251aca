// Package dir decodes directory blocks: packed 260-byte entries holding a u32
// inode number and a NUL-padded 256-byte name.
package dir

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/util"
)

const (
	Dot    = "."
	DotDot = ".."

	// the root's ".." entry sits at byte 264, four bytes past slot 1
	rootDotDotOff = 264
)

type DirEnt struct {
	Inum common.Inum
	Name string
}

func getInum(b []byte) common.Inum {
	return common.Inum(marshal.NewDec(b[:4]).GetInt32())
}

// decodeName returns the bytes up to the first NUL, with invalid UTF-8
// replaced by U+FFFD.
func decodeName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// decodeSlot reads the entry at off. The name field is clipped to the end
// of blk.
func decodeSlot(blk []byte, off uint64) DirEnt {
	end := util.Min(off+common.DIRENTSZ, uint64(len(blk)))
	return DirEnt{
		Inum: getInum(blk[off:]),
		Name: decodeName(blk[off+4 : end]),
	}
}

// Decode returns the entries of a directory block in slot order. Slots with
// an empty name are unused and skipped. A trailing partial slot is ignored.
func Decode(blk []byte) []DirEnt {
	ents := make([]DirEnt, 0)
	dotdot := false
	slot1 := -1
	n := uint64(len(blk)) / common.DIRENTSZ
	for i := uint64(0); i < n; i++ {
		e := decodeSlot(blk, addr.MkDirentAddr(0, i).Off)
		if e.Name == "" {
			continue
		}
		if e.Name == DotDot {
			dotdot = true
		}
		if i == 1 {
			slot1 = len(ents)
		}
		ents = append(ents, e)
	}
	if !dotdot {
		ents = fixRootDotDot(blk, ents, slot1)
	}
	return ents
}

// fixRootDotDot recovers the root's ".." entry at byte 264. At the regular
// stride that entry lands inside slot 1, whose name field then starts with
// the entry's inode number; that misread slot is replaced. In a block too
// small for slot 1 the entry's name runs to the end of the block.
func fixRootDotDot(blk []byte, ents []DirEnt, slot1 int) []DirEnt {
	off := uint64(rootDotDotOff)
	if uint64(len(blk)) < off+4+uint64(len(DotDot)) {
		return ents
	}
	if getInum(blk[common.DIRENTSZ:]) != 0 {
		return ents
	}
	e := decodeSlot(blk, off)
	if e.Name != DotDot {
		return ents
	}
	util.DPrintf(5, "dir: root .. entry -> %d\n", e.Inum)
	if slot1 >= 0 {
		ents[slot1] = e
		return ents
	}
	i := 0
	if len(ents) > 0 && ents[0].Name == Dot {
		i = 1
	}
	ents = append(ents, DirEnt{})
	copy(ents[i+1:], ents[i:])
	ents[i] = e
	return ents
}

// Lookup returns the first entry named name.
func Lookup(blk []byte, name string) (DirEnt, bool) {
	for _, e := range Decode(blk) {
		if e.Name == name {
			return e, true
		}
	}
	return DirEnt{}, false
}

// PutEntry encodes e into slot i of blk.
func PutEntry(blk []byte, i uint64, e DirEnt) error {
	if e.Name == "" || uint64(len(e.Name)) > common.DIRNAMESZ || strings.IndexByte(e.Name, 0) >= 0 {
		return fmt.Errorf("%w: bad directory entry name %q", common.ErrFormat, e.Name)
	}
	off := addr.MkDirentAddr(0, i).Off
	if off+common.DIRENTSZ > uint64(len(blk)) {
		return fmt.Errorf("%w: slot %d past end of %d-byte block", common.ErrFormat, i, len(blk))
	}
	enc := marshal.NewEnc(4)
	enc.PutInt32(uint32(e.Inum))
	copy(blk[off:off+4], enc.Finish())
	name := blk[off+4 : off+common.DIRENTSZ]
	for j := range name {
		name[j] = 0
	}
	copy(name, e.Name)
	return nil
}

// MkRootBlock returns a directory block holding only "." and "..", both
// naming root. "." fills slot 0; ".." has its inode number at byte 264 and
// its name at byte 268, with the name field clipped to the block.
func MkRootBlock(blockSize uint64, root common.Inum) ([]byte, error) {
	blk := make([]byte, blockSize)
	if err := PutEntry(blk, 0, DirEnt{Inum: root, Name: Dot}); err != nil {
		return nil, err
	}
	off := uint64(rootDotDotOff)
	if off+4+uint64(len(DotDot)) > blockSize {
		return nil, fmt.Errorf("%w: %d-byte block too small for root directory", common.ErrFormat, blockSize)
	}
	enc := marshal.NewEnc(4)
	enc.PutInt32(uint32(root))
	copy(blk[off:off+4], enc.Finish())
	copy(blk[off+4:], DotDot)
	return blk, nil
}
