package alloc

import (
	"sync"

	"github.com/mit-pdos/go-qrfs/common"
	"github.com/mit-pdos/go-qrfs/util"
)

const (
	FREE byte = '0'
	USED byte = '1'
)

// Alloc is an occupancy bitmap in the stored ASCII form: marker n is the
// byte '1' when number n is in use. Any other byte reads as free. The
// bitmap always holds common.BITMAPSZ markers.
type Alloc struct {
	lock *sync.Mutex // protects bits and next
	bits []byte
	next uint64 // first number to try
}

// MkAlloc returns a bitmap with every marker free.
func MkAlloc() *Alloc {
	bits := make([]byte, common.BITMAPSZ)
	for i := range bits {
		bits[i] = FREE
	}
	return &Alloc{lock: new(sync.Mutex), bits: bits}
}

// FromBytes copies a stored bitmap. Short input is padded with free markers;
// anything past common.BITMAPSZ is ignored.
func FromBytes(b []byte) *Alloc {
	a := MkAlloc()
	copy(a.bits, b)
	return a
}

func (a *Alloc) valid(n uint64) bool {
	return n < uint64(len(a.bits))
}

func (a *Alloc) IsUsed(n uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.valid(n) && a.bits[n] == USED
}

// MarkUsed marks n occupied; numbers past the bitmap are ignored.
func (a *Alloc) MarkUsed(n uint64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.valid(n) {
		a.bits[n] = USED
	}
}

// MarkRange marks [start, start+len) occupied.
func (a *Alloc) MarkRange(start uint64, len uint64) {
	for i := uint64(0); i < len; i++ {
		a.MarkUsed(start + i)
	}
}

// AllocNum marks and returns the lowest free number below limit, scanning
// from the last allocation. ok is false when every number is taken.
func (a *Alloc) AllocNum(limit uint64) (n uint64, ok bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	limit = util.Min(limit, uint64(len(a.bits)))
	for i := uint64(0); i < limit; i++ {
		num := (a.next + i) % limit
		if a.bits[num] != USED {
			a.bits[num] = USED
			a.next = num + 1
			util.DPrintf(10, "AllocNum: %d\n", num)
			return num, true
		}
	}
	return 0, false
}

// AllocFrom marks and returns the first free number in [start, limit).
func (a *Alloc) AllocFrom(start uint64, limit uint64) (uint64, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	limit = util.Min(limit, uint64(len(a.bits)))
	for num := start; num < limit; num++ {
		if a.bits[num] != USED {
			a.bits[num] = USED
			return num, true
		}
	}
	return 0, false
}

// NumUsed counts occupied markers below limit.
func (a *Alloc) NumUsed(limit uint64) uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	limit = util.Min(limit, uint64(len(a.bits)))
	var count uint64
	for _, b := range a.bits[:limit] {
		if b == USED {
			count++
		}
	}
	return count
}

// NumFree counts free markers below limit.
func (a *Alloc) NumFree(limit uint64) uint64 {
	limit = util.Min(limit, uint64(len(a.bits)))
	return limit - a.NumUsed(limit)
}

// Bytes returns a copy of the stored form.
func (a *Alloc) Bytes() []byte {
	a.lock.Lock()
	defer a.lock.Unlock()
	return util.CloneByteSlice(a.bits)
}
