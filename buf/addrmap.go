package buf

import (
	"github.com/mit-pdos/go-qrfs/addr"
	"github.com/mit-pdos/go-qrfs/common"
)

//
// a map from addr to an object
//

type aentry struct {
	addr addr.Addr
	obj  interface{}
}

type AddrMap struct {
	addrs map[common.Bnum][]*aentry
}

func MkAddrMap() *AddrMap {
	a := &AddrMap{
		addrs: make(map[common.Bnum][]*aentry),
	}
	return a
}

func (amap *AddrMap) Insert(a addr.Addr, obj interface{}) {
	aentry := &aentry{addr: a, obj: obj}
	blkno := a.Blkno
	amap.addrs[blkno] = append(amap.addrs[blkno], aentry)
}

// Del removes the object at a and reports whether it was present.
func (amap *AddrMap) Del(a addr.Addr) bool {
	blkno := a.Blkno
	entries, found := amap.addrs[blkno]
	if !found {
		return false
	}
	for i, e := range entries {
		if e.addr == a {
			entries = append(entries[0:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(amap.addrs, blkno)
			} else {
				amap.addrs[blkno] = entries
			}
			return true
		}
	}
	return false
}

// ApplyBlock calls f on the objects of one block in insertion order.
func (amap *AddrMap) ApplyBlock(blkno common.Bnum, f func(addr.Addr, interface{})) {
	for _, e := range amap.addrs[blkno] {
		f(e.addr, e.obj)
	}
}

func (amap *AddrMap) Apply(f func(addr.Addr, interface{})) {
	for _, addrs := range amap.addrs {
		for _, e := range addrs {
			f(e.addr, e.obj)
		}
	}
}
