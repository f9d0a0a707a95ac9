package models

import (
	"bytes"
	"sync"
)

type DiscacheEntry struct {
	Addr uint64
	Mem  []byte
	Dis  []Ins
}

// Discache remembers disassembly by address. An entry only hits when the
// bytes at the address are unchanged.
type Discache struct {
	sync.RWMutex
	cache map[uint64]*DiscacheEntry
}

func NewDiscache() *Discache {
	return &Discache{cache: make(map[uint64]*DiscacheEntry)}
}

func (d *Discache) Get(addr uint64, mem []byte) *DiscacheEntry {
	d.RLock()
	defer d.RUnlock()
	if ent, ok := d.cache[addr]; ok && bytes.Equal(mem, ent.Mem) {
		return ent
	}
	return nil
}

func (d *Discache) Put(addr uint64, mem []byte, dis []Ins) {
	d.Lock()
	d.cache[addr] = &DiscacheEntry{
		Addr: addr,
		Mem:  append([]byte(nil), mem...),
		Dis:  dis,
	}
	d.Unlock()
}
