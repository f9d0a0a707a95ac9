// Package memsim is a paged model of a process address space. It backs
// simulated processes: binaries mapped from disk, replayed snapshots, and
// the synthetic images used in tests.
package memsim

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_WRITE_PROT:
		reason = "protected write"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// Space is safe for concurrent reads once mapping has finished.
type Space struct {
	Mem Pages
}

// RangeValid reports whether [addr, addr+size) is fully mapped, and
// whether every page covering it carries all bits of prot.
func (s *Space) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	first := s.Mem.search(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, pg := range s.Mem[first:] {
		if !pg.Contains(addr) {
			break
		}
		if prot > 0 && pg.Prot&prot != prot {
			protGood = false
		}
		addr = pg.End()
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Map creates a zeroed mapping, replacing anything it overlaps.
func (s *Space) Map(addr, size uint64, prot int) *Page {
	s.Unmap(addr, size)
	page := &Page{Addr: addr, Size: size, Prot: prot, Data: make([]byte, size)}
	s.Mem = append(s.Mem, page)
	sort.Sort(s.Mem)
	return page
}

func (s *Space) Unmap(addr, size uint64) {
	tmp := make(Pages, 0, len(s.Mem))
	for _, pg := range s.Mem {
		if _, _, ok := pg.Intersect(addr, size); !ok {
			tmp = append(tmp, pg)
			continue
		}
		left, right := pg.Cut(addr, size)
		if left != nil {
			tmp = append(tmp, left)
		}
		if right != nil {
			tmp = append(tmp, right)
		}
	}
	s.Mem = tmp
}

// Prot changes the protection of [addr, addr+size), splitting pages at the
// edges of the range.
func (s *Space) Prot(addr, size uint64, prot int) {
	tmp := make(Pages, 0, len(s.Mem))
	for _, pg := range s.Mem {
		start, n, ok := pg.Intersect(addr, size)
		if !ok {
			tmp = append(tmp, pg)
			continue
		}
		mid := pg.sub(start, n)
		mid.Prot = prot
		left, right := pg.Cut(start, n)
		if left != nil {
			tmp = append(tmp, left)
		}
		tmp = append(tmp, mid)
		if right != nil {
			tmp = append(tmp, right)
		}
	}
	s.Mem = tmp
}

func (s *Space) check(addr uint64, n int, prot int, write bool) error {
	gmap, gprot := s.RangeValid(addr, uint64(n), prot)
	switch {
	case !gmap && write:
		return &MemError{Addr: addr, Size: n, Enum: MEM_WRITE_UNMAPPED}
	case !gmap:
		return &MemError{Addr: addr, Size: n, Enum: MEM_READ_UNMAPPED}
	case !gprot && write:
		return &MemError{Addr: addr, Size: n, Enum: MEM_WRITE_PROT}
	case !gprot:
		return &MemError{Addr: addr, Size: n, Enum: MEM_READ_PROT}
	}
	return nil
}

// Read fills p from addr. Every covering page must carry prot.
func (s *Space) Read(addr uint64, p []byte, prot int) error {
	if err := s.check(addr, len(p), prot, false); err != nil {
		return err
	}
	i := s.Mem.search(addr)
	for _, pg := range s.Mem[i:] {
		if len(p) == 0 || !pg.Contains(addr) {
			break
		}
		n := copy(p, pg.Data[addr-pg.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (s *Space) Write(addr uint64, p []byte, prot int) error {
	if err := s.check(addr, len(p), prot, true); err != nil {
		return err
	}
	i := s.Mem.search(addr)
	for _, pg := range s.Mem[i:] {
		if len(p) == 0 || !pg.Contains(addr) {
			break
		}
		n := copy(pg.Data[addr-pg.Addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}
