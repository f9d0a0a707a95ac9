package models

import (
	"fmt"
	"path/filepath"
)

const (
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
)

// Mmap is one mapping in a live process, as reported by the OS.
type Mmap struct {
	Addr, Size uint64
	Prot       int
	Path       string
}

func (m *Mmap) Contains(addr uint64) bool {
	return m.Addr <= addr && addr < m.Addr+m.Size
}

// Module is the base name of the backing file, if any.
func (m *Mmap) Module() string {
	if m.Path == "" {
		return ""
	}
	return filepath.Base(m.Path)
}

func (m *Mmap) String() string {
	desc := fmt.Sprintf("0x%x-0x%x", m.Addr, m.Addr+m.Size)
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := " "
	for i := range prots {
		if m.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc += prot
	if m.Path != "" {
		desc += fmt.Sprintf(" %s", m.Path)
	}
	return desc
}

type MmapAddrSort []*Mmap

func (m MmapAddrSort) Len() int           { return len(m) }
func (m MmapAddrSort) Less(i, j int) bool { return m[i].Addr < m[j].Addr }
func (m MmapAddrSort) Swap(i, j int)      { m[i], m[j] = m[j], m[i] }

// ModuleRange spans every mapping whose base name is name.
func ModuleRange(maps []*Mmap, name string) (Range, bool) {
	var lo, hi uint64
	found := false
	for _, m := range maps {
		if m.Module() != name {
			continue
		}
		if !found || m.Addr < lo {
			lo = m.Addr
		}
		if end := m.Addr + m.Size; !found || end > hi {
			hi = end
		}
		found = true
	}
	return Range{Base: Addr(lo), Size: hi - lo}, found
}

// ModulePath returns the full path of the first mapping named name.
func ModulePath(maps []*Mmap, name string) (string, bool) {
	for _, m := range maps {
		if m.Module() == name {
			return m.Path, true
		}
	}
	return "", false
}
