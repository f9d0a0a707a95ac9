package macho

import (
	"fmt"
	"sort"
	"strings"
)

type mapEntry struct {
	Fileoff, Vmaddr uint64
}

// FileOffsetMap translates file offsets to vm addresses piecewise: an offset
// belongs to the entry with the greatest file offset not above it.
type FileOffsetMap struct {
	entries []mapEntry // sorted by Fileoff, keys unique
}

// Insert adds or replaces the mapping for fileoff.
func (m *FileOffsetMap) Insert(fileoff, vmaddr uint64) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Fileoff >= fileoff })
	if i < len(m.entries) && m.entries[i].Fileoff == fileoff {
		m.entries[i].Vmaddr = vmaddr
		return
	}
	m.entries = append(m.entries, mapEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = mapEntry{fileoff, vmaddr}
}

// floor returns the entry with the greatest Fileoff <= fileoff.
func (m *FileOffsetMap) floor(fileoff uint64) (mapEntry, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Fileoff > fileoff })
	if i == 0 {
		return mapEntry{}, false
	}
	return m.entries[i-1], true
}

// Translate maps fileoff to a vm address. Offsets below every entry are
// returned unchanged, which is a guess rather than a guarantee.
func (m *FileOffsetMap) Translate(fileoff uint64) uint64 {
	if e, ok := m.floor(fileoff); ok {
		return e.Vmaddr + (fileoff - e.Fileoff)
	}
	return fileoff
}

// Lookup returns the vm address stored for exactly fileoff.
func (m *FileOffsetMap) Lookup(fileoff uint64) (uint64, bool) {
	if e, ok := m.floor(fileoff); ok && e.Fileoff == fileoff {
		return e.Vmaddr, true
	}
	return 0, false
}

func (m *FileOffsetMap) Len() int { return len(m.entries) }

func (m *FileOffsetMap) String() string {
	s := make([]string, len(m.entries))
	for i, e := range m.entries {
		s[i] = fmt.Sprintf("%#x->%#x", e.Fileoff, e.Vmaddr)
	}
	return "{" + strings.Join(s, " ") + "}"
}
