package models

// Symbol is a resolved, named address. Size is zero when unknown.
type Symbol struct {
	Name string
	Addr Addr
	Size uint64
}

func (s Symbol) Contains(addr Addr) bool {
	return s.Addr <= addr && (addr < s.Addr.Add(s.Size) || s.Size == 0)
}

// Symbols sorts by address, then name.
type Symbols []Symbol

func (s Symbols) Len() int      { return len(s) }
func (s Symbols) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s Symbols) Less(i, j int) bool {
	if s[i].Addr != s[j].Addr {
		return s[i].Addr < s[j].Addr
	}
	return s[i].Name < s[j].Name
}

// Symbolicate returns the nearest symbol at or below addr.
func (s Symbols) Symbolicate(addr Addr) (result Symbol, distance uint64, ok bool) {
	for _, sym := range s {
		if sym.Addr == 0 || !sym.Contains(addr) {
			continue
		}
		if dist := uint64(addr - sym.Addr); !ok || dist < distance {
			result, distance, ok = sym, dist, true
		}
	}
	return
}
