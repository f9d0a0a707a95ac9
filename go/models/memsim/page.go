package memsim

import (
	"fmt"
	"sort"
	"strings"
)

// Page is one contiguous mapping in a Space. Pages never overlap.
type Page struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
}

func (p *Page) String() string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := ""
	for i := range prots {
		if p.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, prot)
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) End() uint64 {
	return p.Addr + p.Size
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.End()
}

// Intersect returns the overlap of the page with [addr, addr+size).
// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start, end := p.Addr, p.End()
	if e2 := addr + size; end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) sub(addr, size uint64) *Page {
	o := addr - p.Addr
	return &Page{Addr: addr, Size: size, Prot: p.Prot, Data: p.Data[o : o+size], Desc: p.Desc}
}

// Cut removes [addr, addr+size) from the page and returns what is left on
// either side. Either result may be nil.
//
//	[-left-][--cut--][-right-]
func (p *Page) Cut(addr, size uint64) (left, right *Page) {
	start, n, ok := p.Intersect(addr, size)
	if !ok {
		return p, nil
	}
	if start > p.Addr {
		left = p.sub(p.Addr, start-p.Addr)
	}
	if end := start + n; end < p.End() {
		right = p.sub(end, p.End()-end)
	}
	return left, right
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// index of the page containing addr, or -1
func (p Pages) search(addr uint64) int {
	i := sort.Search(len(p), func(i int) bool { return p[i].End() > addr })
	if i < len(p) && p[i].Contains(addr) {
		return i
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	if i := p.search(addr); i >= 0 {
		return p[i]
	}
	return nil
}

// FindRange returns every page overlapping [addr, addr+size).
func (p Pages) FindRange(addr, size uint64) Pages {
	var ret Pages
	for _, pg := range p {
		if _, _, ok := pg.Intersect(addr, size); ok {
			ret = append(ret, pg)
		}
	}
	return ret
}
