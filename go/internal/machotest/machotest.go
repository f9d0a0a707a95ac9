// Package machotest builds small Mach-O 64 images for tests.
package machotest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/lunixbochs/struc"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/models/memsim"
)

const (
	magic64        = 0xfeedfacf
	cpuAmd64       = 0x01000007
	typeDylib      = 0x6
	lcSegment64    = 0x19
	lcSymtab       = 0x2
	nlistSize      = 0x10
	headerSize     = 0x20
	segmentCmdSize = 0x48
	sectionSize    = 0x50
	symtabCmdSize  = 0x18
	typeSect       = 0x0e
	typeExt        = 0x01
)

type Section struct {
	Name   string
	Addr   uint64
	Size   uint64
	Offset uint32
}

type Segment struct {
	Name     string
	Addr     uint64
	Size     uint64
	Offset   uint64
	FileSize uint64
	Prot     int
	Sections []Section
	// ExtraNsect is added to the section count without writing sections,
	// so nsects claims more than cmdsize holds.
	ExtraNsect uint32
}

// Command is a raw load command written ahead of the segments. Size is
// the declared cmdsize and need not match Data.
type Command struct {
	Cmd  uint32
	Size uint32
	Data []byte
}

type Symbol struct {
	Name  string
	Value uint64
	Sect  uint8
}

type Patch struct {
	Off  uint64
	Data []byte
}

// Image describes a file. Symbols are written at SymOff, followed by the
// string table; SymOff 0 leaves out LC_SYMTAB.
type Image struct {
	Commands []Command
	Segments []Segment
	Symbols  []Symbol
	SymOff   uint32
	Patches  []Patch
}

type header64 struct {
	Magic    uint32
	Cpu      uint32
	SubCpu   uint32
	Type     uint32
	Ncmd     uint32
	Cmdsz    uint32
	Flags    uint32
	Reserved uint32
}

type segment64 struct {
	Cmd     uint32
	Len     uint32
	Name    [16]byte
	Addr    uint64
	Memsz   uint64
	Offset  uint64
	Filesz  uint64
	Maxprot uint32
	Prot    uint32
	Nsect   uint32
	Flag    uint32
}

type section64 struct {
	Name      [16]byte
	Seg       [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

type symtab struct {
	Cmd     uint32
	Len     uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type loadCmd struct {
	Cmd uint32
	Len uint32
}

type nlist64 struct {
	Strx  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

func name16(s string) (n [16]byte) {
	copy(n[:], s)
	return n
}

func pack(w *bytes.Buffer, v interface{}) {
	if err := struc.PackWithOrder(w, v, binary.LittleEndian); err != nil {
		panic(err)
	}
}

func (m *Image) StrOff() uint32 {
	return m.SymOff + uint32(len(m.Symbols)*nlistSize)
}

func (m *Image) strtab() ([]byte, []uint32) {
	strtab := []byte{' ', 0}
	strx := make([]uint32, len(m.Symbols))
	for i, s := range m.Symbols {
		strx[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	for len(strtab)%8 != 0 {
		strtab = append(strtab, 0)
	}
	return strtab, strx
}

// NameOff returns the file offset of the i'th symbol's name.
func (m *Image) NameOff(i int) uint64 {
	_, strx := m.strtab()
	return uint64(m.StrOff()) + uint64(strx[i])
}

// VMAddr maps a file offset through the segment that contains it.
func (m *Image) VMAddr(off uint64) uint64 {
	for _, seg := range m.Segments {
		if off >= seg.Offset && off < seg.Offset+seg.FileSize {
			return seg.Addr + off - seg.Offset
		}
	}
	return off
}

func (m *Image) Build() []byte {
	var cmds bytes.Buffer
	ncmd := 0
	for _, c := range m.Commands {
		pack(&cmds, &loadCmd{Cmd: c.Cmd, Len: c.Size})
		cmds.Write(c.Data)
		ncmd++
	}
	for _, seg := range m.Segments {
		pack(&cmds, &segment64{
			Cmd:     lcSegment64,
			Len:     uint32(segmentCmdSize + len(seg.Sections)*sectionSize),
			Name:    name16(seg.Name),
			Addr:    seg.Addr,
			Memsz:   seg.Size,
			Offset:  seg.Offset,
			Filesz:  seg.FileSize,
			Maxprot: uint32(seg.Prot),
			Prot:    uint32(seg.Prot),
			Nsect:   uint32(len(seg.Sections)) + seg.ExtraNsect,
		})
		for _, sect := range seg.Sections {
			pack(&cmds, &section64{
				Name:   name16(sect.Name),
				Seg:    name16(seg.Name),
				Addr:   sect.Addr,
				Size:   sect.Size,
				Offset: sect.Offset,
			})
		}
		ncmd++
	}
	strtab, strx := m.strtab()
	if m.SymOff != 0 {
		pack(&cmds, &symtab{
			Cmd:     lcSymtab,
			Len:     symtabCmdSize,
			Symoff:  m.SymOff,
			Nsyms:   uint32(len(m.Symbols)),
			Stroff:  m.StrOff(),
			Strsize: uint32(len(strtab)),
		})
		ncmd++
	}

	var head bytes.Buffer
	pack(&head, &header64{
		Magic:  magic64,
		Cpu:    cpuAmd64,
		SubCpu: 3,
		Type:   typeDylib,
		Ncmd:   uint32(ncmd),
		Cmdsz:  uint32(cmds.Len()),
	})
	head.Write(cmds.Bytes())

	size := uint64(head.Len())
	for _, seg := range m.Segments {
		if end := seg.Offset + seg.FileSize; end > size {
			size = end
		}
	}
	if m.SymOff != 0 {
		if end := uint64(m.StrOff()) + uint64(len(strtab)); end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	copy(buf, head.Bytes())
	for _, p := range m.Patches {
		copy(buf[p.Off:], p.Data)
	}
	if m.SymOff != 0 {
		var syms bytes.Buffer
		for i, s := range m.Symbols {
			pack(&syms, &nlist64{
				Strx:  strx[i],
				Type:  typeSect | typeExt,
				Sect:  s.Sect,
				Value: s.Value,
			})
		}
		copy(buf[m.SymOff:], syms.Bytes())
		copy(buf[m.StrOff():], strtab)
	}
	return buf
}

// Map places every segment at base+Addr in space, copying its file bytes,
// and returns the range covering the image.
func (m *Image) Map(space *memsim.Space, base uint64) models.Range {
	file := m.Build()
	var hi uint64
	for _, seg := range m.Segments {
		if seg.Size == 0 {
			continue
		}
		space.Map(base+seg.Addr, seg.Size, seg.Prot)
		if seg.FileSize > 0 {
			space.Write(base+seg.Addr, file[seg.Offset:seg.Offset+seg.FileSize], 0)
		}
		if end := seg.Addr + seg.Size; end > hi {
			hi = end
		}
	}
	return models.Range{Base: models.Addr(base), Size: hi}
}

// Code is filler for __text that does not repeat within a signature.
func Code(off uint64, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte((off+uint64(i))*7 + (off+uint64(i))>>8)
	}
	return p
}

// Dylib is a three-segment library laid out like a real one, with a
// gap between __TEXT and __DATA in memory that is not there in the file.
//
//	__TEXT     file 0x0000-0x2000  vm 0x0000  __text@0x1000 __const@0x1800
//	__DATA     file 0x2000-0x3000  vm 0x4000  __data@0x2000
//	__LINKEDIT file 0x3000-0x4000  vm 0x5000  symtab, strtab
func Dylib() *Image {
	return &Image{
		Segments: []Segment{
			{Name: "__PAGEZERO"},
			{
				Name: "__TEXT", Addr: 0, Size: 0x2000, Offset: 0, FileSize: 0x2000,
				Prot: memsim.PROT_READ | memsim.PROT_EXEC,
				Sections: []Section{
					{Name: "__text", Addr: 0x1000, Size: 0x800, Offset: 0x1000},
					{Name: "__const", Addr: 0x1800, Size: 0x800, Offset: 0x1800},
				},
			},
			{
				Name: "__DATA", Addr: 0x4000, Size: 0x1000, Offset: 0x2000, FileSize: 0x1000,
				Prot: memsim.PROT_READ | memsim.PROT_WRITE,
				Sections: []Section{
					{Name: "__data", Addr: 0x4000, Size: 0x1000, Offset: 0x2000},
				},
			},
			{
				Name: "__LINKEDIT", Addr: 0x5000, Size: 0x1000, Offset: 0x3000, FileSize: 0x1000,
				Prot: memsim.PROT_READ,
			},
		},
		Symbols: []Symbol{
			{Name: "_foobar", Value: 0x1000, Sect: 1},
			{Name: "_main", Value: 0x1100, Sect: 1},
			{Name: "_hidden", Value: 0x1200, Sect: 1},
			{Name: "_table", Value: 0x1800, Sect: 2},
			{Name: "_global", Value: 0x2010, Sect: 3},
		},
		SymOff: 0x3000,
		Patches: []Patch{
			{Off: 0x1000, Data: Code(0x1000, 0x800)},
		},
	}
}

// WriteFile builds the image into a file named name in a temporary
// directory and returns its path.
func (m *Image) WriteFile(tb testing.TB, name string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, m.Build(), 0644); err != nil {
		tb.Fatal(err)
	}
	return path
}
