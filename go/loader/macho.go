package loader

import (
	"bytes"
	"debug/macho"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/models/memsim"
)

var machoCpuMap = map[macho.Cpu]string{
	macho.Cpu386:   "x86",
	macho.CpuAmd64: "x86_64",
	macho.CpuArm:   "arm",
	macho.CpuArm64: "arm64",
	macho.CpuPpc:   "ppc",
	macho.CpuPpc64: "ppc64",
}

var fatMagic = []byte{0xca, 0xfe, 0xba, 0xbe}

var machoMagics = [][]byte{
	fatMagic,
	{0xfe, 0xed, 0xfa, 0xce},
	{0xfe, 0xed, 0xfa, 0xcf},
	{0xce, 0xfa, 0xed, 0xfe},
	{0xcf, 0xfa, 0xed, 0xfe},
}

// n_type bits that mark debugger entries
const machoStabMask = 0xe0

type MachOLoader struct {
	file      *macho.File
	arch      string
	bits      int
	fatOffset uint32
	symCache  models.Symbols
}

func MatchMachO(r io.ReaderAt) bool {
	magic := getMagic(r)
	for _, check := range machoMagics {
		if bytes.Equal(magic, check) {
			return true
		}
	}
	return false
}

// NewMachOLoader opens a thin or fat Mach-O. For fat files archHint picks
// the slice; "any" takes the first one with a known CPU.
func NewMachOLoader(r io.ReaderAt, archHint string) (*MachOLoader, error) {
	var (
		file      *macho.File
		err       error
		fatOffset uint32
	)
	if bytes.Equal(getMagic(r), fatMagic) {
		var fatFile *macho.FatFile
		fatFile, err = macho.NewFatFile(r)
		if fatFile != nil {
			for _, arch := range fatFile.Arches {
				if machineName, ok := machoCpuMap[arch.Cpu]; ok {
					if machineName == archHint || archHint == "any" {
						file = arch.File
						fatOffset = arch.Offset
						break
					}
				}
			}
			if file == nil {
				return nil, errors.Errorf("Could not find fat binary entry for arch '%s'.", archHint)
			}
		}
	} else {
		file, err = macho.NewFile(r)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open MachO file")
	}
	var bits int
	switch file.Magic {
	case macho.Magic32:
		bits = 32
	case macho.Magic64:
		bits = 64
	default:
		return nil, errors.New("Unknown magic.")
	}
	machineName, ok := machoCpuMap[file.Cpu]
	if !ok {
		return nil, errors.Errorf("Unsupported CPU: %s", file.Cpu)
	}
	if archHint != "any" && archHint != "" && machineName != archHint {
		return nil, errors.Errorf("binary is %s, not %s", machineName, archHint)
	}
	return &MachOLoader{
		file:      file,
		arch:      machineName,
		bits:      bits,
		fatOffset: fatOffset,
	}, nil
}

func (m *MachOLoader) Arch() string { return m.arch }
func (m *MachOLoader) Bits() int    { return m.bits }

// FatOffset is where the selected slice starts in a fat file, 0 for thin
// files.
func (m *MachOLoader) FatOffset() uint32 { return m.fatOffset }

// TextAddr is the preferred load address of __TEXT, which holds the header.
func (m *MachOLoader) TextAddr() uint64 {
	if seg := m.file.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

func (m *MachOLoader) Segments() ([]models.SegmentData, error) {
	ret := make([]models.SegmentData, 0, len(m.file.Loads))
	for _, l := range m.file.Loads {
		s, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		switch s.Cmd {
		case macho.LoadCmdSegment, macho.LoadCmdSegment64:
			if s.Name == "__PAGEZERO" || s.Memsz == 0 {
				continue
			}
			ret = append(ret, models.SegmentData{
				Name:     s.Name,
				Off:      s.Offset,
				Addr:     s.Addr,
				Size:     s.Memsz,
				FileSize: s.Filesz,
				Prot:     int(s.Prot) & memsim.PROT_ALL,
				DataFunc: s.Data,
			})
		}
	}
	if len(ret) == 0 {
		return nil, errors.New("no segments found")
	}
	return ret, nil
}

func (m *MachOLoader) getSymbols() (models.Symbols, error) {
	if m.file.Symtab == nil {
		return nil, errors.New("no symbol table found")
	}
	var symbols models.Symbols
	for _, s := range m.file.Symtab.Syms {
		if s.Sect == 0 || s.Name == "" || s.Type&machoStabMask != 0 {
			continue
		}
		symbols = append(symbols, models.Symbol{Name: s.Name, Addr: models.Addr(s.Value)})
	}
	sort.Sort(symbols)
	// a symbol runs until the next one starts
	for i := 0; i+1 < len(symbols); i++ {
		symbols[i].Size = uint64(symbols[i+1].Addr - symbols[i].Addr)
	}
	return symbols, nil
}

// Symbols lists defined symbols from the file's symbol table, sorted by
// address, at their unslid addresses.
func (m *MachOLoader) Symbols() (models.Symbols, error) {
	var err error
	if m.symCache == nil {
		m.symCache, err = m.getSymbols()
	}
	return m.symCache, err
}

// MapInto copies every segment into space so that __TEXT lands at base,
// and returns the range the image occupies.
func (m *MachOLoader) MapInto(space *memsim.Space, base uint64) (models.Range, error) {
	segs, err := m.Segments()
	if err != nil {
		return models.Range{}, err
	}
	text := m.TextAddr()
	var hi uint64
	for _, seg := range segs {
		if seg.Addr < text {
			return models.Range{}, errors.Errorf("segment %s at %#x is below __TEXT", seg.Name, seg.Addr)
		}
		addr := base + (seg.Addr - text)
		size := pageAlign(seg.Size)
		space.Map(addr, size, seg.Prot)
		if seg.FileSize > 0 {
			data, err := seg.Data()
			if err != nil {
				return models.Range{}, errors.Wrapf(err, "reading %s", seg.Name)
			}
			if err := space.Write(addr, data, 0); err != nil {
				return models.Range{}, errors.Wrapf(err, "mapping %s", seg.Name)
			}
		}
		if end := seg.Addr - text + size; end > hi {
			hi = end
		}
	}
	return models.Range{Base: models.Addr(base), Size: hi}, nil
}
