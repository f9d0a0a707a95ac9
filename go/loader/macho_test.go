package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lunixbochs/struc"

	"github.com/lunixbochs/machsym/go/internal/machotest"
	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/models/memsim"
)

type fatHeader struct {
	Magic uint32
	Narch uint32
}

type fatArch struct {
	Cpu    uint32
	SubCpu uint32
	Offset uint32
	Size   uint32
	Align  uint32
}

// fat wraps a thin image as the only slice of a universal binary.
func fat(thin []byte) []byte {
	var buf bytes.Buffer
	struc.PackWithOrder(&buf, &fatHeader{Magic: 0xcafebabe, Narch: 1}, binary.BigEndian)
	struc.PackWithOrder(&buf, &fatArch{Cpu: 0x01000007, SubCpu: 3, Offset: 0x1000, Size: uint32(len(thin)), Align: 12}, binary.BigEndian)
	out := make([]byte, 0x1000+len(thin))
	copy(out, buf.Bytes())
	copy(out[0x1000:], thin)
	return out
}

func TestMachOLoad(t *testing.T) {
	m, err := Load(bytes.NewReader(machotest.Dylib().Build()), "any")
	if err != nil {
		t.Fatal(err)
	}
	if m.Arch() != "x86_64" || m.Bits() != 64 || m.FatOffset() != 0 {
		t.Errorf("got %s/%d/%d", m.Arch(), m.Bits(), m.FatOffset())
	}
	if _, err := Load(bytes.NewReader(machotest.Dylib().Build()), "arm64"); err == nil {
		t.Error("loaded x86_64 binary as arm64")
	}
	if _, err := Load(bytes.NewReader([]byte("")), "any"); err == nil {
		t.Fatal("Failed to error on loading bad file.")
	}
}

func TestMachOFat(t *testing.T) {
	m, err := Load(bytes.NewReader(fat(machotest.Dylib().Build())), "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if m.FatOffset() != 0x1000 {
		t.Errorf("fat offset %#x", m.FatOffset())
	}
	if _, err := Load(bytes.NewReader(fat(machotest.Dylib().Build())), "arm64"); err == nil {
		t.Error("found an arm64 slice that is not there")
	}
}

func TestMachOSegments(t *testing.T) {
	m, err := Load(bytes.NewReader(machotest.Dylib().Build()), "any")
	if err != nil {
		t.Fatal(err)
	}
	segments, err := m.Segments()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range segments {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"__TEXT", "__DATA", "__LINKEDIT"}, names); diff != "" {
		t.Errorf("segments (-want +got):\n%s", diff)
	}
	if s := segments[1]; s.Off != 0x2000 || s.Addr != 0x4000 || s.Prot != memsim.PROT_READ|memsim.PROT_WRITE {
		t.Errorf("__DATA = %+v", s)
	}
}

func TestMachOSymbol(t *testing.T) {
	m, err := Load(bytes.NewReader(machotest.Dylib().Build()), "any")
	if err != nil {
		t.Fatal(err)
	}
	syms, err := m.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	want := models.Symbols{
		{Name: "_foobar", Addr: 0x1000, Size: 0x100},
		{Name: "_main", Addr: 0x1100, Size: 0x100},
		{Name: "_hidden", Addr: 0x1200, Size: 0x600},
		{Name: "_table", Addr: 0x1800, Size: 0x810},
		{Name: "_global", Addr: 0x2010},
	}
	if diff := cmp.Diff(want, syms); diff != "" {
		t.Errorf("symbols (-want +got):\n%s", diff)
	}
}

func TestMachOMapInto(t *testing.T) {
	img := machotest.Dylib()
	m, err := Load(bytes.NewReader(img.Build()), "any")
	if err != nil {
		t.Fatal(err)
	}
	space := &memsim.Space{}
	const base = 0x7fff10000000
	r, err := m.MapInto(space, base)
	if err != nil {
		t.Fatal(err)
	}
	if want := (models.Range{Base: base, Size: 0x6000}); r != want {
		t.Errorf("range = %s, want %s", r, want)
	}
	// the gap between __TEXT and __DATA stays unmapped
	if ok, _ := space.RangeValid(base+0x2000, 0x2000, 0); ok {
		t.Error("gap is mapped")
	}
	code := make([]byte, 0x10)
	if err := space.Read(base+0x1000, code, memsim.PROT_READ); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(code, machotest.Code(0x1000, 0x10)) {
		t.Errorf("__text = %x", code)
	}
	// __DATA is file 0x2000, memory 0x4000
	if _, prot := space.RangeValid(base+0x4000, 0x1000, memsim.PROT_WRITE); !prot {
		t.Error("__DATA is not writable")
	}
}
