package macho

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"zombiezen.com/go/log/testlog"

	"github.com/lunixbochs/machsym/go/internal/machotest"
	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/process"
	"github.com/lunixbochs/machsym/go/sigscan"
)

const (
	testBase   = 0x10000000
	testModule = "libtest.dylib"
)

func TestMain(m *testing.M) {
	testlog.Main(nil)
	os.Exit(m.Run())
}

// loadImage maps img at testBase and writes it to disk behind some junk,
// the way a slice sits inside a fat binary.
func loadImage(t *testing.T, img *machotest.Image) (*process.Sim, models.Range) {
	t.Helper()
	sim := process.NewSim()
	r := img.Map(sim.Space, testBase)
	file := append(bytes.Repeat([]byte{0xaa}, 0x1000), img.Build()...)
	path := filepath.Join(t.TempDir(), testModule)
	if err := os.WriteFile(path, file, 0644); err != nil {
		t.Fatal(err)
	}
	sim.AddModule(testModule, path, r)
	return sim, r
}

func newSession(t *testing.T, img *machotest.Image, opts ...Option) (*Session, *process.Sim) {
	t.Helper()
	ctx := testlog.WithTB(context.Background(), t)
	sim, r := loadImage(t, img)
	s, err := NewSession(ctx, sim, testModule, r, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s, sim
}

type countingScanner struct {
	calls int
}

func (c *countingScanner) Scan(p models.Process, r models.Range, pat *sigscan.Pattern) (models.Addr, bool) {
	c.calls++
	return sigscan.PageScanner{}.Scan(p, r, pat)
}

func TestSessionLayout(t *testing.T) {
	s, _ := newSession(t, machotest.Dylib())
	if s.Header() != testBase {
		t.Errorf("Header() = %s", s.Header())
	}
	if s.NumSymbols() != 5 {
		t.Errorf("NumSymbols() = %d", s.NumSymbols())
	}
	if s.SymtabAddr() != testBase+0x5000 {
		t.Errorf("SymtabAddr() = %s", s.SymtabAddr())
	}
	if s.StrtabAddr() != testBase+0x5050 {
		t.Errorf("StrtabAddr() = %s", s.StrtabAddr())
	}
}

func TestSessionNamed(t *testing.T) {
	s, _ := newSession(t, machotest.Dylib())
	want := models.Symbols{
		{Name: "_foobar", Addr: testBase + 0x1000},
		{Name: "_main", Addr: testBase + 0x1100},
		{Name: "_hidden", Addr: testBase + 0x1200},
		{Name: "_table", Addr: testBase + 0x1800},
		{Name: "_global", Addr: testBase + 0x4010},
	}
	if diff := cmp.Diff(want, s.Named(NameCapacity)); diff != "" {
		t.Errorf("Named() (-want +got):\n%s", diff)
	}
}

func TestSymbolsRestartable(t *testing.T) {
	s, _ := newSession(t, machotest.Dylib())
	collect := func() []Symbol {
		var ret []Symbol
		for sym := range s.Symbols() {
			ret = append(ret, sym)
		}
		return ret
	}
	first, second := collect(), collect()
	if len(first) > s.NumSymbols() {
		t.Errorf("yielded %d symbols, declared %d", len(first), s.NumSymbols())
	}
	if diff := cmp.Diff(first, second, cmp.AllowUnexported(Symbol{})); diff != "" {
		t.Errorf("second pass differs (-first +second):\n%s", diff)
	}
	// stopping early must not panic
	for range s.Symbols() {
		break
	}
}

func TestSymbolsSkipUnreadable(t *testing.T) {
	img := machotest.Dylib()
	s, sim := newSession(t, img)
	// symtab and strtab live in __LINKEDIT
	sim.Space.Unmap(testBase+0x5000, 0x1000)
	n := 0
	for range s.Symbols() {
		n++
	}
	if n != 0 {
		t.Errorf("yielded %d symbols from unmapped symtab", n)
	}
}

func TestNewSessionNoSymtab(t *testing.T) {
	img := machotest.Dylib()
	img.SymOff = 0
	sim, r := loadImage(t, img)
	ctx := testlog.WithTB(context.Background(), t)
	if _, err := NewSession(ctx, sim, testModule, r); errors.Cause(err) != ErrNoSymtab {
		t.Errorf("NewSession without LC_SYMTAB: %v", err)
	}

	img = machotest.Dylib()
	img.Symbols = nil
	sim, r = loadImage(t, img)
	if _, err := NewSession(ctx, sim, testModule, r); errors.Cause(err) != ErrNoSymtab {
		t.Errorf("NewSession with zero symbols: %v", err)
	}
}

func TestNewSessionNoHeader(t *testing.T) {
	ctx := testlog.WithTB(context.Background(), t)
	sim := process.NewSim()
	_, err := NewSession(ctx, sim, testModule, models.Range{Base: 0x1000, Size: 0x10000})
	if errors.Cause(err) != ErrHeaderNotFound {
		t.Errorf("NewSession on empty memory: %v", err)
	}

	sim = simWithMagic(t, 0x1000, MH_MAGIC)
	_, err = NewSession(ctx, sim, testModule, models.Range{Base: 0x1000, Size: 0x1000})
	if errors.Cause(err) != ErrUnsupported {
		t.Errorf("NewSession on 32-bit image: %v", err)
	}
}

func TestFindLive(t *testing.T) {
	scanner := &countingScanner{}
	s, _ := newSession(t, machotest.Dylib(), WithScanner(scanner))
	ctx := testlog.WithTB(context.Background(), t)
	if addr, ok := s.FindAddress(ctx, []byte("_main")); !ok || addr != testBase+0x1100 {
		t.Errorf("FindAddress(_main) = %s, %v", addr, ok)
	}
	if addr, ok := s.FindAddress(ctx, []byte("_global")); !ok || addr != testBase+0x4010 {
		t.Errorf("FindAddress(_global) = %s, %v", addr, ok)
	}
	if scanner.calls != 0 {
		t.Errorf("live hits ran the file fallback %d times", scanner.calls)
	}
}

func TestFindLiveWithoutFile(t *testing.T) {
	img := machotest.Dylib()
	sim := process.NewSim()
	r := img.Map(sim.Space, testBase)
	ctx := testlog.WithTB(context.Background(), t)
	// no module path registered, so any file access would fail
	s, err := NewSession(ctx, sim, testModule, r)
	if err != nil {
		t.Fatal(err)
	}
	if addr, ok := s.FindAddress(ctx, []byte("_table")); !ok || addr != testBase+0x1800 {
		t.Errorf("FindAddress(_table) = %s, %v", addr, ok)
	}
	if _, ok := s.FindAddress(ctx, []byte("_absent")); ok {
		t.Error("resolved a name that exists nowhere")
	}
}

func TestFindExactName(t *testing.T) {
	s, _ := newSession(t, machotest.Dylib())
	ctx := testlog.WithTB(context.Background(), t)
	// only "_foobar" is stored
	for _, name := range []string{"_foo", "_fooba", "_foobarbaz", "foobar"} {
		if addr, ok := s.FindAddress(ctx, []byte(name)); ok {
			t.Errorf("FindAddress(%q) matched at %s", name, addr)
		}
	}
}

func TestFindInFile(t *testing.T) {
	img := machotest.Dylib()
	scanner := &countingScanner{}
	s, sim := newSession(t, img, WithScanner(scanner))
	ctx := testlog.WithTB(context.Background(), t)

	// strip "_hidden" from the live string table
	nameAddr := testBase + img.VMAddr(img.NameOff(2))
	if err := sim.Space.Write(nameAddr, []byte("_xxxxxx"), 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.FindLive([]byte("_hidden")); ok {
		t.Fatal("stripped name still resolves from memory")
	}
	addr, ok := s.FindAddress(ctx, []byte("_hidden"))
	if !ok || addr != testBase+0x1200 {
		t.Errorf("FindAddress(_hidden) = %s, %v; want %#x", addr, ok, testBase+0x1200)
	}
	if scanner.calls != 1 {
		t.Errorf("scanner called %d times", scanner.calls)
	}
	if _, ok := s.FindAddress(ctx, []byte("_nowhere")); ok {
		t.Error("resolved a name that exists nowhere")
	}
	// "_hid" is a prefix of a file name but not a name
	if _, ok := s.FindInFile(ctx, []byte("_hid")); ok {
		t.Error("file fallback matched a prefix")
	}
}

func TestFindInFileSignatureMissing(t *testing.T) {
	img := machotest.Dylib()
	s, sim := newSession(t, img)
	ctx := testlog.WithTB(context.Background(), t)
	nameAddr := testBase + img.VMAddr(img.NameOff(2))
	sim.Space.Write(nameAddr, []byte("_xxxxxx"), 0)
	// the code the signature was taken from has changed in memory
	sim.Space.Write(testBase+0x1200, make([]byte, SignatureSize), 0)
	if addr, ok := s.FindAddress(ctx, []byte("_hidden")); ok {
		t.Errorf("FindAddress(_hidden) = %s after its code changed", addr)
	}
}

func TestLongNames(t *testing.T) {
	long := "_" + strings.Repeat("x", 200)
	img := machotest.Dylib()
	img.Symbols = append(img.Symbols, machotest.Symbol{Name: long, Value: 0x1300, Sect: 1})
	s, sim := newSession(t, img)
	ctx := testlog.WithTB(context.Background(), t)

	var sym Symbol
	found := false
	for candidate := range s.Symbols() {
		if candidate.Addr == testBase+0x1300 {
			sym, found = candidate, true
		}
	}
	if !found {
		t.Fatal("long symbol not produced")
	}
	if _, err := sym.Name(sim, NameCapacity); errors.Cause(err) != ErrNameTooLong {
		t.Errorf("Name(%d) error = %v", NameCapacity, err)
	}
	if name, err := sym.Name(sim, 256); err != nil || name != long {
		t.Errorf("Name(256) = %q, %v", name, err)
	}
	if _, ok := s.FindLive([]byte(long)); ok {
		t.Error("live lookup matched a name longer than its capacity")
	}
	// the file has no capacity limit
	if addr, ok := s.FindAddress(ctx, []byte(long)); !ok || addr != testBase+0x1300 {
		t.Errorf("FindAddress(long) = %s, %v", addr, ok)
	}
}

func TestOpenFileImage(t *testing.T) {
	img := machotest.Dylib()
	file := img.Build()
	f, err := OpenFileImage(append([]byte("junk"), file...), file[:Offsets64.HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if f.Origin != 4 {
		t.Errorf("Origin = %d", f.Origin)
	}
	if off, ok := f.Lookup([]byte("_table")); !ok || off != 0x1800 {
		t.Errorf("Lookup(_table) = %#x, %v", off, ok)
	}
	sig, ok := f.Signature(0x1100)
	if !ok || !bytes.Equal(sig, file[0x1100:0x1100+SignatureSize]) {
		t.Errorf("Signature(0x1100) = % x, %v", sig, ok)
	}
	if _, ok := f.Signature(uint64(len(file))); ok {
		t.Error("Signature past end of file succeeded")
	}
	if _, err := OpenFileImage(file, []byte("not a header at all, not at all")); err == nil {
		t.Error("OpenFileImage found a header that is not there")
	}
}

func TestWalkSkipsUnknownCommands(t *testing.T) {
	img := machotest.Dylib()
	img.Commands = []machotest.Command{
		// LC_UUID
		{Cmd: 0x1b, Size: 0x18, Data: bytes.Repeat([]byte{0x1b}, 0x10)},
		// odd-sized, so every later command is unaligned
		{Cmd: 0x7777, Size: 0x15, Data: bytes.Repeat([]byte{0x19}, 0x0d)},
	}
	s, _ := newSession(t, img)
	if s.NumSymbols() != len(img.Symbols) {
		t.Errorf("NumSymbols() = %d", s.NumSymbols())
	}
	if addr, ok := s.FindLive([]byte("_global")); !ok || addr != testBase+0x4010 {
		t.Errorf("FindLive(_global) = %s, %v", addr, ok)
	}

	file := img.Build()
	f, err := OpenFileImage(file, file[:Offsets64.HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if off, ok := f.Lookup([]byte("_main")); !ok || off != 0x1100 {
		t.Errorf("Lookup(_main) = %#x, %v", off, ok)
	}
}

func TestWalkStopsOnZeroSize(t *testing.T) {
	img := machotest.Dylib()
	img.Commands = []machotest.Command{{Cmd: 0x1b, Size: 0, Data: make([]byte, 0x10)}}
	sim, r := loadImage(t, img)
	ctx := testlog.WithTB(context.Background(), t)
	if _, err := NewSession(ctx, sim, testModule, r); errors.Cause(err) != ErrNoSymtab {
		t.Errorf("NewSession after a zero-size command: %v", err)
	}
	file := img.Build()
	if _, err := OpenFileImage(file, file[:Offsets64.HeaderSize]); errors.Cause(err) != ErrNoSymtab {
		t.Errorf("OpenFileImage after a zero-size command: %v", err)
	}
}

func TestWalkSectionsWithinCommand(t *testing.T) {
	img := machotest.Dylib()
	// __TEXT claims sections that would overlap the __DATA command
	img.Segments[1].ExtraNsect = 3
	s, _ := newSession(t, img)
	// __TEXT, __text, __const, __DATA (shared by __data), __LINKEDIT
	if n := s.fileMap.Len(); n != 5 {
		t.Errorf("map has %d entries: %v", n, &s.fileMap)
	}
	if addr, ok := s.FindLive([]byte("_main")); !ok || addr != testBase+0x1100 {
		t.Errorf("FindLive(_main) = %s, %v", addr, ok)
	}
}

func TestEmptyName(t *testing.T) {
	img := machotest.Dylib()
	// an empty string table entry right after the leading " \0"
	img.Symbols = append(img.Symbols, machotest.Symbol{Name: "", Value: 0x1300, Sect: 1})
	s, _ := newSession(t, img)
	ctx := testlog.WithTB(context.Background(), t)
	if addr, ok := s.FindLive(nil); ok {
		t.Errorf("FindLive(empty) = %s", addr)
	}
	if addr, ok := s.FindAddress(ctx, []byte{}); ok {
		t.Errorf("FindAddress(empty) = %s", addr)
	}
	file := img.Build()
	f, err := OpenFileImage(file, file[:Offsets64.HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if off, ok := f.Lookup(nil); ok {
		t.Errorf("Lookup(empty) = %#x", off)
	}
}

func TestNameCapacityInvalid(t *testing.T) {
	s, sim := newSession(t, machotest.Dylib())
	for sym := range s.Symbols() {
		for _, capacity := range []int{0, -1} {
			if _, err := sym.Name(sim, capacity); errors.Cause(err) != ErrNameTooLong {
				t.Errorf("Name(%d) error = %v", capacity, err)
			}
		}
		break
	}
}

func TestSignatureBounds(t *testing.T) {
	f := &FileImage{Buf: make([]byte, 0x100), Origin: 0x10}
	for _, off := range []uint64{0xf0 - SignatureSize + 1, 0x100, 1<<64 - 1, 1<<64 - SignatureSize, 1<<64 - 0x10} {
		if _, ok := f.Signature(off); ok {
			t.Errorf("Signature(%#x) succeeded", off)
		}
	}
	if sig, ok := f.Signature(0xf0 - SignatureSize); !ok || len(sig) != SignatureSize {
		t.Errorf("Signature at the last fit = %d bytes, %v", len(sig), ok)
	}
	short := &FileImage{Buf: make([]byte, SignatureSize-1)}
	if _, ok := short.Signature(0); ok {
		t.Error("Signature from a buffer shorter than a signature succeeded")
	}
}

func TestFindInFileHostileValue(t *testing.T) {
	img := machotest.Dylib()
	img.Symbols[2].Value = 0xfffffffffffffff0
	s, sim := newSession(t, img)
	ctx := testlog.WithTB(context.Background(), t)
	sim.Space.Write(testBase+img.VMAddr(img.NameOff(2)), []byte("_xxxxxx"), 0)
	if addr, ok := s.FindAddress(ctx, []byte("_hidden")); ok {
		t.Errorf("FindAddress(_hidden) = %s with an out of range value", addr)
	}
}
