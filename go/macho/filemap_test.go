package macho

import (
	"testing"
)

func TestFileOffsetMap(t *testing.T) {
	var m FileOffsetMap
	m.Insert(0x2000, 0x4000)
	m.Insert(0x0, 0x1000)
	tests := []struct{ fileoff, vmaddr uint64 }{
		{0x2500, 0x4500},
		{0x500, 0x1500},
		{0x0, 0x1000},
		{0x2000, 0x4000},
		{0x1fff, 0x2fff},
	}
	for _, test := range tests {
		if got := m.Translate(test.fileoff); got != test.vmaddr {
			t.Errorf("Translate(%#x) = %#x, want %#x", test.fileoff, got, test.vmaddr)
		}
	}
}

func TestFileOffsetMapIdentity(t *testing.T) {
	var m FileOffsetMap
	if got := m.Translate(0x1234); got != 0x1234 {
		t.Errorf("empty map Translate(0x1234) = %#x", got)
	}
	m.Insert(0x1000, 0x8000)
	if got := m.Translate(0x0); got != 0x0 {
		t.Errorf("Translate below first entry = %#x, want identity", got)
	}
	if got := m.Translate(0x1010); got != 0x8010 {
		t.Errorf("Translate(0x1010) = %#x", got)
	}
}

func TestFileOffsetMapReplace(t *testing.T) {
	var m FileOffsetMap
	m.Insert(0x0, 0x0)
	m.Insert(0x3000, 0x5000)
	m.Insert(0x0, 0x100000000)
	if m.Len() != 2 {
		t.Fatalf("Len() = %d after replacing a key", m.Len())
	}
	if v, ok := m.Lookup(0); !ok || v != 0x100000000 {
		t.Errorf("Lookup(0) = %#x, %v", v, ok)
	}
	if _, ok := m.Lookup(0x10); ok {
		t.Error("Lookup of a non-key succeeded")
	}
	if s := m.String(); s != "{0x0->0x100000000 0x3000->0x5000}" {
		t.Errorf("String() = %s", s)
	}
}
