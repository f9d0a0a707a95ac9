package models

import "fmt"

// Addr is a virtual address in a target process.
type Addr uint64

func (a Addr) Add(off uint64) Addr { return a + Addr(off) }
func (a Addr) Value() uint64       { return uint64(a) }
func (a Addr) Mod(n uint64) uint64 { return uint64(a) % n }

func (a Addr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

// Range is a module's mapped region in a process.
type Range struct {
	Base Addr
	Size uint64
}

func (r Range) End() Addr { return r.Base.Add(r.Size) }

func (r Range) Contains(a Addr) bool {
	return a >= r.Base && a < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Base, r.End())
}

type PointerSize int

const (
	Bits32 PointerSize = 4
	Bits64 PointerSize = 8
)

func (p PointerSize) String() string {
	switch p {
	case Bits32:
		return "32-bit"
	case Bits64:
		return "64-bit"
	}
	return fmt.Sprintf("PointerSize(%d)", int(p))
}
