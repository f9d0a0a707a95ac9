// Package disas disassembles code read from a process, for printing next
// to resolved symbols.
package disas

import (
	"encoding/hex"
	"fmt"
	"strings"

	cs "github.com/lunixbochs/capstr"
	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
)

type mode struct{ arch, mode int }

var modes = map[string]mode{
	"x86":    {cs.ARCH_X86, cs.MODE_32},
	"x86_64": {cs.ARCH_X86, cs.MODE_64},
	"arm":    {cs.ARCH_ARM, cs.MODE_ARM},
	"arm64":  {cs.ARCH_ARM64, cs.MODE_ARM},
}

// Disassembler wraps a capstone engine for one architecture. Results are
// cached by address and bytes.
type Disassembler struct {
	Arch string

	cs    *cs.Engine
	cache *models.Discache
}

func New(arch string) (*Disassembler, error) {
	m, ok := modes[arch]
	if !ok {
		return nil, errors.Errorf("no disassembler for arch %q", arch)
	}
	engine, err := cs.New(m.arch, m.mode)
	if err != nil {
		return nil, errors.Wrap(err, "cs.New() failed")
	}
	return &Disassembler{Arch: arch, cs: engine, cache: models.NewDiscache()}, nil
}

func (d *Disassembler) Dis(mem []byte, addr uint64) ([]models.Ins, error) {
	if ent := d.cache.Get(addr, mem); ent != nil {
		return ent.Dis, nil
	}
	dis, err := d.cs.Dis(mem, addr, 0)
	if err != nil {
		return nil, errors.Wrap(err, "capstone disassembly failed")
	}
	ret := make([]models.Ins, len(dis))
	for i, v := range dis {
		ret[i] = v
	}
	d.cache.Put(addr, mem, ret)
	return ret, nil
}

// Disassemble reads size bytes at addr from p.
func (d *Disassembler) Disassemble(p models.Process, addr models.Addr, size int) (string, error) {
	mem := make([]byte, size)
	if err := p.MemReadInto(mem, addr.Value()); err != nil {
		return "", errors.Wrapf(err, "reading %d bytes at %s", size, addr)
	}
	ins, err := d.Dis(mem, addr.Value())
	if err != nil {
		return "", err
	}
	return Format(ins, 0), nil
}

// Format prints one instruction per line as "addr: bytes mnemonic operands",
// with the byte column padded to the longest instruction or pad bytes.
func Format(ins []models.Ins, pad int) string {
	width := pad
	for _, in := range ins {
		if n := len(in.Bytes()); n > width {
			width = n
		}
	}
	var out []string
	for _, in := range ins {
		data := strings.Repeat(" ", (width-len(in.Bytes()))*2) + hex.EncodeToString(in.Bytes())
		out = append(out, strings.TrimRight(fmt.Sprintf("0x%x: %s %s %s", in.Addr(), data, in.Mnemonic(), in.OpStr()), " "))
	}
	return strings.Join(out, "\n")
}
