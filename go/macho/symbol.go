package macho

import (
	"bytes"
	"iter"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
)

// NameCapacity bounds the names compared by live lookups.
const NameCapacity = 128

// Symbol is one symbol table entry as found in process memory.
type Symbol struct {
	Addr     models.Addr
	nameAddr models.Addr
}

func (s Symbol) NameAddr() models.Addr { return s.nameAddr }

// Name reads the symbol's NUL-terminated name. It fails with
// ErrNameTooLong when no terminator occurs within capacity bytes.
func (s Symbol) Name(p models.Process, capacity int) (string, error) {
	b, err := readCString(p, s.nameAddr, capacity)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readCString reads page by page so a name near the end of a mapping is
// not lost to a read that crosses into unmapped memory.
func readCString(p models.Process, addr models.Addr, capacity int) ([]byte, error) {
	if capacity <= 0 {
		return nil, errors.Wrapf(ErrNameTooLong, "capacity %d", capacity)
	}
	buf := make([]byte, capacity)
	for n := 0; n < capacity; {
		a := addr.Add(uint64(n))
		chunk := int(PageSize - a.Mod(PageSize))
		if chunk > capacity-n {
			chunk = capacity - n
		}
		if err := p.MemReadInto(buf[n:n+chunk], a.Value()); err != nil {
			return nil, errors.Wrapf(err, "failed to read name at %s", a)
		}
		if i := bytes.IndexByte(buf[n:n+chunk], 0); i >= 0 {
			return buf[:n+i], nil
		}
		n += chunk
	}
	return nil, errors.Wrapf(ErrNameTooLong, "name at %s", addr)
}

// Symbols yields the image's symbol table. Entries that cannot be read are
// skipped, so fewer than NumSymbols may be produced. Every pass reads
// memory again.
func (s *Session) Symbols() iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		for j := uint64(0); j < uint64(s.nsyms); j++ {
			sym, err := s.symbolAt(j)
			if err != nil {
				continue
			}
			if !yield(sym) {
				return
			}
		}
	}
}

func (s *Session) symbolAt(j uint64) (Symbol, error) {
	off := s.offsets
	entry := s.symtabAddr.Add(j * off.SizeOfNlistItem)
	strx, err := readU32(s.proc, entry)
	if err != nil {
		return Symbol{}, err
	}
	value, err := readU64(s.proc, entry.Add(off.NlistValue))
	if err != nil {
		return Symbol{}, err
	}
	return Symbol{
		Addr:     s.Translate(value),
		nameAddr: s.strtabAddr.Add(uint64(strx)),
	}, nil
}

// Named resolves every readable symbol with a name that fits capacity.
func (s *Session) Named(capacity int) models.Symbols {
	var ret models.Symbols
	for sym := range s.Symbols() {
		name, err := sym.Name(s.proc, capacity)
		if err != nil || name == "" {
			continue
		}
		ret = append(ret, models.Symbol{Name: name, Addr: sym.Addr})
	}
	return ret
}
