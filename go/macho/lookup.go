package macho

import (
	"bytes"
	"context"

	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/models"
)

// FindAddress resolves name from live memory, falling back to the file on
// disk when memory has nothing.
func (s *Session) FindAddress(ctx context.Context, name []byte) (models.Addr, bool) {
	if len(name) == 0 {
		return 0, false
	}
	if addr, ok := s.FindLive(name); ok {
		return addr, true
	}
	log.Debugf(ctx, "%s: %q not in live symbol table, trying file", s.module, name)
	return s.FindInFile(ctx, name)
}

// FindLive returns the first symbol named exactly name. Names longer than
// NameCapacity never match, and neither does an empty name.
func (s *Session) FindLive(name []byte) (models.Addr, bool) {
	if len(name) == 0 {
		return 0, false
	}
	for sym := range s.Symbols() {
		got, err := readCString(s.proc, sym.nameAddr, NameCapacity)
		if err != nil {
			continue
		}
		if bytes.Equal(got, name) {
			return sym.Addr, true
		}
	}
	return 0, false
}
