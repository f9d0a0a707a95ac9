package macho

import (
	"encoding/binary"

	"github.com/lunixbochs/machsym/go/models"
)

// Only little-endian images are resolved; byte-swapped magics are
// recognized for classification alone.
var order = binary.LittleEndian

func readU32(p models.Process, addr models.Addr) (uint32, error) {
	var buf [4]byte
	if err := p.MemReadInto(buf[:], addr.Value()); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

func readU64(p models.Process, addr models.Addr) (uint64, error) {
	var buf [8]byte
	if err := p.MemReadInto(buf[:], addr.Value()); err != nil {
		return 0, err
	}
	return order.Uint64(buf[:]), nil
}
