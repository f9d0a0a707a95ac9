package macho

import (
	"github.com/lunixbochs/machsym/go/models"
)

const PageSize = 0x1000

func isMagic(v uint32) bool {
	switch v {
	case MH_MAGIC_64, MH_CIGAM_64, MH_MAGIC, MH_CIGAM:
		return true
	}
	return false
}

// LocateHeader returns the first page boundary inside r that starts with a
// Mach-O magic. Unreadable pages are skipped. Nothing checks that the image
// found is the module the caller meant, so r must already belong to it.
func LocateHeader(p models.Process, r models.Range) (models.Addr, bool) {
	// negation mod PageSize rounds base up to the next page
	distance := (PageSize - r.Base.Mod(PageSize)) % PageSize
	if r.Size < distance {
		return 0, false
	}
	first := r.Base.Add(distance)
	pages := (r.Size - distance) / PageSize
	for i := uint64(0); i < pages; i++ {
		a := first.Add(i * PageSize)
		if v, err := readU32(p, a); err == nil && isMagic(v) {
			return a, true
		}
	}
	return 0, false
}

// PointerSize classifies the image in r by its header magic.
func PointerSize(p models.Process, r models.Range) (models.PointerSize, bool) {
	header, ok := LocateHeader(p, r)
	if !ok {
		return 0, false
	}
	magic, err := readU32(p, header)
	if err != nil {
		return 0, false
	}
	switch magic {
	case MH_MAGIC_64, MH_CIGAM_64:
		return models.Bits64, true
	case MH_MAGIC, MH_CIGAM:
		return models.Bits32, true
	}
	return 0, false
}
