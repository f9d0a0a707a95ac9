package sigscan

import (
	"github.com/lunixbochs/machsym/go/models"
)

const pageSize = 0x1000

// Scanner finds the first address in r where pat matches.
type Scanner interface {
	Scan(p models.Process, r models.Range, pat *Pattern) (models.Addr, bool)
}

// PageScanner reads r one page at a time and skips pages that cannot be
// read. Matches may straddle page boundaries between readable pages.
type PageScanner struct{}

func (PageScanner) Scan(p models.Process, r models.Range, pat *Pattern) (models.Addr, bool) {
	n := pat.Len()
	if n == 0 || uint64(n) > r.Size {
		return 0, false
	}
	page := make([]byte, pageSize)
	// tail of the previous readable page, so a match can cross into this one
	var carry []byte
	var carryAddr models.Addr
	buf := make([]byte, 0, pageSize+n)

	end := r.End()
	for addr := r.Base; addr < end; {
		size := pageSize - addr.Mod(pageSize)
		if rest := uint64(end - addr); size > rest {
			size = rest
		}
		chunk := page[:size]
		next := addr.Add(size)
		if err := p.MemReadInto(chunk, addr.Value()); err != nil {
			carry = nil
			addr = next
			continue
		}
		base := addr
		buf = buf[:0]
		if len(carry) > 0 && carryAddr.Add(uint64(len(carry))) == addr {
			buf = append(buf, carry...)
			base = carryAddr
		}
		buf = append(buf, chunk...)
		if i := pat.Index(buf); i >= 0 {
			return base.Add(uint64(i)), true
		}
		keep := n - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		carry = append(carry[:0], buf[len(buf)-keep:]...)
		carryAddr = base.Add(uint64(len(buf) - keep))
		addr = next
	}
	return 0, false
}
