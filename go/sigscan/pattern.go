// Package sigscan finds byte signatures in process memory.
package sigscan

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pattern is a byte signature. Positions where Mask is false match any
// byte.
type Pattern struct {
	Bytes []byte
	Mask  []bool
}

// Exact matches b byte for byte.
func Exact(b []byte) *Pattern {
	mask := make([]bool, len(b))
	for i := range mask {
		mask[i] = true
	}
	return &Pattern{Bytes: append([]byte(nil), b...), Mask: mask}
}

// Parse reads a pattern written as hex bytes separated by spaces, with "??"
// or "?" for wildcards: "48 8b ?? 05".
func Parse(s string) (*Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty pattern")
	}
	p := &Pattern{Bytes: make([]byte, len(fields)), Mask: make([]bool, len(fields))}
	for i, f := range fields {
		if f == "?" || f == "??" {
			continue
		}
		b, err := hex.DecodeString(f)
		if err != nil || len(b) != 1 {
			return nil, errors.Errorf("bad pattern byte %q at position %d", f, i)
		}
		p.Bytes[i], p.Mask[i] = b[0], true
	}
	return p, nil
}

func (p *Pattern) Len() int { return len(p.Bytes) }

func (p *Pattern) String() string {
	s := make([]string, len(p.Bytes))
	for i, b := range p.Bytes {
		if p.Mask[i] {
			s[i] = fmt.Sprintf("%02x", b)
		} else {
			s[i] = "??"
		}
	}
	return strings.Join(s, " ")
}

func (p *Pattern) matchAt(buf []byte, i int) bool {
	for j, b := range p.Bytes {
		if p.Mask[j] && buf[i+j] != b {
			return false
		}
	}
	return true
}

// Index returns the first offset in buf where p matches, or -1.
func (p *Pattern) Index(buf []byte) int {
	n := len(p.Bytes)
	if n == 0 {
		return -1
	}
	// anchor on the first fixed byte when there is one
	anchor := -1
	for j, m := range p.Mask {
		if m {
			anchor = j
			break
		}
	}
	for i := 0; i+n <= len(buf); i++ {
		if anchor >= 0 && buf[i+anchor] != p.Bytes[anchor] {
			continue
		}
		if p.matchAt(buf, i) {
			return i
		}
	}
	return -1
}
