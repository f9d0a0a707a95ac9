// Package loader opens Mach-O binaries from disk and maps them into
// simulated memory.
package loader

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

var UnknownMagic = errors.New("Could not identify file magic.")

func LoadFile(path, arch string) (*MachOLoader, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Load(bytes.NewReader(p), arch)
}

func Load(r io.ReaderAt, arch string) (*MachOLoader, error) {
	if !MatchMachO(r) {
		return nil, errors.WithStack(UnknownMagic)
	}
	return NewMachOLoader(r, arch)
}
