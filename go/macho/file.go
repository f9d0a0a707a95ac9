package macho

import (
	"bytes"
	"context"
	"os"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/sigscan"
)

// SignatureSize is how many bytes at a symbol's file offset identify it in
// memory.
const SignatureSize = 20

type fileHeader struct {
	Magic    uint32
	Cpu      uint32
	SubCpu   uint32
	Type     uint32
	Ncmd     uint32
	Cmdsz    uint32
	Flags    uint32
	Reserved uint32
}

type loadCmd struct {
	Cmd uint32
	Len uint32
}

type symtabCmd struct {
	Cmd     uint32
	Len     uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type nlist64 struct {
	Strx  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

// unpackAt decodes a fixed-size record at off in buf.
func unpackAt(buf []byte, off uint64, v interface{}) error {
	size, err := struc.Sizeof(v)
	if err != nil {
		return err
	}
	if off > uint64(len(buf)) || uint64(size) > uint64(len(buf))-off {
		return errors.Errorf("%d byte record at %#x runs past end of file", size, off)
	}
	return struc.UnpackWithOrder(bytes.NewReader(buf[off:off+uint64(size)]), v, order)
}

// FileImage is a Mach-O image inside a file buffer. The buffer may hold
// more than the image (a fat binary), so every offset is taken relative
// to Origin.
type FileImage struct {
	Buf    []byte
	Origin uint64
	Symtab symtabCmd
}

// OpenFileImage finds the image whose header bytes equal header in buf and
// reads its symbol table command.
func OpenFileImage(buf, header []byte) (*FileImage, error) {
	i := bytes.Index(buf, header)
	if i < 0 {
		return nil, errors.New("header not found in file")
	}
	f := &FileImage{Buf: buf, Origin: uint64(i)}
	var hdr fileHeader
	if err := unpackAt(buf, f.Origin, &hdr); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	next := f.Origin + Offsets64.LoadCommands
	for j := uint32(0); j < hdr.Ncmd; j++ {
		var cmd loadCmd
		if err := unpackAt(buf, next, &cmd); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack load command %d", j)
		}
		if cmd.Cmd == LC_SYMTAB {
			if err := unpackAt(buf, next, &f.Symtab); err != nil {
				return nil, errors.Wrap(err, "failed to unpack symtab command")
			}
		}
		if cmd.Len == 0 {
			break
		}
		next += uint64(cmd.Len)
	}
	if f.Symtab.Nsyms == 0 || f.Symtab.Stroff == 0 {
		return nil, errors.WithStack(ErrNoSymtab)
	}
	return f, nil
}

// nameIs reports whether the string table entry at strx is exactly name.
// The byte after the match must be the terminator, or "foo" would match
// "foobar".
func (f *FileImage) nameIs(strx uint32, name []byte) bool {
	pos := f.Origin + uint64(f.Symtab.Stroff) + uint64(strx)
	end := pos + uint64(len(name))
	if end >= uint64(len(f.Buf)) {
		return false
	}
	return f.Buf[end] == 0 && bytes.Equal(f.Buf[pos:end], name)
}

// Lookup returns the file offset of the first symbol named name.
func (f *FileImage) Lookup(name []byte) (uint64, bool) {
	if len(name) == 0 {
		return 0, false
	}
	for j := uint64(0); j < uint64(f.Symtab.Nsyms); j++ {
		var sym nlist64
		off := f.Origin + uint64(f.Symtab.Symoff) + j*Offsets64.SizeOfNlistItem
		if err := unpackAt(f.Buf, off, &sym); err != nil {
			return 0, false
		}
		if f.nameIs(sym.Strx, name) {
			return sym.Value, true
		}
	}
	return 0, false
}

// Signature returns the SignatureSize bytes at fileoff.
func (f *FileImage) Signature(fileoff uint64) ([]byte, bool) {
	size := uint64(len(f.Buf))
	if size < SignatureSize || f.Origin > size-SignatureSize || fileoff > size-SignatureSize-f.Origin {
		return nil, false
	}
	start := f.Origin + fileoff
	return f.Buf[start : start+SignatureSize], true
}

// FindInFile resolves name by reading the module from disk, copying the
// bytes at the symbol's file offset, and scanning the live module range for
// them. Only the first occurrence is reported, so a signature that is not
// unique may resolve to the wrong function.
func (s *Session) FindInFile(ctx context.Context, name []byte) (models.Addr, bool) {
	if len(name) == 0 {
		return 0, false
	}
	sig, err := s.fileSignature(name)
	if err != nil {
		log.Debugf(ctx, "%s: file fallback for %q: %v", s.module, name, err)
		return 0, false
	}
	addr, ok := s.scanner.Scan(s.proc, s.rng, sigscan.Exact(sig))
	if !ok {
		log.Debugf(ctx, "%s: signature for %q (% x) not found in memory", s.module, name, sig)
	}
	return addr, ok
}

func (s *Session) fileSignature(name []byte) ([]byte, error) {
	path, err := s.proc.ModulePath(s.module)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find module path")
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read module file")
	}
	header := make([]byte, s.offsets.HeaderSize)
	if err := s.proc.MemReadInto(header, s.header.Value()); err != nil {
		return nil, errors.Wrap(err, "failed to read header from memory")
	}
	f, err := OpenFileImage(buf, header)
	if err != nil {
		return nil, err
	}
	fileoff, ok := f.Lookup(name)
	if !ok {
		return nil, errors.Errorf("%q not in file symbol table", name)
	}
	sig, ok := f.Signature(fileoff)
	if !ok {
		return nil, errors.Errorf("file offset %#x out of bounds", fileoff)
	}
	return sig, nil
}
