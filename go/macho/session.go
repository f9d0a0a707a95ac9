// Package macho resolves symbols of a Mach-O image loaded in another
// process. It reads the image through models.Process only, one record at a
// time, and never needs the file unless live resolution fails.
package macho

import (
	"context"

	"github.com/pkg/errors"
	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/sigscan"
)

var (
	ErrHeaderNotFound = errors.New("no Mach-O header in range")
	ErrUnsupported    = errors.New("only little-endian 64-bit images carry resolvable symbols")
	ErrNoSymtab       = errors.New("image has no usable symbol table")
	ErrNameTooLong    = errors.New("symbol name exceeds capacity")
)

// Session caches everything needed to resolve names in one module. It is
// never modified after NewSession returns, so concurrent lookups are safe
// when the Process allows concurrent reads.
type Session struct {
	proc    models.Process
	module  string
	rng     models.Range
	offsets *FormatOffsets
	scanner sigscan.Scanner

	header models.Addr
	// header address minus the vm address file offset 0 maps to
	slide uint64

	symtabFileoff uint32
	strtabFileoff uint32
	nsyms         uint32
	fileMap       FileOffsetMap

	symtabAddr models.Addr
	strtabAddr models.Addr
}

type Option func(s *Session)

// WithScanner replaces the signature scanner used by the file fallback.
func WithScanner(scanner sigscan.Scanner) Option {
	return func(s *Session) { s.scanner = scanner }
}

// NewSession locates the image in r and walks its load commands once.
// It fails with ErrHeaderNotFound, ErrUnsupported or ErrNoSymtab when the
// image cannot be resolved against, or with a read error when a load
// command could not be read.
func NewSession(ctx context.Context, p models.Process, module string, r models.Range, opts ...Option) (*Session, error) {
	s := &Session{
		proc:    p,
		module:  module,
		rng:     r,
		offsets: &Offsets64,
		scanner: sigscan.PageScanner{},
	}
	for _, opt := range opts {
		opt(s)
	}
	header, ok := LocateHeader(p, r)
	if !ok {
		return nil, errors.WithStack(ErrHeaderNotFound)
	}
	s.header = header
	log.Debugf(ctx, "%s: Mach-O header at %s", module, header)

	magic, err := readU32(p, header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read magic")
	}
	if magic != MH_MAGIC_64 {
		return nil, errors.Wrapf(ErrUnsupported, "magic %#x", magic)
	}
	if err := s.walkCommands(ctx); err != nil {
		return nil, err
	}
	if s.symtabFileoff == 0 || s.nsyms == 0 || s.strtabFileoff == 0 {
		return nil, errors.WithStack(ErrNoSymtab)
	}

	if textAddr, ok := s.fileMap.Lookup(0); ok {
		s.slide = header.Value() - textAddr
	} else {
		s.slide = header.Value()
	}
	s.symtabAddr = s.vmToAddr(s.fileMap.Translate(uint64(s.symtabFileoff)))
	s.strtabAddr = s.vmToAddr(s.fileMap.Translate(uint64(s.strtabFileoff)))
	log.Debugf(ctx, "%s: %d symbols, symtab %s, strtab %s, map %v",
		module, s.nsyms, s.symtabAddr, s.strtabAddr, &s.fileMap)
	return s, nil
}

func (s *Session) walkCommands(ctx context.Context) error {
	off := s.offsets
	ncmds, err := readU32(s.proc, s.header.Add(off.NumberOfCommands))
	if err != nil {
		return errors.Wrap(err, "failed to read number of load commands")
	}
	log.Debugf(ctx, "%s: %d load commands", s.module, ncmds)

	next := s.header.Add(off.LoadCommands)
	for i := uint32(0); i < ncmds; i++ {
		cmd, err := readU32(s.proc, next)
		if err != nil {
			return errors.Wrapf(err, "failed to read load command %d", i)
		}
		size, err := readU32(s.proc, next.Add(off.CommandSize))
		if err != nil {
			return errors.Wrapf(err, "failed to read size of load command %d", i)
		}
		switch cmd {
		case LC_SYMTAB:
			if err := s.readSymtab(next); err != nil {
				return err
			}
		case LC_SEGMENT_64:
			if err := s.readSegment(next, size); err != nil {
				return err
			}
		}
		// a zero size would revisit the same command forever
		if size == 0 {
			log.Debugf(ctx, "%s: load command %d has zero size, stopping", s.module, i)
			break
		}
		next = next.Add(uint64(size))
	}
	return nil
}

func (s *Session) readSymtab(cmd models.Addr) error {
	off := s.offsets
	var err error
	if s.symtabFileoff, err = readU32(s.proc, cmd.Add(off.SymtabOffset)); err != nil {
		return errors.Wrap(err, "failed to read symoff")
	}
	if s.nsyms, err = readU32(s.proc, cmd.Add(off.NumberOfSymbols)); err != nil {
		return errors.Wrap(err, "failed to read nsyms")
	}
	if s.strtabFileoff, err = readU32(s.proc, cmd.Add(off.StrtabOffset)); err != nil {
		return errors.Wrap(err, "failed to read stroff")
	}
	return nil
}

// readSegment maps the segment, then each of its sections, so symbols in
// later sections do not depend on the segment being laid out contiguously.
func (s *Session) readSegment(cmd models.Addr, size uint32) error {
	off := s.offsets
	vmaddr, err := readU64(s.proc, cmd.Add(off.Segcmd64Vmaddr))
	if err != nil {
		return errors.Wrap(err, "failed to read segment vmaddr")
	}
	fileoff, err := readU64(s.proc, cmd.Add(off.Segcmd64Fileoff))
	if err != nil {
		return errors.Wrap(err, "failed to read segment fileoff")
	}
	filesize, err := readU64(s.proc, cmd.Add(off.Segcmd64Filesize))
	if err != nil {
		return errors.Wrap(err, "failed to read segment filesize")
	}
	// __PAGEZERO and friends claim file offset 0 without mapping any of it
	if filesize != 0 {
		s.fileMap.Insert(fileoff, vmaddr)
	}
	nsects, err := readU32(s.proc, cmd.Add(off.Segcmd64Nsects))
	if err != nil {
		return errors.Wrap(err, "failed to read nsects")
	}
	for j := uint64(0); j < uint64(nsects); j++ {
		rel := off.SizeofSegcmd64 + j*off.SizeofSect64
		if rel+off.SizeofSect64 > uint64(size) {
			break
		}
		sect := cmd.Add(rel)
		sectAddr, err := readU64(s.proc, sect.Add(off.Sect64Vmaddr))
		if err != nil {
			return errors.Wrapf(err, "failed to read section %d addr", j)
		}
		sectOff, err := readU32(s.proc, sect.Add(off.Sect64Fileoff))
		if err != nil {
			return errors.Wrapf(err, "failed to read section %d offset", j)
		}
		if sectOff != 0 {
			s.fileMap.Insert(uint64(sectOff), sectAddr)
		}
	}
	return nil
}

func (s *Session) vmToAddr(vmaddr uint64) models.Addr {
	return models.Addr(vmaddr + s.slide)
}

// Translate returns the live address of a file offset in the image.
func (s *Session) Translate(fileoff uint64) models.Addr {
	return s.vmToAddr(s.fileMap.Translate(fileoff))
}

func (s *Session) Module() string          { return s.module }
func (s *Session) Range() models.Range     { return s.rng }
func (s *Session) Header() models.Addr     { return s.header }
func (s *Session) NumSymbols() int         { return int(s.nsyms) }
func (s *Session) Process() models.Process { return s.proc }
func (s *Session) SymtabAddr() models.Addr { return s.symtabAddr }
func (s *Session) StrtabAddr() models.Addr { return s.strtabAddr }
