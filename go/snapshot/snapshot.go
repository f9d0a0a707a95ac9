// Package snapshot saves the memory of one loaded module to a file, so a
// resolver session can be replayed without the process.
package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/models/memsim"
	"github.com/lunixbochs/machsym/go/process"
)

var SNAPSHOT_MAGIC = "MSYM"

const version = 1

const pageSize = 0x1000

var order = binary.LittleEndian

var ErrEmpty = errors.New("no readable memory in range")

type Header struct {
	// MAGIC ("MSYM")
	Magic   string `struc:"[4]byte"`
	Version uint32
	// range the module occupied in the process
	Base uint64
	Size uint64
	// number of regions in the compressed body
	Regions uint32

	NameLen int `struc:"uint16,sizeof=Name"`
	Name    string
	PathLen int `struc:"uint16,sizeof=Path"`
	Path    string
}

type region struct {
	Addr uint64
	Len  int `struc:"uint32,sizeof=Data"`
	Data []byte
}

// Region is a run of readable memory.
type Region struct {
	Addr models.Addr
	Data []byte
}

func (r *Region) End() models.Addr { return r.Addr.Add(uint64(len(r.Data))) }

type Snapshot struct {
	Module  string
	Path    string
	Range   models.Range
	Regions []Region
}

// Capture copies the readable pages of r. Adjacent pages are merged into a
// single region; pages that fail to read are left out.
func Capture(p models.Process, module, path string, r models.Range) (*Snapshot, error) {
	s := &Snapshot{Module: module, Path: path, Range: r}
	end := r.End()
	var cur *Region
	for addr := r.Base; addr < end; {
		size := pageSize - addr.Mod(pageSize)
		if rest := uint64(end - addr); size > rest {
			size = rest
		}
		page := make([]byte, size)
		if err := p.MemReadInto(page, addr.Value()); err != nil {
			cur = nil
		} else if cur != nil && cur.End() == addr {
			cur.Data = append(cur.Data, page...)
		} else {
			s.Regions = append(s.Regions, Region{Addr: addr, Data: page})
			cur = &s.Regions[len(s.Regions)-1]
		}
		addr = addr.Add(size)
	}
	if len(s.Regions) == 0 {
		return nil, errors.Wrapf(ErrEmpty, "%s at %s", module, r)
	}
	return s, nil
}

// Size is the number of captured bytes.
func (s *Snapshot) Size() uint64 {
	var n uint64
	for _, r := range s.Regions {
		n += uint64(len(r.Data))
	}
	return n
}

func Write(w io.Writer, s *Snapshot) error {
	header := &Header{
		Magic:   SNAPSHOT_MAGIC,
		Version: version,
		Base:    s.Range.Base.Value(),
		Size:    s.Range.Size,
		Regions: uint32(len(s.Regions)),
		Name:    s.Module,
		Path:    s.Path,
	}
	if err := struc.PackWithOrder(w, header, order); err != nil {
		return errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	for _, r := range s.Regions {
		if err := struc.PackWithOrder(zw, &region{Addr: r.Addr.Value(), Data: r.Data}, order); err != nil {
			return errors.Wrap(err, "failed to pack region")
		}
	}
	return errors.WithStack(zw.Close())
}

func Read(r io.Reader) (*Snapshot, error) {
	var header Header
	if err := struc.UnpackWithOrder(r, &header, order); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if header.Magic != SNAPSHOT_MAGIC {
		return nil, errors.New("invalid snapshot file magic")
	}
	if header.Version != version {
		return nil, errors.Errorf("unsupported snapshot version %d", header.Version)
	}
	s := &Snapshot{
		Module: header.Name,
		Path:   header.Path,
		Range:  models.Range{Base: models.Addr(header.Base), Size: header.Size},
	}
	// the count is untrusted, so regions are only allocated as they arrive
	zr := snappy.NewReader(r)
	for i := uint32(0); i < header.Regions; i++ {
		var reg region
		if err := struc.UnpackWithOrder(zr, &reg, order); err != nil {
			return nil, errors.Wrapf(err, "failed to unpack region %d", i)
		}
		s.Regions = append(s.Regions, Region{Addr: models.Addr(reg.Addr), Data: reg.Data})
	}
	return s, nil
}

// Process replays the snapshot as a read-only simulated process with the
// module registered under its recorded name and path.
func (s *Snapshot) Process() *process.Sim {
	sim := process.NewSim()
	for _, r := range s.Regions {
		sim.Space.Map(r.Addr.Value(), uint64(len(r.Data)), memsim.PROT_READ)
		sim.Space.Write(r.Addr.Value(), r.Data, 0)
	}
	sim.AddModule(s.Module, s.Path, s.Range)
	return sim
}
