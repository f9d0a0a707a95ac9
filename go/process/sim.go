// Package process provides models.Process implementations: simulated
// address spaces and live processes.
package process

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/models/memsim"
)

var ErrNoModule = errors.New("module not loaded")

// Module is a named image loaded into a process.
type Module struct {
	Name  string
	Path  string
	Range models.Range
}

// Sim is a process made of a memsim.Space and a module table. Reads need
// PROT_READ, so unreadable pages behave like guard pages.
type Sim struct {
	Space   *memsim.Space
	modules map[string]*Module
}

func NewSim() *Sim {
	return &Sim{Space: &memsim.Space{}, modules: make(map[string]*Module)}
}

func (s *Sim) MemReadInto(p []byte, addr uint64) error {
	return s.Space.Read(addr, p, memsim.PROT_READ)
}

// AddModule registers name, backed by the file at path, as loaded at r.
func (s *Sim) AddModule(name, path string, r models.Range) {
	s.modules[name] = &Module{Name: name, Path: path, Range: r}
}

func (s *Sim) ModulePath(name string) (string, error) {
	m, ok := s.modules[name]
	if !ok || m.Path == "" {
		return "", errors.Wrap(ErrNoModule, name)
	}
	return m.Path, nil
}

func (s *Sim) Module(name string) (models.Range, error) {
	m, ok := s.modules[name]
	if !ok {
		return models.Range{}, errors.Wrap(ErrNoModule, name)
	}
	return m.Range, nil
}

// Modules lists the module table by load address.
func (s *Sim) Modules() []*Module {
	ret := make([]*Module, 0, len(s.modules))
	for _, m := range s.modules {
		ret = append(ret, m)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Range.Base < ret[j].Range.Base })
	return ret
}
