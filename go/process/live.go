package process

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
)

var ErrUnsupported = errors.New("live processes are not supported on this platform")

// Live is a running process. Module information is read once at Attach;
// call Refresh after the target loads or unloads libraries.
type Live struct {
	Pid  int
	maps []*models.Mmap
	os   osProcess
}

// Attach opens pid for reading.
func Attach(pid int) (*Live, error) {
	p, err := openProcess(pid)
	if err != nil {
		return nil, err
	}
	l := &Live{Pid: pid, os: p}
	if err := l.Refresh(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Live) Refresh() error {
	maps, err := l.os.mappings()
	if err != nil {
		return errors.Wrapf(err, "failed to list mappings of pid %d", l.Pid)
	}
	sort.Sort(models.MmapAddrSort(maps))
	l.maps = maps
	return nil
}

func (l *Live) MemReadInto(p []byte, addr uint64) error {
	return l.os.read(p, addr)
}

func (l *Live) ModulePath(name string) (string, error) {
	if path, ok := models.ModulePath(l.maps, name); ok {
		return path, nil
	}
	return "", errors.Wrap(ErrNoModule, name)
}

// Module returns the range spanning every mapping of name.
func (l *Live) Module(name string) (models.Range, error) {
	if r, ok := models.ModuleRange(l.maps, name); ok {
		return r, nil
	}
	return models.Range{}, errors.Wrap(ErrNoModule, name)
}

func (l *Live) Mappings() []*models.Mmap { return l.maps }

func (l *Live) Close() error {
	return l.os.close()
}

type osProcess interface {
	read(p []byte, addr uint64) error
	mappings() ([]*models.Mmap, error)
	close() error
}
