package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lunixbochs/machsym/go/models"
)

type linuxProcess struct {
	pid int
}

func openProcess(pid int) (osProcess, error) {
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return nil, errors.Wrapf(err, "pid %d", pid)
	}
	return &linuxProcess{pid: pid}, nil
}

func (l *linuxProcess) read(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}
	n, err := unix.ProcessVMReadv(l.pid, local, remote, 0)
	if err != nil {
		return errors.Wrapf(err, "process_vm_readv(%#x, %d)", addr, len(p))
	}
	if n != len(p) {
		return errors.Errorf("short read at %#x: %d < %d", addr, n, len(p))
	}
	return nil
}

func (l *linuxProcess) mappings() ([]*models.Mmap, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", l.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

func (l *linuxProcess) close() error { return nil }

// parseMaps reads the /proc/<pid>/maps format:
// 7f0000000000-7f0000001000 r-xp 00000000 08:01 1234 /usr/lib/libfoo.so
func parseMaps(r io.Reader) ([]*models.Mmap, error) {
	var maps []*models.Mmap
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil || end < start {
			continue
		}
		m := &models.Mmap{Addr: start, Size: end - start}
		for i, c := range []byte{'r', 'w', 'x'} {
			if len(fields[1]) > i && fields[1][i] == c {
				m.Prot |= 1 << uint(i)
			}
		}
		if len(fields) >= 6 && strings.HasPrefix(fields[5], "/") {
			m.Path = strings.Join(fields[5:], " ")
		}
		maps = append(maps, m)
	}
	return maps, scanner.Err()
}
