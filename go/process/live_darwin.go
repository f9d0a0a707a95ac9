//go:build darwin && cgo

package process

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <libproc.h>
#include <sys/proc_info.h>
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/models"
)

type darwinProcess struct {
	pid  int
	task C.task_t
}

func machError(kr C.kern_return_t) string {
	return C.GoString(C.mach_error_string(kr))
}

func openProcess(pid int) (osProcess, error) {
	var task C.task_t
	if kr := C.task_for_pid(C.mach_task_self_, C.int(pid), &task); kr != C.KERN_SUCCESS {
		return nil, errors.Errorf("task_for_pid(%d): %s", pid, machError(kr))
	}
	return &darwinProcess{pid: pid, task: task}, nil
}

func (d *darwinProcess) read(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}
	var n C.mach_vm_size_t
	kr := C.mach_vm_read_overwrite(d.task,
		C.mach_vm_address_t(addr),
		C.mach_vm_size_t(len(p)),
		C.mach_vm_address_t(uintptr(unsafe.Pointer(&p[0]))),
		&n)
	if kr != C.KERN_SUCCESS {
		return errors.Errorf("mach_vm_read_overwrite(%#x, %d): %s", addr, len(p), machError(kr))
	}
	if int(n) != len(p) {
		return errors.Errorf("short read at %#x: %d < %d", addr, n, len(p))
	}
	return nil
}

// mappings walks the regions of the task with proc_pidinfo, attaching the
// backing file path of each region that has one.
func (d *darwinProcess) mappings() ([]*models.Mmap, error) {
	var maps []*models.Mmap
	addr := uint64(1)
	for {
		var info C.struct_proc_regionwithpathinfo
		size := C.int(unsafe.Sizeof(info))
		n := C.proc_pidinfo(C.int(d.pid), C.PROC_PIDREGIONPATHINFO, C.uint64_t(addr), unsafe.Pointer(&info), size)
		if n != size {
			break
		}
		region := info.prp_prinfo
		m := &models.Mmap{
			Addr: uint64(region.pri_address),
			Size: uint64(region.pri_size),
			Prot: int(region.pri_protection),
			Path: C.GoString(&info.prp_vip.vip_path[0]),
		}
		if m.Size == 0 {
			break
		}
		maps = append(maps, m)
		next := m.Addr + m.Size
		if next <= addr {
			break
		}
		addr = next
	}
	if len(maps) == 0 {
		return nil, errors.Errorf("no regions found for pid %d", d.pid)
	}
	return maps, nil
}

func (d *darwinProcess) close() error {
	if d.task != C.MACH_PORT_NULL {
		C.mach_port_deallocate(C.mach_task_self_, C.mach_port_name_t(d.task))
		d.task = C.MACH_PORT_NULL
	}
	return nil
}
