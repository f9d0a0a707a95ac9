//go:build !linux && !(darwin && cgo)

package process

import (
	"github.com/pkg/errors"
)

func openProcess(pid int) (osProcess, error) {
	return nil, errors.WithStack(ErrUnsupported)
}
