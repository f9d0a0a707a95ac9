package ptrsize

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/cmd"
	"github.com/lunixbochs/machsym/go/macho"
)

func Main(args []string) {
	c := cmd.NewMachsymCmd()
	c.RunTarget = func(ctx context.Context, t *cmd.Target, args []string) error {
		size, ok := macho.PointerSize(t.Process, t.Range)
		if !ok {
			return errors.Errorf("no Mach-O header in %s", t.Range)
		}
		fmt.Fprintln(c.Config.Output, size)
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("ptrsize", "report the pointer size of a loaded module", Main) }
