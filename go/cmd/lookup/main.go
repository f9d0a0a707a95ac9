package lookup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/cmd"
	"github.com/lunixbochs/machsym/go/disas"
	"github.com/lunixbochs/machsym/go/models"
)

// Lookup resolves each name in t and prints "addr name", followed by a
// disassembly of disBytes bytes when disBytes > 0. With noFile only the
// in-memory symbol table is searched.
func Lookup(ctx context.Context, w io.Writer, t *cmd.Target, names []string, noFile bool, disBytes int) error {
	if len(names) == 0 {
		return errors.New("no symbols given")
	}
	sess, err := t.Session(ctx)
	if err != nil {
		return err
	}
	var dis *disas.Disassembler
	if disBytes > 0 {
		if dis, err = disas.New(t.Arch); err != nil {
			return err
		}
	}
	missing := 0
	for _, name := range names {
		var addr models.Addr
		var ok bool
		if noFile {
			addr, ok = sess.FindLive([]byte(name))
		} else {
			addr, ok = sess.FindAddress(ctx, []byte(name))
		}
		if !ok {
			fmt.Fprintf(w, "%s: not found\n", name)
			missing++
			continue
		}
		fmt.Fprintf(w, "%s %s\n", addr, name)
		if dis != nil {
			text, err := dis.Disassemble(t.Process, addr, disBytes)
			if err != nil {
				log.Warnf(ctx, "disassembling %s: %v", name, err)
				continue
			}
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(text, "\n", "\n  "))
		}
	}
	if missing > 0 {
		return errors.Errorf("%d of %d symbols not found", missing, len(names))
	}
	return nil
}

func Main(args []string) {
	c := cmd.NewMachsymCmd()
	c.Args = "<symbol> [symbol...]"
	c.SetupFlags = func() error {
		c.Flags.BoolVar(&c.Config.NoFile, "nofile", false, "only search the symbol table in memory")
		c.Flags.IntVar(&c.Config.DisBytes, "dis", 0, "disassemble this many bytes at each result")
		return nil
	}
	c.RunTarget = func(ctx context.Context, t *cmd.Target, args []string) error {
		return Lookup(ctx, c.Config.Output, t, args, c.Config.NoFile, c.Config.DisBytes)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("lookup", "resolve symbol names to addresses", Main) }
