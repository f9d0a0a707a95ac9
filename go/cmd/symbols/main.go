package symbols

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/mgutz/ansi"
	"github.com/pkg/errors"

	"github.com/lunixbochs/machsym/go/cmd"
	"github.com/lunixbochs/machsym/go/macho"
	"github.com/lunixbochs/machsym/go/models"
)

var addrColor = ansi.ColorCode("cyan")

type byName models.Symbols

func (s byName) Len() int           { return len(s) }
func (s byName) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byName) Less(i, j int) bool { return sortorder.NaturalLess(s[i].Name, s[j].Name) }

// List prints the symbols of t's module whose names contain match, in
// natural name order.
func List(ctx context.Context, w io.Writer, t *cmd.Target, match string, color bool) error {
	sess, err := t.Session(ctx)
	if err != nil {
		return err
	}
	var syms models.Symbols
	for _, sym := range sess.Named(macho.NameCapacity) {
		if strings.Contains(sym.Name, match) {
			syms = append(syms, sym)
		}
	}
	sort.Sort(byName(syms))
	width := len(t.Range.End().String())
	for _, sym := range syms {
		addr := fmt.Sprintf("%*s", width, sym.Addr)
		if color {
			addr = addrColor + addr + ansi.Reset
		}
		fmt.Fprintf(w, "%s %s\n", addr, sym.Name)
	}
	return nil
}

// ListStatic prints the symbol table of the file t was loaded from, in
// address order with sizes.
func ListStatic(w io.Writer, t *cmd.Target, match string) error {
	if t.Static == nil {
		return errors.New("no file symbol table (use -file)")
	}
	width := len(t.Range.End().String())
	for _, sym := range t.Static {
		if strings.Contains(sym.Name, match) {
			fmt.Fprintf(w, "%*s %#6x %s\n", width, sym.Addr, sym.Size, sym.Name)
		}
	}
	return nil
}

// Symbolicate prints addr as the nearest symbol at or below it, "name+off".
func Symbolicate(ctx context.Context, w io.Writer, t *cmd.Target, addr models.Addr) error {
	sess, err := t.Session(ctx)
	if err != nil {
		return err
	}
	sym, dist, ok := sess.Named(macho.NameCapacity).Symbolicate(addr)
	if !ok {
		return errors.Errorf("no symbol at or below %s", addr)
	}
	if dist == 0 {
		fmt.Fprintf(w, "%s %s\n", addr, sym.Name)
	} else {
		fmt.Fprintf(w, "%s %s+%#x\n", addr, sym.Name, dist)
	}
	return nil
}

func Main(args []string) {
	c := cmd.NewMachsymCmd()
	var match string
	var addr uint64
	var static bool
	c.SetupFlags = func() error {
		c.Flags.BoolVar(&c.Config.Color, "color", false, "colorize output")
		c.Flags.StringVar(&match, "match", "", "only list names containing this string")
		c.Flags.Uint64Var(&addr, "addr", 0, "print the symbol containing this address instead of listing")
		c.Flags.BoolVar(&static, "static", false, "list the file's symbol table instead of memory (with -file)")
		return nil
	}
	c.RunTarget = func(ctx context.Context, t *cmd.Target, args []string) error {
		if addr != 0 {
			return Symbolicate(ctx, c.Config.Output, t, models.Addr(addr))
		}
		if static {
			return ListStatic(c.Config.Output, t, match)
		}
		return List(ctx, c.Config.Output, t, match, c.Config.Color)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("symbols", "list symbols in a loaded module", Main) }
