package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/loader"
	"github.com/lunixbochs/machsym/go/macho"
	"github.com/lunixbochs/machsym/go/models"
	"github.com/lunixbochs/machsym/go/process"
	"github.com/lunixbochs/machsym/go/snapshot"
)

const defaultBase = 0x10000000

// Target is a module inside a process, however it was obtained.
type Target struct {
	Process models.Process
	Module  string
	Range   models.Range
	// Arch names the code in the module, for disassembly.
	Arch string
	// Static is the on-disk symbol table, n_value taken as a linked
	// address and slid to the load address, when the target was loaded
	// from a file.
	Static models.Symbols

	close func() error
}

func (t *Target) Session(ctx context.Context) (*macho.Session, error) {
	return macho.NewSession(ctx, t.Process, t.Module, t.Range)
}

func (t *Target) Close() error {
	if t.close != nil {
		return t.close()
	}
	return nil
}

type MachsymCmd struct {
	Config *models.Config

	SetupFlags func() error
	RunTarget  func(ctx context.Context, t *Target, args []string) error

	// Args describes positional arguments in usage.
	Args string

	Flags *flag.FlagSet

	pid      int
	module   string
	file     string
	snapshot string
}

func NewMachsymCmd() *MachsymCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	return &MachsymCmd{Flags: fs, Config: (&models.Config{}).Init()}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stacktrace if available.
func (c *MachsymCmd) PrintError(err error) {
	printError(os.Stderr, err)
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	st, ok := err.(stackTracer)
	if !ok {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(w, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "machsym: ", log.StdFlags, nil),
		})
	})
}

// SnapshotDir is the per-user cache folder dumps go to by default.
func SnapshotDir() (string, error) {
	folder := configdir.New("machsym", "snapshots").QueryCacheFolder()
	if err := folder.MkdirAll(); err != nil {
		return "", errors.WithStack(err)
	}
	return folder.Path, nil
}

func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "arm64"
	}
	return runtime.GOARCH
}

// OpenTarget builds the target named by the source flags: a live process,
// a binary mapped into simulated memory, or a snapshot.
func (c *MachsymCmd) OpenTarget(ctx context.Context) (*Target, error) {
	sources := 0
	for _, set := range []bool{c.pid != 0, c.file != "", c.snapshot != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of -pid, -file or -snapshot is required")
	}
	switch {
	case c.pid != 0:
		return c.openLive(ctx)
	case c.file != "":
		return OpenFile(ctx, c.file, c.Config.Arch, c.Config.Base)
	default:
		return OpenSnapshot(ctx, c.snapshot)
	}
}

func (c *MachsymCmd) openLive(ctx context.Context) (*Target, error) {
	if c.module == "" {
		return nil, errors.New("-pid needs -module")
	}
	live, err := process.Attach(c.pid)
	if err != nil {
		return nil, err
	}
	r, err := live.Module(c.module)
	if err != nil {
		live.Close()
		return nil, err
	}
	log.Debugf(ctx, "pid %d: %s at %s", c.pid, c.module, r)
	arch := c.Config.Arch
	if arch == "any" {
		arch = hostArch()
	}
	return &Target{Process: live, Module: c.module, Range: r, Arch: arch, close: live.Close}, nil
}

// OpenFile loads the binary at path into a simulated process with __TEXT
// at base.
func OpenFile(ctx context.Context, path, arch string, base uint64) (*Target, error) {
	ld, err := loader.LoadFile(path, arch)
	if err != nil {
		return nil, err
	}
	if ld.Bits() != 64 {
		return nil, errors.Wrapf(macho.ErrUnsupported, "%s is %d-bit", path, ld.Bits())
	}
	if off := ld.FatOffset(); off != 0 {
		log.Debugf(ctx, "%s: %s slice at file offset %#x", path, ld.Arch(), off)
	}
	sim := process.NewSim()
	r, err := ld.MapInto(sim.Space, base)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	sim.AddModule(name, path, r)
	log.Debugf(ctx, "mapped %s (%s) at %s", path, ld.Arch(), r)

	t := &Target{Process: sim, Module: name, Range: r, Arch: ld.Arch()}
	syms, err := ld.Symbols()
	if err != nil {
		log.Debugf(ctx, "%s: %v", path, err)
	}
	text := ld.TextAddr()
	for _, sym := range syms {
		sym.Addr = models.Addr(base + (sym.Addr.Value() - text))
		t.Static = append(t.Static, sym)
	}
	return t, nil
}

func OpenSnapshot(ctx context.Context, path string) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	snap, err := snapshot.Read(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	log.Debugf(ctx, "snapshot of %s: %d regions at %s", snap.Module, len(snap.Regions), snap.Range)
	return &Target{Process: snap.Process(), Module: snap.Module, Range: snap.Range, Arch: hostArch()}, nil
}

func (c *MachsymCmd) Run(argv []string) int {
	fs := c.Flags
	fs.IntVar(&c.pid, "pid", 0, "attach to a running process")
	fs.StringVar(&c.module, "module", "", "module name in the process (with -pid)")
	fs.StringVar(&c.file, "file", "", "load a Mach-O binary from disk into simulated memory")
	fs.StringVar(&c.snapshot, "snapshot", "", "replay a snapshot written by dump")
	fs.Uint64Var(&c.Config.Base, "base", defaultBase, "load address for -file")
	fs.StringVar(&c.Config.Arch, "arch", "any", "slice of a fat binary to load (x86_64, arm64, any)")
	fs.BoolVar(&c.Config.Verbose, "v", false, "verbose output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] %s\n\nOptions:\n", argv[0], c.Args)
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(os.Stderr, flags)
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			panic(err)
		}
	}
	fs.Parse(argv[1:])
	initLogging(c.Config.Verbose)

	ctx := context.Background()
	target, err := c.OpenTarget(ctx)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	defer target.Close()
	if err := c.RunTarget(ctx, target, fs.Args()); err != nil {
		c.PrintError(err)
		return 1
	}
	return 0
}
