package dump

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"zombiezen.com/go/log"

	"github.com/lunixbochs/machsym/go/cmd"
	"github.com/lunixbochs/machsym/go/snapshot"
)

// Dump captures t's module and writes it to out, or to a file in the
// snapshot directory when out is empty. It returns the path written.
func Dump(ctx context.Context, t *cmd.Target, out string) (string, error) {
	path, err := t.Process.ModulePath(t.Module)
	if err != nil {
		log.Debugf(ctx, "no path for %s: %v", t.Module, err)
	}
	snap, err := snapshot.Capture(t.Process, t.Module, path, t.Range)
	if err != nil {
		return "", err
	}
	if out == "" {
		dir, err := cmd.SnapshotDir()
		if err != nil {
			return "", err
		}
		out = filepath.Join(dir, fmt.Sprintf("%s-%x.msym", t.Module, t.Range.Base.Value()))
	}
	f, err := os.Create(out)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if err := snapshot.Write(f, snap); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.WithStack(err)
	}
	log.Infof(ctx, "wrote %d bytes of %s in %d regions", snap.Size(), t.Module, len(snap.Regions))
	return out, nil
}

func Main(args []string) {
	c := cmd.NewMachsymCmd()
	var out string
	c.SetupFlags = func() error {
		c.Flags.StringVar(&out, "o", "", "snapshot output file (default: per-user cache folder)")
		return nil
	}
	c.RunTarget = func(ctx context.Context, t *cmd.Target, args []string) error {
		path, err := Dump(ctx, t, out)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.Config.Output, path)
		return nil
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("dump", "save a loaded module's memory to a snapshot", Main) }
