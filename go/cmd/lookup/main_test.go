package lookup

import (
	"bytes"
	"context"
	"os"
	"testing"

	"zombiezen.com/go/log/testlog"

	"github.com/lunixbochs/machsym/go/cmd"
	"github.com/lunixbochs/machsym/go/internal/machotest"
	"github.com/lunixbochs/machsym/go/process"
)

const base = 0x10000000

func TestMain(m *testing.M) {
	testlog.Main(nil)
	os.Exit(m.Run())
}

// openDylib loads the test library with the name of _hidden clobbered in
// memory, so only the file knows it.
func openDylib(t *testing.T) *cmd.Target {
	ctx := testlog.WithTB(context.Background(), t)
	img := machotest.Dylib()
	target, err := cmd.OpenFile(ctx, img.WriteFile(t, "libtest.dylib"), "any", base)
	if err != nil {
		t.Fatal(err)
	}
	sim := target.Process.(*process.Sim)
	sim.Space.Write(base+img.VMAddr(img.NameOff(2)), []byte("_xxxxxx"), 0)
	return target
}

func TestLookup(t *testing.T) {
	ctx := testlog.WithTB(context.Background(), t)
	var out bytes.Buffer
	err := Lookup(ctx, &out, openDylib(t), []string{"_main", "_global", "_hidden"}, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := "0x10001100 _main\n" +
		"0x10004010 _global\n" +
		"0x10001200 _hidden\n"
	if out.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestLookupNoFile(t *testing.T) {
	ctx := testlog.WithTB(context.Background(), t)
	var out bytes.Buffer
	err := Lookup(ctx, &out, openDylib(t), []string{"_hidden", "_main"}, true, 0)
	if err == nil {
		t.Error("no error for a missing symbol")
	}
	want := "_hidden: not found\n" +
		"0x10001100 _main\n"
	if out.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", out.String(), want)
	}
	if err := Lookup(ctx, &out, openDylib(t), nil, true, 0); err == nil {
		t.Error("no error for an empty lookup")
	}
}
