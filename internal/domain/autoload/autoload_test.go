package autoload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/source"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/testutil/elfgen"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
modules:
  - path: apps/shell.mo
    args: -q "two words"
    priority: 10
    stack: 4096
  - path: apps/selftest.mo
    wait: true
    timeout: 5s
  - path: apps/off.mo
    disabled: true
`))
	require.NoError(t, err)
	require.Len(t, m.Modules, 3)

	first := m.Modules[0]
	assert.Equal(t, `shell -q "two words"`, first.Cmdline())
	require.NotNil(t, first.Priority)
	assert.Equal(t, 10, *first.Priority)
	assert.Len(t, first.Options(), 2)

	assert.True(t, m.Modules[1].Wait)
	assert.Equal(t, 5*time.Second, m.Modules[1].Timeout)
	assert.Equal(t, "selftest", m.Modules[1].Cmdline())
	assert.Empty(t, m.Modules[1].Options())
	assert.True(t, m.Modules[2].Disabled)

	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "path: apps/shell.mo")
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "modules:\n  - path: a.mo\n    prio: 3\n"},
		{"missing path", "modules:\n  - args: x\n"},
		{"escapes root", "modules:\n  - path: ../etc/a.mo\n"},
		{"negative timeout", "modules:\n  - path: a.mo\n    timeout: -1s\n"},
		{"not yaml", "modules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "boot.yaml"))
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	img := elfgen.Program("test_main").Build()
	rtm := elfgen.Program("test_main")
	rtm.Magic = "\x7fRTM"
	gz, err := source.Compress(source.CodecGzip, img)
	require.NoError(t, err)

	writeFile(t, dir, "apps/hello.mo", img)
	writeFile(t, dir, "apps/nested/deep.mo", rtm.Build())
	writeFile(t, dir, "apps/packed.mo.gz", gz)
	writeFile(t, dir, "apps/readme.txt", []byte("not a module\n"))
	writeFile(t, dir, "apps/fake.mo", []byte("#!/bin/sh\necho hi\n"))
	writeFile(t, dir, "lib/libc.so", img)

	found, err := Scan(context.Background(), dir, []string{"apps/**"})
	require.NoError(t, err)

	var paths []string
	for _, c := range found {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"apps/hello.mo", "apps/nested/deep.mo", "apps/packed.mo.gz"}, paths)
	assert.Equal(t, MIMEModule, found[1].MIME)
	assert.True(t, found[2].Compressed())
	assert.False(t, found[0].Compressed())
	assert.Equal(t, int64(len(img)), found[0].Size)

	all, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = Scan(context.Background(), dir, []string{"apps/[z"})
	assert.Error(t, err)
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mo", elfgen.Program("x").Build())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Scan(ctx, dir, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.mo", elfgen.Program("x").Build())
	writeFile(t, dir, "a.mo", elfgen.Program("x").Build())

	m, err := Discover(context.Background(), dir, []string{"*.mo"})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Path: "a.mo"}, {Path: "b.mo"}}, m.Modules)
}

type bootHarness struct {
	dir  string
	mgr  *dlmodule.Manager
	argv chan []string
}

func newBootHarness(t *testing.T) *bootHarness {
	t.Helper()
	argv := make(chan []string, 8)
	tab, err := symtab.New(append(symtab.Exports(), symtab.Export{
		Name: "test_main",
		Fn: func(_ context.Context, args ...any) int {
			v, _ := args[1].([]string)
			argv <- v
			return len(v)
		},
	})...)
	require.NoError(t, err)

	k := kernel.New(kernel.Config{HeapSize: 1 << 20})
	k.Start()
	t.Cleanup(k.Stop)

	dir := t.TempDir()
	mgr := dlmodule.NewManager(k, cpu.New(tab, k.Heap(), true)).WithFS(os.DirFS(dir))
	return &bootHarness{dir: dir, mgr: mgr, argv: argv}
}

func TestBoot(t *testing.T) {
	h := newBootHarness(t)
	writeFile(t, h.dir, "apps/hello.mo", elfgen.Program("test_main").Build())
	writeFile(t, h.dir, "apps/lib.mo", elfgen.Image{Text: make([]byte, 8)}.Build())

	core, logs := observer.New(zap.InfoLevel)
	b := NewBooter(h.mgr, nil, zap.New(core))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	results, err := b.Boot(ctx, &Manifest{Modules: []Entry{
		{Path: "apps/hello.mo", Args: "a b", Wait: true, Timeout: 2 * time.Second},
		{Path: "apps/missing.mo"},
		{Path: "apps/off.mo", Disabled: true},
		{Path: "apps/lib.mo", Wait: true},
	}})

	require.Error(t, err)
	assert.ErrorIs(t, err, dlmodule.ErrIO)
	require.Len(t, results, 4)

	assert.Equal(t, "hello", results[0].Module)
	assert.True(t, results[0].Started)
	require.NotNil(t, results[0].ExitCode)
	assert.Equal(t, 3, *results[0].ExitCode)
	assert.Equal(t, []string{"hello", "a", "b"}, <-h.argv)

	assert.NotEmpty(t, results[1].Error)
	assert.False(t, results[1].Started)

	assert.True(t, results[2].Skipped)

	assert.Equal(t, "lib", results[3].Module)
	assert.False(t, results[3].Started)
	assert.Nil(t, results[3].ExitCode)
	_, ok := h.mgr.Find("lib")
	assert.True(t, ok)

	assert.Equal(t, 1, logs.FilterMessage("Autoload entry failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Autoload complete").Len())
}

func TestBootThroughSource(t *testing.T) {
	h := newBootHarness(t)
	img, err := source.Compress(source.CodecZstd, elfgen.Program("test_main").Build())
	require.NoError(t, err)
	writeFile(t, h.dir, "packed.mo", img)

	ops := source.NewCompressed(source.NewFiles(os.DirFS(h.dir), 1<<20), 1<<20)
	b := NewBooter(h.mgr, ops, nil)

	results, err := b.Boot(context.Background(), &Manifest{Modules: []Entry{{Path: "packed.mo", Wait: true}}})
	require.NoError(t, err)
	require.NotNil(t, results[0].ExitCode)
	assert.Equal(t, 1, *results[0].ExitCode)
}

func TestBootStopsOnCancel(t *testing.T) {
	h := newBootHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewBooter(h.mgr, nil, nil).Boot(ctx, &Manifest{Modules: []Entry{{Path: "a.mo"}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
