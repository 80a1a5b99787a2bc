package dlmodule

import (
	"context"
	"debug/elf"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/testutil/elfgen"
)

const waitFor = 3 * time.Second

type harness struct {
	k    *kernel.Kernel
	cpu  *cpu.CPU
	mgr  *Manager
	fs   fstest.MapFS
	logs *observer.ObservedLogs
}

type harnessOptions struct {
	nonCoherent bool
	noReaper    bool
}

func newHarness(t *testing.T, opts harnessOptions, exports ...symtab.Export) *harness {
	t.Helper()
	tab, err := symtab.New(append(symtab.Exports(), exports...)...)
	require.NoError(t, err)

	k := kernel.New(kernel.Config{HeapSize: 1 << 20})
	c := cpu.New(tab, k.Heap(), !opts.nonCoherent)
	core, logs := observer.New(zap.DebugLevel)
	fsys := fstest.MapFS{}
	mgr := NewManager(k, c).WithLogger(zap.New(core)).WithFS(fsys)
	if !opts.noReaper {
		k.Start()
	}
	t.Cleanup(k.Stop)
	return &harness{k: k, cpu: c, mgr: mgr, fs: fsys, logs: logs}
}

func (h *harness) add(path string, img []byte) {
	h.fs[path] = &fstest.MapFile{Data: img}
}

func (h *harness) wait(t *testing.T, mod *Module) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	code, err := mod.Wait(ctx)
	require.NoError(t, err, "module %s was not destroyed", mod.Name())
	return code
}

func export(name string, f symtab.Func) symtab.Export {
	return symtab.Export{Name: name, Fn: f}
}

// program is a relocatable ARM image whose main branches to target.
// Optional hooks are wired to module_init and module_cleanup.
func program(target string, hooks ...string) elfgen.Image {
	img := elfgen.Image{
		Text:    make([]byte, 16),
		Symbols: []elfgen.Symbol{elfgen.Func("main", 0), elfgen.Extern(target)},
		Relocs:  []elfgen.Reloc{{Section: elfgen.Text, Offset: 0, Symbol: target, Type: uint32(elf.R_ARM_ABS32)}},
	}
	names := []string{"module_init", "module_cleanup"}
	for i, hook := range hooks {
		if hook == "" {
			continue
		}
		off := uint64(4 * (i + 1))
		img.Symbols = append(img.Symbols, elfgen.Func(names[i], off), elfgen.Extern(hook))
		img.Relocs = append(img.Relocs, elfgen.Reloc{Section: elfgen.Text, Offset: off, Symbol: hook, Type: uint32(elf.R_ARM_ABS32)})
	}
	return img
}

func argv(args []any) []string {
	if len(args) < 2 {
		return nil
	}
	v, _ := args[1].([]string)
	return v
}

type device struct {
	kernel.Object
}
