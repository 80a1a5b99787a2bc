package source

import (
	"context"
	"debug/elf"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/testutil/elfgen"
)

func TestManagerLoadsPackedImages(t *testing.T) {
	k := kernel.New(kernel.DefaultConfig())
	k.Start()
	t.Cleanup(k.Stop)
	mgr := dlmodule.NewManager(k, cpu.New(symtab.Kernel(), k.Heap(), true))

	img := elfgen.Image{
		Text:    make([]byte, 8),
		Symbols: []elfgen.Symbol{elfgen.Func("main", 0), elfgen.Extern("rt_tick_get")},
		Relocs:  []elfgen.Reloc{{Section: elfgen.Text, Symbol: "rt_tick_get", Type: uint32(elf.R_ARM_ABS32)}},
	}.Build()
	gz, err := Compress(CodecGzip, img)
	require.NoError(t, err)
	zst, err := Compress(CodecZstd, img)
	require.NoError(t, err)

	ops := NewCompressed(NewFiles(fstest.MapFS{
		"plain.mo":   {Data: img},
		"app.mo.gz":  {Data: gz},
		"tool.mo.zs": {Data: zst},
	}, 0), 0)

	for _, name := range []string{"plain.mo", "app.mo.gz", "tool.mo.zs"} {
		mod, err := mgr.LoadWith(context.Background(), name, ops)
		require.NoError(t, err, name)
		assert.NotZero(t, mod.Entry())
		require.NoError(t, mgr.Destroy(context.Background(), mod))
	}
	assert.Zero(t, k.Heap().Used())

	_, err = mgr.LoadWith(context.Background(), "missing.mo", ops)
	assert.ErrorIs(t, err, dlmodule.ErrIO)
}
