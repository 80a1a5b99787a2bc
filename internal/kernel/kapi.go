package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
)

func init() {
	symtab.Register("rt_thread_mdelay", func(ctx context.Context, args ...any) int {
		t := Self(ctx)
		if t == nil {
			return -1
		}
		if err := t.k.Sleep(ctx, time.Duration(symtab.Int(args, 0))*time.Millisecond); err != nil {
			return -1
		}
		return 0
	})
	symtab.Register("rt_thread_yield", func(ctx context.Context, _ ...any) int {
		if t := Self(ctx); t != nil {
			t.k.Yield(ctx)
		}
		return 0
	})
	symtab.Register("rt_kprintf", func(ctx context.Context, args ...any) int {
		t := Self(ctx)
		if t == nil || len(args) == 0 {
			return 0
		}
		n, _ := fmt.Fprintf(t.k.console, symtab.String(args, 0), args[1:]...)
		return n
	})
	symtab.Register("rt_tick_get", func(context.Context, ...any) int {
		return int(time.Since(bootTime) / time.Millisecond)
	})
	symtab.RegisterData("rt_version_code", VersionCode)
}

// Kernel release.
const (
	VersionMajor = 5
	VersionMinor = 0
	VersionPatch = 2
)

// VersionCode is exported as the absolute symbol rt_version_code: a
// module relocated against it receives the packed release number.
const VersionCode uintptr = VersionMajor<<16 | VersionMinor<<8 | VersionPatch

var bootTime = time.Now()
