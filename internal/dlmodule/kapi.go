package dlmodule

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
)

func init() {
	symtab.Register("dlmodule_exit", func(ctx context.Context, args ...any) int {
		if err := Exit(ctx, symtab.Int(args, 0)); err != nil {
			return -1
		}
		return 0
	})
	symtab.Register("dlmodule_self", func(ctx context.Context, _ ...any) int {
		if mod := Self(ctx); mod != nil {
			return int(mod.ID())
		}
		return 0
	})
}
