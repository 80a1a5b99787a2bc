package kernel

import "context"

type threadKey struct{}

// Self returns the thread running ctx, or nil in interrupt context.
func Self(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}

// WithoutThread strips the running thread from ctx so objects created
// through it belong to the kernel.
func WithoutThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, threadKey{}, (*Thread)(nil))
}

func withThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// schedule is the scheduling point kernel calls pass through.
func schedule(ctx context.Context) {
	if t := Self(ctx); t != nil {
		t.Checkpoint()
	}
}
