package resilience

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFetch = errors.New("fetch failed")

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings Settings) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New("images", settings)
	b.now = c.Now
	b.expiry = c.Now().Add(b.settings.Window)
	return b, c
}

func run(b *Breaker, err error) error {
	return b.Do(context.Background(), func(context.Context) error { return err })
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		results  []error
		want     State
	}{
		{
			name:    "stays closed on successes",
			results: []error{nil, nil, nil},
			want:    StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{Trip: func(c Counts) bool {
				return c.ConsecutiveFailures >= 3
			}},
			results: []error{errFetch, errFetch, errFetch},
			want:    StateOpen,
		},
		{
			name: "success resets the streak",
			settings: Settings{Trip: func(c Counts) bool {
				return c.ConsecutiveFailures >= 2
			}},
			results: []error{errFetch, nil, errFetch},
			want:    StateClosed,
		},
		{
			name: "ignored errors do not trip",
			settings: Settings{
				Trip:    func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
				Failure: func(err error) bool { return err != nil && !errors.Is(err, fs.ErrNotExist) },
			},
			results: []error{fs.ErrNotExist, fs.ErrNotExist},
			want:    StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(tt.settings)
			for _, res := range tt.results {
				_ = run(b, res)
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	require.NoError(t, run(b, nil))
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, run(b, errFetch), errFetch)
	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Zero(t, counts.ConsecutiveSuccesses)
	assert.InDelta(t, 0.5, counts.FailureRatio(), 1e-9)
}

func TestBreakerWindowResetsCounts(t *testing.T) {
	b, c := newTestBreaker(Settings{Window: time.Minute})
	_ = run(b, errFetch)
	c.Advance(2 * time.Minute)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().TotalFailures)
}

func TestBreakerOpenRejects(t *testing.T) {
	b, _ := newTestBreaker(Settings{Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 }})
	_ = run(b, errFetch)
	_ = run(b, errFetch)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenProbes(t *testing.T) {
	var transitions []string
	b, c := newTestBreaker(Settings{
		Probes:   2,
		Cooldown: time.Second,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	_ = run(b, errFetch)
	_ = run(b, errFetch)

	c.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, run(b, nil))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, run(b, nil))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(Settings{
		Cooldown: time.Second,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	_ = run(b, errFetch)
	c.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = run(b, errFetch)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	b, c := newTestBreaker(Settings{
		Cooldown: time.Second,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	_ = run(b, errFetch)
	c.Advance(2 * time.Second)

	err := b.Do(context.Background(), func(context.Context) error {
		assert.ErrorIs(t, run(b, nil), ErrTooManyRequests)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(Settings{Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	ctx, cancel := context.WithCancel(context.Background())
	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().Requests)

	assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return nil }), context.Canceled)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	assert.Panics(t, func() {
		_ = b.Do(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestCallReturnsResult(t *testing.T) {
	b, _ := newTestBreaker(Settings{})
	img, err := Call(context.Background(), b, func(context.Context) ([]byte, error) {
		return []byte("\x7fELF"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("\x7fELF"), img)

	snap := b.Snapshot()
	assert.Equal(t, "images", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, uint32(1), snap.Counts.TotalSuccesses)
}
