/*
Package resilience provides the circuit breaker that guards remote module
fetches.

A breaker starts closed and counts results within a window. When Trip
approves after a failure it opens, and every call fails fast with
ErrCircuitOpen until the cooldown passes. It then lets Probes calls through
half-open: if they all succeed it closes, and any failure reopens it.

	breaker := resilience.New("module-registry", resilience.Settings{
		Cooldown: 30 * time.Second,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	img, err := resilience.Call(ctx, breaker, fetch)

Cancelled calls leave the counts untouched.
*/
package resilience
