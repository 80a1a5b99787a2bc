package kernel

import "errors"

var (
	ErrNoMemory    = errors.New("kernel: out of memory")
	ErrTimeout     = errors.New("kernel: timed out")
	ErrDeleted     = errors.New("kernel: object deleted")
	ErrNotThread   = errors.New("kernel: not in thread context")
	ErrState       = errors.New("kernel: invalid object state")
	ErrFull        = errors.New("kernel: queue full")
	ErrInterrupted = errors.New("kernel: wait interrupted")
	ErrNotOwner    = errors.New("kernel: not the owner")
	ErrInvalid     = errors.New("kernel: invalid argument")
)
