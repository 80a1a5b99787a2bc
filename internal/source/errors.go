package source

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound wraps fs.ErrNotExist so callers can test either.
	ErrNotFound = fmt.Errorf("image not found: %w", fs.ErrNotExist)
	ErrTooLarge = errors.New("image too large")
	ErrStatus   = errors.New("unexpected status")
	ErrCorrupt  = errors.New("corrupt compressed image")
)
