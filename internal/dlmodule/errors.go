package dlmodule

import "errors"

var (
	// ErrIO reports an unreadable or empty image source.
	ErrIO = errors.New("dlmodule: image unreadable")
	// ErrFormat reports a malformed or unsupported image.
	ErrFormat = errors.New("dlmodule: bad image format")
	// ErrRelocation reports an unresolved symbol or unsupported
	// relocation.
	ErrRelocation = errors.New("dlmodule: relocation failed")
	ErrResource   = errors.New("dlmodule: out of resources")
	ErrBusy       = errors.New("dlmodule: module busy")
	ErrState      = errors.New("dlmodule: invalid module state")
)
