package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Request limits for the control API
const (
	MaxJSONSize      = 64 * 1024
	MaxPathLength    = 256
	MaxCmdlineLength = 1024
)

// ModuleNamePattern matches names the shell and API accept for lookup
var ModuleNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidationError describes one rejected field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateModulePath checks an image path supplied by a client
func ValidateModulePath(p string) error {
	switch {
	case p == "":
		return &ValidationError{Field: "path", Message: "required"}
	case len(p) > MaxPathLength:
		return &ValidationError{Field: "path", Message: fmt.Sprintf("longer than %d bytes", MaxPathLength)}
	case !utf8.ValidString(p) || strings.ContainsRune(p, 0):
		return &ValidationError{Field: "path", Message: "invalid characters"}
	}
	for _, part := range strings.Split(path.Clean(p), "/") {
		if part == ".." {
			return &ValidationError{Field: "path", Message: "must not escape the module root"}
		}
	}
	return nil
}

// ValidateCmdline checks a command line handed to a module
func ValidateCmdline(cmd string) error {
	if len(cmd) > MaxCmdlineLength {
		return &ValidationError{Field: "cmdline", Message: fmt.Sprintf("longer than %d bytes", MaxCmdlineLength)}
	}
	if strings.ContainsRune(cmd, 0) {
		return &ValidationError{Field: "cmdline", Message: "contains NUL"}
	}
	return nil
}

func ValidateModuleName(name string) error {
	if name == "" || !ModuleNamePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: "must match " + ModuleNamePattern.String()}
	}
	return nil
}
