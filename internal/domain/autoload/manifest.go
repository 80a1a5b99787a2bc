package autoload

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
)

// Manifest is the ordered boot list.
type Manifest struct {
	Modules []Entry `yaml:"modules"`
}

// Entry is one module to start.
type Entry struct {
	Path     string        `yaml:"path"`
	Args     string        `yaml:"args,omitempty"`
	Priority *int          `yaml:"priority,omitempty"`
	Stack    *int          `yaml:"stack,omitempty"`
	Wait     bool          `yaml:"wait,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Disabled bool          `yaml:"disabled,omitempty"`
}

// Cmdline is the command line the module sees: its program name followed
// by Args.
func (e Entry) Cmdline() string {
	prog := strings.TrimSuffix(path.Base(e.Path), path.Ext(e.Path))
	if e.Args == "" {
		return prog
	}
	return prog + " " + e.Args
}

// Options converts the entry's thread settings to exec options.
func (e Entry) Options() []dlmodule.ExecOption {
	var opts []dlmodule.ExecOption
	if e.Priority != nil {
		opts = append(opts, dlmodule.WithPriority(*e.Priority))
	}
	if e.Stack != nil {
		opts = append(opts, dlmodule.WithStackSize(*e.Stack))
	}
	return opts
}

// Validate checks the path and command line a client supplied.
func (e Entry) Validate() error {
	if err := utils.ValidateModulePath(e.Path); err != nil {
		return err
	}
	if err := utils.ValidateCmdline(e.Cmdline()); err != nil {
		return err
	}
	if e.Timeout < 0 {
		return &utils.ValidationError{Field: "timeout", Message: "must not be negative"}
	}
	return nil
}

// ParseManifest decodes and validates a manifest. Unknown keys are errors.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var errs []error
	for i, e := range m.Modules {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("modules[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and parses the manifest file at name.
func LoadManifest(name string) (*Manifest, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Marshal encodes the manifest back to YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}
