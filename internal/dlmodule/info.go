package dlmodule

import "github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"

// Info is a point-in-time description of a module for reporting.
type Info struct {
	Name      string `json:"name"`
	Instance  string `json:"instance"`
	Path      string `json:"path"`
	Digest    string `json:"digest"`
	State     State  `json:"state"`
	Kind      string `json:"kind"`
	Machine   string `json:"machine"`
	Priority  int    `json:"priority"`
	StackSize int    `json:"stack_size"`
	Entry     uint64 `json:"entry"`
	Base      uint64 `json:"base"`
	Size      int    `json:"size"`
	LoadCount int    `json:"load_count"`
	RetCode   int    `json:"ret_code"`
	Objects   int    `json:"objects"`
	Symbols   int    `json:"symbols"`
}

// Info snapshots the module.
func (m *Module) Info() Info {
	return Info{
		Name:      m.Name(),
		Instance:  m.instanceID.String(),
		Path:      m.path,
		Digest:    utils.Short(m.digest),
		State:     m.State(),
		Kind:      kindLabel(m.kind),
		Machine:   m.machine.String(),
		Priority:  m.Priority(),
		StackSize: m.StackSize(),
		Entry:     uint64(m.entry),
		Base:      uint64(m.ImageBase()),
		Size:      m.ImageSize(),
		LoadCount: m.LoadCount(),
		RetCode:   m.RetCode(),
		Objects:   len(m.Objects()),
		Symbols:   len(m.symbols),
	}
}
