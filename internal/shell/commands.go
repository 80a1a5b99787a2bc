package shell

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
)

func builtins() []Command {
	return []Command{
		{Name: "list_symbols", Help: "list symbols information", Run: listSymbols},
		{Name: "list_module", Help: "list modules in system", Run: listModule},
		{Name: "exec", Help: "exec <path> [args]: load and start a module", Run: execModule},
		{Name: "dlclose", Help: "dlclose <name>: destroy a module", Run: closeModule},
		{Name: "help", Help: "list commands", Run: help},
	}
}

func wantJSON(args []string) bool { return slices.Contains(args, "-j") }

func listSymbols(_ context.Context, s *Shell, args []string, _ string) int {
	syms := s.mgr.Symbols().Symbols()
	if wantJSON(args) {
		return s.JSON(syms)
	}
	for _, sym := range syms {
		s.printf("%s => 0x%08x\n", sym.Name, sym.Addr)
	}
	return 0
}

func listModule(_ context.Context, s *Shell, args []string, _ string) int {
	mods := s.mgr.List()
	if wantJSON(args) {
		infos := make([]dlmodule.Info, 0, len(mods))
		for _, mod := range mods {
			infos = append(infos, mod.Info())
		}
		return s.JSON(infos)
	}

	width := s.mgr.NameMax()
	s.printf("module   ref      address \n")
	s.printf("-------- -------- ------------\n")
	for _, mod := range mods {
		s.printf("%-*.*s %-04d  0x%08x\n", width, width, mod.Name(), mod.LoadCount(), mod.ImageBase())
	}
	return 0
}

// execModule hands the whole argument text, path first, to the module
// as its command line.
func execModule(ctx context.Context, s *Shell, args []string, rest string) int {
	if len(args) == 0 {
		s.printf("Usage: exec <path> [args]\n")
		return 1
	}
	mod, err := s.mgr.Exec(ctx, args[0], rest)
	if err != nil {
		s.printf("exec %s failed: %v\n", args[0], err)
		return 1
	}
	if mod.MainThread() == nil {
		s.printf("module %s loaded\n", mod.Name())
	} else {
		s.printf("module %s started\n", mod.Name())
	}
	return 0
}

func closeModule(ctx context.Context, s *Shell, args []string, _ string) int {
	if len(args) != 1 {
		s.printf("Usage: dlclose <name>\n")
		return 1
	}
	mod, ok := s.mgr.Find(args[0])
	if !ok {
		s.printf("dlclose: no module named %s\n", args[0])
		return 1
	}
	if err := s.mgr.Destroy(ctx, mod); err != nil {
		s.printf("dlclose %s failed: %v\n", args[0], err)
		return 1
	}
	return 0
}

func help(_ context.Context, s *Shell, _ []string, _ string) int {
	var b strings.Builder
	for _, c := range s.Commands() {
		fmt.Fprintf(&b, "%-16s- %s\n", c.Name, c.Help)
	}
	s.printf("%s", b.String())
	return 0
}
