package main

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
)

type inspection struct {
	dlmodule.Info
	Exports []symtab.Symbol `json:"exports"`
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Link an image without running it and describe the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.system(cmd, nil)
			if err != nil {
				return err
			}
			defer sys.Close()

			mod, err := sys.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer sys.Modules.Destroy(context.WithoutCancel(cmd.Context()), mod)

			out := inspection{Info: mod.Info(), Exports: mod.Symbols()}
			w := cmd.OutOrStdout()
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(data))
				return err
			}

			fmt.Fprintf(w, "name:     %s\n", out.Name)
			fmt.Fprintf(w, "path:     %s\n", out.Path)
			fmt.Fprintf(w, "digest:   %s\n", out.Digest)
			fmt.Fprintf(w, "kind:     %s (%s)\n", out.Kind, out.Machine)
			fmt.Fprintf(w, "base:     0x%08x\n", out.Base)
			fmt.Fprintf(w, "size:     %d\n", out.Size)
			fmt.Fprintf(w, "entry:    0x%08x\n", out.Entry)
			fmt.Fprintf(w, "exports:  %d\n", len(out.Exports))
			for _, s := range out.Exports {
				fmt.Fprintf(w, "  %s => 0x%08x\n", s.Name, s.Addr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print JSON")
	return cmd
}
