package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		priority int
		stack    int
	)
	cmd := &cobra.Command{
		Use:   "run <image> [args...]",
		Short: "Load a module image, run it and exit with its return code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.system(cmd, nil)
			if err != nil {
				return err
			}
			defer sys.Close()

			var opts []dlmodule.ExecOption
			if cmd.Flags().Changed("priority") {
				opts = append(opts, dlmodule.WithPriority(priority))
			}
			if cmd.Flags().Changed("stack") {
				opts = append(opts, dlmodule.WithStackSize(stack))
			}

			image := args[0]
			prog := strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
			ctx := cmd.Context()
			mod, err := sys.ExecFile(ctx, image, dlmodule.JoinArgs(append([]string{prog}, args[1:]...)...), opts...)
			if err != nil {
				return err
			}
			if mod.MainThread() == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "module %s loaded, no entry to run\n", mod.Name())
				return nil
			}

			code, err := mod.Wait(ctx)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code & 0xff}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "main thread priority")
	cmd.Flags().IntVar(&stack, "stack", 0, "main thread stack size")
	cmd.Flags().SetInterspersed(false)
	return cmd
}
