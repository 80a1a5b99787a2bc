package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/config"
)

func newSymbolsCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List the kernel symbol table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sys, err := g.system(cmd, nil)
			if err != nil {
				return err
			}
			defer sys.Close()

			line := "list_symbols"
			if asJSON {
				line += " -j"
			}
			if code := sys.Shell.Exec(cmd.Context(), line); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print JSON")
	return cmd
}

func newShellCmd(g *globalFlags) *cobra.Command {
	var autoload bool
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive module shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sys, err := g.system(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("autoload") {
					cfg.Loader.Autoload = autoload
				}
			})
			if err != nil {
				return err
			}
			defer sys.Close()

			ctx := cmd.Context()
			if _, err := sys.Boot(ctx); err != nil {
				sys.Logger.Warn("Autoload finished with errors", zap.Error(err))
			}
			err = sys.Shell.Serve(ctx, cmd.InOrStdin())
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&autoload, "autoload", false, "start modules from the module root first")
	return cmd
}
