package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		host     string
		port     int
		autoload bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the module API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			sys, err := g.system(cmd, func(cfg *config.Config) {
				if flags.Changed("host") {
					cfg.Server.Host = host
				}
				if flags.Changed("port") {
					cfg.Server.Port = port
				}
				if flags.Changed("autoload") {
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
			return server.New(sys).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port")
	cmd.Flags().BoolVar(&autoload, "autoload", false, "start modules from the module root before serving")
	return cmd
}
