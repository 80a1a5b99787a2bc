package main

import (
	"github.com/spf13/cobra"

	apihttp "github.com/GriffinCanCode/AgentOS/dlkernel/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/app"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/config"
)

type globalFlags struct {
	config   string
	root     string
	logLevel string
	dev      bool
	registry string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "dlkernel",
		Short:         "Dynamic module kernel",
		Long:          "dlkernel loads ELF module images, links them against the kernel symbol table and runs them as kernel threads.",
		Version:       apihttp.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "TOML config file (default $"+config.EnvFile+")")
	pf.StringVar(&g.root, "root", "", "module root directory")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&g.dev, "dev", false, "development logging")
	pf.StringVar(&g.registry, "registry", "", "module registry base URL")

	cmd.AddCommand(
		newServeCmd(g),
		newRunCmd(g),
		newInspectCmd(g),
		newSymbolsCmd(g),
		newShellCmd(g),
	)
	return cmd
}

// load reads the layered configuration and applies flag overrides.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Loader.Root = g.root
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = g.dev
	}
	if flags.Changed("registry") {
		cfg.Remote.URL = g.registry
	}
	return cfg, cfg.Validate()
}

// system builds and starts a system; the caller closes it.
func (g *globalFlags) system(cmd *cobra.Command, mutate func(*config.Config), opts ...app.Option) (*app.System, error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	sys, err := app.New(cfg, append([]app.Option{app.WithShellOutput(cmd.OutOrStdout())}, opts...)...)
	if err != nil {
		return nil, err
	}
	sys.Start()
	return sys, nil
}
