// Package logging builds the zap loggers used across the kernel, the
// loader and the control API.
//
// Production mode writes JSON; development mode writes coloured console
// output at debug level. Subsystems take a *zap.Logger obtained from
// Logger.Component so every entry carries the subsystem name.
//
// ConsoleWriter is handed to the kernel as its console so that text a
// module prints through rt_kprintf lands in the log stream:
//
//	logger := logging.NewDefault()
//	console := logging.NewConsoleWriter(logger.Component("console"))
//	k := kernel.New(cfg, kernel.WithLogger(logger.Component("kernel")), kernel.WithConsole(console))
package logging
