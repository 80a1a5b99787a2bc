// Package app assembles a running dlkernel from configuration: the
// kernel, its CPU and symbol table, the module manager, image sources,
// the console shell and the boot-time autoloader.
//
//	sys, err := app.New(cfg, app.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer sys.Close()
//	sys.Start()
//	results, err := sys.Boot(ctx)
package app
