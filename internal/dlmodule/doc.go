/*
Package dlmodule loads relocatable and shared ELF images into the kernel
as modules, runs them on their own kernel thread, and reclaims every
kernel object and heap block a module owned when it ends.

A module moves through three states:

	INIT ──run entry──▶ RUNNING ──exit──▶ CLOSING ──reap──▶ destroyed

Load reads an image (from the manager's file system or a caller-supplied
Ops), links it against the kernel symbol table and runs its module_init
hook. Exec additionally starts the main thread, which tokenises the
command line and calls the entry point. When the main thread is reaped,
the module is destroyed: module_cleanup runs, owned objects are detached
or deleted through the per-class handler registry, and the image is
released.

	mgr := dlmodule.NewManager(k, c).WithLogger(logger).WithMetrics(metrics)
	mod, err := mgr.Exec(ctx, "/mods/hello.mo", "hello world")
	<-mod.Done()
*/
package dlmodule
