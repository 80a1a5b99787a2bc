// Command dlkernel hosts the dynamic module kernel.
//
// Subcommands:
//
//	serve     run the HTTP API until interrupted
//	run       load a module image from disk, start it and wait for exit
//	inspect   link an image without starting it and print what was loaded
//	symbols   list the kernel symbol table
//	shell     interactive msh prompt on stdin
//
// Configuration is read from --config (or $DLK_CONFIG), then DLK_*
// environment variables, then flags.
//
// Usage:
//
//	dlkernel serve --config dlkernel.toml
//	dlkernel run ./build/hello.mo "big world" 3
//	dlkernel inspect ./build/libfoo.so
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
