// Package autoload starts modules when the kernel boots.
//
// The boot list comes from a YAML manifest:
//
//	modules:
//	  - path: apps/shell.mo
//	    args: "-q"
//	    priority: 10
//	  - path: apps/selftest.mo
//	    wait: true
//	    timeout: 5s
//
// or, without one, from scanning the module root for loadable images.
package autoload
