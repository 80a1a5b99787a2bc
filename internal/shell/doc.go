// Package shell implements the kernel console commands for modules:
// list_symbols, list_module, exec and dlclose.
//
// Listing commands take -j to print JSON instead of the console table.
package shell
