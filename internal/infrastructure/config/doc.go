// Package config loads dlkernel configuration.
//
// Values are layered: built-in defaults, then an optional TOML file
// (path argument or $DLK_CONFIG), then environment variables. Every
// variable is read as DLK_<SECTION>_<NAME> and, failing that, by its
// bare name:
//
//	DLK_SERVER_PORT or PORT
//	DLK_KERNEL_HEAP_SIZE or HEAP_SIZE
//	DLK_REMOTE_REGISTRY_URL or REGISTRY_URL
//
// Example file:
//
//	[kernel]
//	heap_size = 4194304
//	coherent = false
//
//	[loader]
//	root = "/srv/modules"
//	autoload = true
//
//	[remote]
//	url = "https://modules.example.com/v1"
//	timeout = "10s"
package config
