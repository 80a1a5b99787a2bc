// Package source supplies module images to dlmodule.Manager.LoadWith.
//
// Files reads from a file system, Remote fetches over HTTP from a module
// registry, Compressed unpacks gzip or zstd images from any other source,
// and Router picks Remote or Files by the shape of the path.
package source
