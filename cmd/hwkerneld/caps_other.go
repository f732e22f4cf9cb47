//go:build !linux

package main

// dropAllCapabilities is a no-op outside Linux, which has no POSIX
// capabilities to drop.
func dropAllCapabilities() error { return nil }
