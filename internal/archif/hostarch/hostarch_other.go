//go:build !linux

package hostarch

// PinCurrentOSThread is a no-op outside Linux: scheduling affinity
// pinning has no portable equivalent, so non-Linux hosts just keep
// running every simulated CPU's goroutine wherever the Go scheduler
// puts it.
func PinCurrentOSThread(cpu int) error { return nil }
