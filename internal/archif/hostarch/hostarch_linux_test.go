//go:build linux

package hostarch

import "testing"

func TestPinCurrentOSThread(t *testing.T) {
	done := make(chan error, 1)
	go func() { done <- PinCurrentOSThread(0) }()
	if err := <-done; err != nil {
		t.Fatalf("PinCurrentOSThread(0): %v", err)
	}
}
