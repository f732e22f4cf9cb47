//go:build linux

package main

import "github.com/moby/sys/capability"

// dropAllCapabilities clears every capability set for the running
// process. The daemon's only externally visible action is binding a
// UNIX socket in a directory it's already been given access to, so it
// needs none of CAP_SYS_ADMIN, CAP_NET_ADMIN, or anything else in the
// bounding set -- unrelated to the in-kernel capability tree (§3 item
// C), which is the simulated kernel's own object-identity data.
func dropAllCapabilities() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return err
	}
	if err := caps.Load(); err != nil {
		return err
	}
	caps.Clear(capability.CAPS | capability.BOUNDING | capability.AMBIENT)
	return caps.Apply(capability.CAPS | capability.BOUNDING | capability.AMBIENT)
}
