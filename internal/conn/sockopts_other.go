//go:build !linux

package conn

import "net"

// applyControlSockopts is a no-op outside Linux: DSCP marking and
// fragmentation control are nice-to-haves, not required for the
// protocol to function correctly.
func applyControlSockopts(sock *net.UDPConn) error {
	return nil
}
