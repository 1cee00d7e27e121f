//go:build linux

package conn

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// dscpThroughputLow is the traffic-class byte SSP marks its datagrams
// with: DSCP AF42 (34) in the upper six bits plus ECT(0) in the ECN bits,
// set through IP_TOS/IPV6_TCLASS for interactive terminal traffic.
const dscpThroughputLow = 0x92

// applyControlSockopts sets the DSCP marking and disables kernel-level
// IP fragmentation on sock, preferring the protocol's own fragmentation
// (internal/wire) over a path MTU black hole silently dropping oversized
// datagrams. Grounded on internal/netio/sender.go's setSenderSockOpts.
func applyControlSockopts(sock *net.UDPConn) error {
	raw, err := sock.SyscallConn()
	if err != nil {
		return fmt.Errorf("conn: sockopts: syscallconn: %w", err)
	}

	isIPv6 := sock.LocalAddr().(*net.UDPAddr).IP.To4() == nil

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = setControlSockOpts(int(fd), isIPv6)
	})
	if ctrlErr != nil {
		return fmt.Errorf("conn: sockopts: control: %w", ctrlErr)
	}
	return sockErr
}

func setControlSockOpts(fd int, isIPv6 bool) error {
	if isIPv6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscpThroughputLow); err != nil {
			return fmt.Errorf("set IPV6_TCLASS: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_DONTFRAG, 0); err != nil {
			return fmt.Errorf("set IPV6_DONTFRAG: %w", err)
		}
		return nil
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, dscpThroughputLow); err != nil {
		return fmt.Errorf("set IP_TOS: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT); err != nil {
		return fmt.Errorf("set IP_PMTUDISC_DONT: %w", err)
	}
	return nil
}
