package conn

import (
	"net"
	"time"
)

// recvPollInterval bounds how long a blocking read waits before Recv
// rechecks ctx for cancellation, since a UDP read has no way to be woken
// by context cancellation directly.
const recvPollInterval = 200 * time.Millisecond

func pollDeadline() time.Time {
	return time.Now().Add(recvPollInterval)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if ne, ok := err.(net.Error); ok {
		netErr = ne
		return netErr.Timeout()
	}
	return false
}
