// Package conn implements the encrypted UDP datagram connection that
// carries an SSP session: binding, roaming, RTT estimation, and the
// direction/sequence replay guard that sits underneath the fragment and
// instruction layers in internal/wire and internal/transport.
package conn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/chronostruct/gossp/internal/crypto"
)

// ErrNoRemote is returned by Send when a server-role Connection has not
// yet learned its peer's address from an inbound datagram.
var ErrNoRemote = errors.New("conn: no remote peer known yet")

// Role distinguishes the two ends of an SSP session: the client
// initiates and keeps a fixed remote address, the server roams (§3.2,
// §4.2 roaming rule).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Connection is one SSP datagram socket. It owns the AEAD session,
// per-direction sequence counters, RTT estimation, and — for a
// server-role connection — the currently believed remote address, which
// updates whenever a datagram decrypts successfully from a new source
// (§4.2: authentication, not the claimed source address, is what proves
// a roam is genuine).
type Connection struct {
	sock *net.UDPConn
	sess *crypto.Session
	role Role
	mtu  int

	mu          sync.Mutex
	remote      netip.AddrPort
	haveRemote  bool
	sendSeq     uint64
	recvSeq     uint64
	haveRecvSeq bool

	savedTimestamp   uint16
	haveSavedTS      bool
	savedTimestampAt time.Time

	sendErr error

	rtt rttEstimator
}

// sendDirection and recvDirection report which direction's sequence
// space this role writes to and reads from, mirroring the client/server
// asymmetry baked into the nonce construction (§4.1).
func (r Role) sendDirection() crypto.Direction {
	if r == RoleClient {
		return crypto.ToServer
	}
	return crypto.ToClient
}

func (r Role) recvDirection() crypto.Direction {
	if r == RoleClient {
		return crypto.ToClient
	}
	return crypto.ToServer
}

// Dial creates a client-role Connection with a fixed remote address.
func Dial(key []byte, localAddr netip.AddrPort, remote netip.AddrPort) (*Connection, error) {
	sess, err := crypto.NewSession(key)
	if err != nil {
		return nil, fmt.Errorf("conn: dial: %w", err)
	}

	sock, err := net.ListenUDP(udpNetwork(localAddr.Addr()), net.UDPAddrFromAddrPort(localAddr))
	if err != nil {
		return nil, fmt.Errorf("conn: dial: listen: %w", err)
	}
	if err := applyControlSockopts(sock); err != nil {
		sock.Close()
		return nil, fmt.Errorf("conn: dial: sockopts: %w", err)
	}

	return &Connection{
		sock:       sock,
		sess:       sess,
		role:       RoleClient,
		mtu:        SendMTU,
		remote:     remote,
		haveRemote: true,
	}, nil
}

// Listen creates a server-role Connection bound to localAddr. The remote
// peer address is learned from the first datagram that decrypts
// successfully, and may change afterward as the peer roams.
func Listen(key []byte, localAddr netip.AddrPort) (*Connection, error) {
	sess, err := crypto.NewSession(key)
	if err != nil {
		return nil, fmt.Errorf("conn: listen: %w", err)
	}

	sock, err := net.ListenUDP(udpNetwork(localAddr.Addr()), net.UDPAddrFromAddrPort(localAddr))
	if err != nil {
		return nil, fmt.Errorf("conn: listen: %w", err)
	}
	if err := applyControlSockopts(sock); err != nil {
		sock.Close()
		return nil, fmt.Errorf("conn: listen: sockopts: %w", err)
	}

	return &Connection{
		sock: sock,
		sess: sess,
		role: RoleServer,
		mtu:  SendMTU,
	}, nil
}

func udpNetwork(addr netip.Addr) string {
	if addr.Is4() || addr.Is4In6() {
		return "udp4"
	}
	return "udp6"
}

// LocalAddr returns the bound local address.
func (c *Connection) LocalAddr() netip.AddrPort {
	return c.sock.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Send encrypts and transmits payload to the current remote peer, framed
// with the 16-bit timestamp and echo-timestamp header described in §6.2:
// plaintext = timestamp(2) ‖ timestamp-echo(2) ‖ payload. The echo carries
// a recent peer timestamp, corrected for the time elapsed since it was
// saved, as long as one is still held within timestampSaveWindow (§4.2).
func (c *Connection) Send(payload []byte) error {
	now := time.Now()

	c.mu.Lock()
	if !c.haveRemote {
		c.mu.Unlock()
		return ErrNoRemote
	}
	seq := c.sendSeq
	c.sendSeq++
	remote := c.remote

	echo := timestampAbsent
	if c.haveSavedTS && now.Sub(c.savedTimestampAt) < timestampSaveWindow {
		elapsed := uint16(now.Sub(c.savedTimestampAt).Milliseconds())
		echo = c.savedTimestamp + elapsed
		if echo == timestampAbsent {
			echo--
		}
	}
	c.mu.Unlock()

	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(framed[0:2], timestamp16(now))
	binary.BigEndian.PutUint16(framed[2:4], echo)
	copy(framed[4:], payload)

	word := crypto.SeqWord(seq, c.role.sendDirection())
	datagram := c.sess.Encrypt(framed, word)

	_, err := c.sock.WriteToUDPAddrPort(datagram, remote)
	if err != nil {
		// Recorded, not raised (§4.2): a transient kernel-level send
		// failure (EMSGSIZE, EAGAIN) must not tear down the session. The
		// next caller of SendException sees it once.
		c.mu.Lock()
		c.sendErr = fmt.Errorf("conn: send: %w", err)
		c.mu.Unlock()
	}
	return nil
}

// SendException returns and clears the most recently recorded send
// failure, or nil when every send since the last call succeeded.
func (c *Connection) SendException() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.sendErr
	c.sendErr = nil
	return err
}

// Recv blocks until a valid datagram arrives or ctx is cancelled,
// decrypting it and enforcing direction safety. The decrypted payload is
// always returned to the caller, including one whose sequence number is
// not greater than the highest already accepted: rejecting a replayed or
// reordered Instruction for idempotency is internal/transport.Receiver's
// job, keyed off old_num/new_num, not this layer's. Such a datagram does
// not update the saved timestamp, the RTT estimate, the sequence
// high-water mark, or the remembered remote address. A roam (an
// authenticated datagram from a new source address, server role only,
// only applied for a datagram that does advance the high-water mark)
// updates the remembered remote address and is reported via roamed.
func (c *Connection) Recv(ctx context.Context) (payload []byte, roamed bool, err error) {
	// The read buffer is sized to exactly ReceiveMTU: an oversized
	// datagram is truncated by the kernel, fails authentication, and is
	// dropped, so nothing larger than the bound ever reaches decryption.
	buf := make([]byte, ReceiveMTU)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, fmt.Errorf("conn: recv: %w", err)
		}

		deadline, ok := ctx.Deadline()
		if !ok || deadline.After(pollDeadline()) {
			deadline = pollDeadline()
		}
		_ = c.sock.SetReadDeadline(deadline)

		n, srcAddr, rErr := c.sock.ReadFromUDPAddrPort(buf)
		if rErr != nil {
			if ctx.Err() != nil {
				return nil, false, fmt.Errorf("conn: recv: %w", ctx.Err())
			}
			if isTimeout(rErr) {
				continue
			}
			return nil, false, fmt.Errorf("conn: recv: %w", rErr)
		}

		word, framed, dErr := c.sess.Decrypt(buf[:n])
		if dErr != nil {
			continue // not authentic: drop silently, never a fatal error (§4.1)
		}
		if len(framed) < 4 {
			continue // too short to hold the timestamp/echo header: malformed, drop
		}

		counter, dir := crypto.SplitSeqWord(word)
		if dir != c.role.recvDirection() {
			continue
		}

		recvTS := binary.BigEndian.Uint16(framed[0:2])
		echoTS := binary.BigEndian.Uint16(framed[2:4])
		payload := framed[4:]

		now := time.Now()

		c.mu.Lock()
		if c.haveRecvSeq && counter <= c.recvSeq {
			// Replay or reorder below the high-water mark: still returned
			// to the caller (idempotent rejection belongs to
			// transport.Receiver, not this layer), but it does not update
			// timestamps, RTT, the sequence high-water mark, or roaming.
			c.mu.Unlock()
			return payload, false, nil
		}
		c.recvSeq = counter
		c.haveRecvSeq = true

		if recvTS != timestampAbsent {
			c.savedTimestamp = recvTS
			c.savedTimestampAt = now
			c.haveSavedTS = true
		}

		if echoTS != timestampAbsent {
			r := float64(timestampDiff(timestamp16(now), echoTS))
			if r >= 0 && r < echoStaleWindow {
				c.rtt.OnSample(r)
			}
		}

		didRoam := false
		if c.role == RoleServer && (!c.haveRemote || c.remote != srcAddr) {
			didRoam = c.haveRemote // the first attach is not a roam
			c.remote = srcAddr
			c.haveRemote = true
		}
		c.mu.Unlock()

		return payload, didRoam, nil
	}
}

// OnRTTSample folds a freshly measured round trip (ms) into the RTT
// estimate, to be called once per acknowledgment round.
func (c *Connection) OnRTTSample(measured float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtt.OnSample(measured)
}

// SRTT implements transport.Connection.
func (c *Connection) SRTT() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt.SRTT()
}

// Timeout implements transport.Connection.
func (c *Connection) Timeout() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt.Timeout()
}

// MTU implements transport.Connection.
func (c *Connection) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// SetMTU updates the path MTU estimate used to size fragments, e.g. in
// response to an ICMP fragmentation-needed notification surfaced by the
// platform layer.
func (c *Connection) SetMTU(mtu int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mtu < minSafeMTU {
		mtu = minSafeMTU
	}
	c.mtu = mtu
}

// Attached implements transport.Connection: true once a remote peer is
// known (always true for a client, true for a server after its first
// datagram).
func (c *Connection) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveRemote
}

// Close releases the underlying socket.
func (c *Connection) Close() error {
	if err := c.sock.Close(); err != nil {
		return fmt.Errorf("conn: close: %w", err)
	}
	return nil
}

const (
	// SendMTU is the default datagram size budget (§4.2: SEND_MTU); a
	// platform-specific Path MTU may enlarge it via SetMTU.
	SendMTU = 1400
	// ReceiveMTU bounds any accepted incoming datagram (§4.2:
	// RECEIVE_MTU); anything larger is dropped before decryption.
	ReceiveMTU = 2048

	minSafeMTU = 500
)
