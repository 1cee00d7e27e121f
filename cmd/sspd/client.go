package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronostruct/gossp/internal/complete"
	"github.com/chronostruct/gossp/internal/conn"
	"github.com/chronostruct/gossp/internal/config"
	"github.com/chronostruct/gossp/internal/crypto"
	"github.com/chronostruct/gossp/internal/display"
	"github.com/chronostruct/gossp/internal/metrics"
	"github.com/chronostruct/gossp/internal/overlay"
	"github.com/chronostruct/gossp/internal/ptyio"
	"github.com/chronostruct/gossp/internal/terminal"
	"github.com/chronostruct/gossp/internal/transport"
	"github.com/chronostruct/gossp/internal/userinput"
	"github.com/chronostruct/gossp/internal/wire"
)

// moshKeyEnv is the environment variable the server's invocation wrapper
// sets the session key in; it must be cleared before any subprocess is
// forked, so no descendant ever inherits it (§6.1).
const moshKeyEnv = "MOSH_KEY"

// predictionModeEnv selects the client's local-echo display preference.
const predictionModeEnv = "GOSSP_PREDICTION_MODE"

// quitSequenceByte is Ctrl-^: the escape that introduces the local quit
// sequence. Ctrl-^ followed by '.' disconnects; Ctrl-^ Ctrl-^ sends a
// literal Ctrl-^ to the remote side.
const quitSequenceByte = 0x1E

// errShutdownComplete signals through the errgroup that the shutdown
// handshake finished (acked or timed out) and the session should unwind.
// It is the clean-exit path, not a failure.
var errShutdownComplete = errors.New("session shutdown handshake complete")

// runAsClient dials the server, puts the real terminal into raw mode, and
// runs the session until the server shuts down or the user disconnects.
func runAsClient(cfg *config.Config, logger *slog.Logger, ip string, port int) int {
	printable := os.Getenv(moshKeyEnv)
	os.Unsetenv(moshKeyEnv)

	key, err := crypto.DecodeKey(printable)
	if err != nil {
		logger.Error("decode session key", slog.String("error", err.Error()))
		return 1
	}

	remoteAddr, err := netip.ParseAddr(ip)
	if err != nil {
		logger.Error("parse server address", slog.String("error", err.Error()))
		return 1
	}
	remote := netip.AddrPortFrom(remoteAddr, uint16(port))

	local := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	c, err := conn.Dial(key, local, remote)
	if err != nil {
		logger.Error("dial server", slog.String("error", err.Error()))
		return 1
	}
	defer c.Close()

	stdinFd := int(os.Stdin.Fd())
	cols, rows, err := ptyio.Size(stdinFd)
	if err != nil {
		cols, rows = defaultCols, defaultRows
	}

	restore, err := ptyio.RawMode(stdinFd)
	if err != nil {
		logger.Error("enter raw mode", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			logger.Error("restore terminal", slog.String("error", rerr.Error()))
		}
	}()

	predictionMode := config.PredictionModeFromEnv(os.Getenv(predictionModeEnv), cfg.Client.PredictionMode)

	_, collector := newCollector()
	collector.RegisterSession(metrics.RoleClient)
	defer collector.UnregisterSession(metrics.RoleClient)

	ctx, stop := signalContext()
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	sess := newClientSession(c, cols, rows, predictionMode, collector, logger)

	g.Go(func() error { return sess.runStdinReader(gCtx) })
	g.Go(func() error { return sess.runResizeWatcher(gCtx) })
	g.Go(func() error { return sess.runNetworkReader(gCtx) })
	g.Go(func() error { return sess.runSenderLoop(gCtx) })
	g.Go(func() error { return sess.runRenderLoop(gCtx) })

	// The client does not run a metrics HTTP endpoint: it is attached to an
	// interactive terminal, not a long-lived service process.

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, errShutdownComplete):
		fmt.Fprint(os.Stdout, "\r\n[gossp is exiting.]\r\n")
		return 0
	default:
		fmt.Fprintln(os.Stderr, "\r\ngossp: "+err.Error())
		logger.Error("gossp client exited with error", slog.String("error", err.Error()))
		return 1
	}
}

// clientSession holds the client-role state machine: a UserStream sender
// (keystrokes and resizes flowing to the server) and a Complete receiver
// (terminal state flowing from the server), plus the predictive-echo
// overlay applied at render time. The session loops run as separate
// goroutines, so mu serializes every touch of the transport, prediction,
// and framebuffer state they share.
type clientSession struct {
	conn   *conn.Connection
	logger *slog.Logger
	coll   *metrics.Collector

	mu sync.Mutex

	sender   *transport.Sender[*userinput.UserStream]
	receiver *transport.Receiver[*complete.Complete]
	assem    *wire.Assembler

	appliedComplete *complete.Complete

	predict   *overlay.PredictionEngine
	notify    *overlay.Notification
	statusBar *overlay.Notification
	status    *overlay.ConnectionStatus
	disp      *display.Display

	shadowFB    *terminal.Framebuffer
	initialized bool

	quitPending bool
	lastSentNum uint64

	wakeCh chan struct{}
	cols   int
	rows   int
}

func newClientSession(c *conn.Connection, cols, rows int, predictionMode string, coll *metrics.Collector, logger *slog.Logger) *clientSession {
	now := time.Now().UnixMilli()

	pref := overlay.Adaptive
	switch predictionMode {
	case "always":
		pref = overlay.Always
	case "never":
		pref = overlay.Never
	}

	predict := overlay.NewPredictionEngine()
	predict.SetDisplayPreference(pref)

	initial := complete.New(cols, rows)

	return &clientSession{
		conn:            c,
		logger:          logger,
		coll:            coll,
		sender:          transport.NewSender[*userinput.UserStream](c, userinput.New(), now),
		receiver:        transport.NewReceiver[*complete.Complete](initial, now),
		assem:           wire.NewAssembler(),
		appliedComplete: initial,
		predict:         predict,
		notify:          &overlay.Notification{},
		statusBar:       &overlay.Notification{},
		status:          overlay.NewConnectionStatus(now),
		disp:            display.New(),
		shadowFB:        terminal.New(cols, rows),
		wakeCh:          make(chan struct{}, 1),
		cols:            cols,
		rows:            rows,
	}
}

// runStdinReader turns raw terminal input into UserStream events and feeds
// each keystroke into the prediction engine for local echo (§4.11). The
// Ctrl-^ quit sequence is intercepted here and never reaches the remote
// side.
func (s *clientSession) runStdinReader(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil
		}
		if n == 0 {
			continue
		}

		s.mu.Lock()
		for _, b := range buf[:n] {
			if s.quitPending {
				s.quitPending = false
				switch b {
				case '.':
					s.beginShutdownLocked(time.Now().UnixMilli())
				case quitSequenceByte:
					s.deliverByteLocked(quitSequenceByte)
				default:
					s.deliverByteLocked(quitSequenceByte)
					s.deliverByteLocked(b)
				}
				continue
			}
			if b == quitSequenceByte {
				s.quitPending = true
				continue
			}
			s.deliverByteLocked(b)
		}
		s.mu.Unlock()
		s.wake()
	}
}

// deliverByteLocked appends one keystroke to the outgoing user stream and
// runs it through the prediction engine. Input after the shutdown
// handshake began is discarded: current_state is frozen (§5).
func (s *clientSession) deliverByteLocked(b byte) {
	if s.sender.ShutdownState() != transport.Running {
		return
	}
	next := s.sender.CurrentState().Clone()
	next.PushKeystroke(b)
	s.sender.SetCurrentState(next)
	s.predict.NewUserByte(b, s.appliedComplete.Term.FB, time.Now().UnixMilli())
}

// beginShutdownLocked starts the shutdown handshake once and posts the
// exit banner.
func (s *clientSession) beginShutdownLocked(now int64) {
	if s.sender.ShutdownState() != transport.Running {
		return
	}
	s.notify.SetPermanent("Exiting...")
	s.sender.StartShutdown(now)
}

// runResizeWatcher forwards SIGWINCH-driven terminal resizes into the
// synchronized UserStream (§4.10).
func (s *clientSession) runResizeWatcher(ctx context.Context) error {
	sigWinch := make(chan os.Signal, 1)
	signal.Notify(sigWinch, syscall.SIGWINCH)
	defer signal.Stop(sigWinch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigWinch:
			cols, rows, err := ptyio.Size(int(os.Stdin.Fd()))
			if err != nil || (cols == s.cols && rows == s.rows) {
				continue
			}
			s.cols, s.rows = cols, rows

			s.mu.Lock()
			if s.sender.ShutdownState() == transport.Running {
				next := s.sender.CurrentState().Clone()
				next.PushResize(cols, rows)
				s.sender.SetCurrentState(next)
			}
			s.mu.Unlock()
			s.wake()
		}
	}
}

// runNetworkReader decrypts and reassembles incoming datagrams and applies
// them to the Complete receiver, feeding the prediction engine both the
// transport-level acknowledgment and the server's echo-ack (§4.11).
func (s *clientSession) runNetworkReader(ctx context.Context) error {
	for {
		payload, roamed, err := s.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sspd: client: receive datagram: %w", err)
		}
		s.coll.IncDatagramsReceived(metrics.RoleClient)
		if roamed {
			s.coll.IncRoamEvents()
		}

		now := time.Now().UnixMilli()
		s.status.Heard(now)

		frag, err := wire.UnmarshalFragment(payload)
		if err != nil {
			s.coll.IncDatagramsDropped(metrics.RoleClient, metrics.ReasonDecodeFailure)
			continue
		}

		full, ready, err := s.assem.Add(frag)
		if err != nil {
			return fmt.Errorf("sspd: client: reassemble fragment: %w", err)
		}
		if !ready {
			continue
		}

		inst, err := wire.Unmarshal(full)
		if err != nil {
			s.coll.IncDatagramsDropped(metrics.RoleClient, metrics.ReasonDecodeFailure)
			continue
		}

		s.mu.Lock()
		applied, err := s.receiver.Apply(s.sender, inst, now)
		if err != nil {
			s.mu.Unlock()
			s.coll.IncDatagramsDropped(metrics.RoleClient, metrics.ReasonDecodeFailure)
			continue
		}
		s.sender.ObserveRemoteActivity(now)
		s.sender.SetAckNum(s.receiver.Back().Num)
		s.predict.SetLocalFrameAcked(s.sender.SentStateAcked())
		if applied {
			s.sender.NotePendingDataAck()

			// A server-initiated shutdown arrives as a state numbered MAX;
			// starting our own handshake acknowledges it (ack_num = MAX on
			// the next send) and drains the session.
			if s.receiver.Back().Num == wire.Shutdown {
				s.beginShutdownLocked(now)
			}

			diff := s.receiver.GetRemoteDiff()
			if len(diff) > 0 {
				next, aerr := s.appliedComplete.ApplyDiff(diff)
				if aerr != nil {
					s.mu.Unlock()
					return fmt.Errorf("sspd: client: apply terminal diff: %w", aerr)
				}
				s.appliedComplete = next
				s.predict.SetLocalFrameLateAcked(next.EchoAck)
			}
		}
		s.mu.Unlock()

		s.wake()
	}
}

// runSenderLoop drives the client's half of the scheduling algorithm,
// symmetrical to the server's (§4.5), and unwinds the session once the
// shutdown handshake reaches a terminal state.
func (s *clientSession) runSenderLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		wait := s.sender.WaitTime(time.Now().UnixMilli())
		s.mu.Unlock()

		timer := tickPoll
		if wait >= 0 {
			timer = time.Duration(wait) * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return s.drainShutdown()
		case <-s.wakeCh:
		case <-time.After(timer):
		}

		done, err := s.tickOnce()
		if err != nil {
			return err
		}
		if done {
			return errShutdownComplete
		}
	}
}

// tickOnce runs one sender tick under the session lock, updating the
// metrics and prediction bookkeeping, and reports whether the shutdown
// handshake has terminated.
func (s *clientSession) tickOnce() (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNum := s.lastSentNum
	if terr := s.sender.Tick(time.Now().UnixMilli()); terr != nil {
		return false, fmt.Errorf("sspd: client: sender tick: %w", terr)
	}

	s.lastSentNum = s.sender.SentStateLast()
	if s.lastSentNum != prevNum {
		s.coll.IncDatagramsSent(metrics.RoleClient)
	}
	s.predict.SetLocalFrameSent(s.lastSentNum)

	if serr := s.conn.SendException(); serr != nil && s.sender.ShutdownState() == transport.Running {
		s.notify.Set(serr.Error(), 3000, time.Now().UnixMilli())
	}

	return s.sender.ShutdownState().Terminal(), nil
}

// drainShutdown runs after a SIGINT/SIGTERM cancelled the session context:
// user intent initiates the graceful handshake (§7), which then terminates
// on peer ack, retry exhaustion, or the active-retry timeout (§4.5).
func (s *clientSession) drainShutdown() error {
	s.mu.Lock()
	s.beginShutdownLocked(time.Now().UnixMilli())
	s.mu.Unlock()

	if !s.conn.Attached() {
		return errShutdownComplete // no peer to hand the handshake to
	}

	for {
		done, err := s.tickOnce()
		if err != nil {
			return err
		}
		if done {
			return errShutdownComplete
		}
		time.Sleep(time.Duration(transport.SendIntervalMin) * time.Millisecond)
	}
}

// runRenderLoop redraws the real terminal whenever new host state or
// locally predicted echo changes the composed framebuffer, using a small
// fixed interval rather than reacting to every individual event, matching
// how mosh's STMClient::main_loop throttles repaint_at().
func (s *clientSession) runRenderLoop(ctx context.Context) error {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.render()
		}
	}
}

func (s *clientSession) render() {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	composed := s.appliedComplete.Term.FB.Clone()
	s.predict.Cull(composed, now)
	s.predict.Apply(composed, s.conn.SRTT())

	if text, show := s.status.Banner(now); show {
		s.statusBar.SetPermanent(text)
	} else {
		s.statusBar.Clear()
	}
	s.statusBar.Apply(composed, now)
	s.notify.Apply(composed, now)

	out := s.disp.NewFrame(s.initialized, s.shadowFB, composed)
	s.initialized = true
	s.shadowFB = composed
	s.mu.Unlock()

	if out != "" {
		os.Stdout.WriteString(out)
	}
}

// wake signals the sender loop to re-evaluate WaitTime immediately instead
// of waiting out whatever timer it is currently blocked on.
func (s *clientSession) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}
