package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronostruct/gossp/internal/complete"
	"github.com/chronostruct/gossp/internal/conn"
	"github.com/chronostruct/gossp/internal/config"
	"github.com/chronostruct/gossp/internal/crypto"
	"github.com/chronostruct/gossp/internal/metrics"
	"github.com/chronostruct/gossp/internal/ptyio"
	"github.com/chronostruct/gossp/internal/transport"
	"github.com/chronostruct/gossp/internal/userinput"
	appversion "github.com/chronostruct/gossp/internal/version"
	"github.com/chronostruct/gossp/internal/wire"
)

// defaultCols and defaultRows size the PTY and the initial Complete state
// before the client's first reported terminal size arrives (§4.10).
const (
	defaultCols = 80
	defaultRows = 24
)

// errNoPortAvailable is returned when every port in the configured range
// is already in use.
var errNoPortAvailable = errors.New("sspd: no UDP port available in configured range")

// runAsServer binds a UDP port, prints the bootstrap line, spawns the
// user's shell under a PTY, and runs the session until the connection
// shuts down or the process receives a termination signal.
func runAsServer(cfg *config.Config, logger *slog.Logger, logLevel *slog.LevelVar, configPath string) int {
	key, err := crypto.RandomKey()
	if err != nil {
		logger.Error("generate session key", slog.String("error", err.Error()))
		return 1
	}

	c, err := bindServerConnection(cfg.Server, key)
	if err != nil {
		logger.Error("bind UDP listener", slog.String("error", err.Error()))
		return 1
	}
	defer c.Close()

	printable, err := crypto.EncodeKey(key)
	if err != nil {
		logger.Error("encode session key", slog.String("error", err.Error()))
		return 1
	}
	fmt.Printf("MOSH CONNECT %d %s\n", c.LocalAddr().Port(), printable)

	shellCmd := os.Getenv("SHELL")
	if shellCmd == "" {
		shellCmd = "/bin/sh"
	}
	cmd := exec.Command(shellCmd, "-l")
	cmd.Env = os.Environ()

	master, err := ptyio.Shell(cmd, defaultRows, defaultCols)
	if err != nil {
		logger.Error("start shell", slog.String("error", err.Error()))
		return 1
	}
	defer master.Close()

	reg, collector := newCollector()
	collector.RegisterSession(metrics.RoleServer)
	defer collector.UnregisterSession(metrics.RoleServer)

	ctx, stop := signalContext()
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	startMetricsServer(gCtx, g, cfg.Metrics, reg, logger)

	sess := newServerSession(c, master, cmd, collector, logger)

	g.Go(func() error { return sess.runPTYReader(gCtx) })
	g.Go(func() error { return sess.runNetworkReader(gCtx) })
	g.Go(func() error { return sess.runSenderLoop(gCtx) })
	g.Go(func() error { return sess.runChildWait(gCtx) })
	g.Go(func() error { return handleSIGHUPServer(gCtx, configPath, logLevel, logger) })

	logger.Info("gossp server attached",
		slog.String("version", appversion.Version),
		slog.Int("port", int(c.LocalAddr().Port())),
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errShutdownComplete) {
		logger.Error("gossp server exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gossp server stopped")
	return 0
}

// bindServerConnection tries every port in [PortMin, PortMax], preferring
// BindAddr, until one binds successfully (§4.2).
func bindServerConnection(sc config.ServerConfig, key []byte) (*conn.Connection, error) {
	addr := netip.IPv4Unspecified()
	if sc.BindAddr != "" {
		parsed, err := netip.ParseAddr(sc.BindAddr)
		if err != nil {
			return nil, fmt.Errorf("parse bind_addr %q: %w", sc.BindAddr, err)
		}
		addr = parsed
	}

	var lastErr error
	for port := sc.PortMin; port <= sc.PortMax; port++ {
		c, err := conn.Listen(key, netip.AddrPortFrom(addr, uint16(port)))
		if err == nil {
			return c, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: last error: %w", errNoPortAvailable, lastErr)
}

// serverSession holds the server-role state machine: a Complete sender
// (terminal state flowing to the client) and a UserStream receiver
// (keystrokes and resizes flowing from the client). The session loops run
// as separate goroutines, so mu serializes every touch of the transport
// state they share.
type serverSession struct {
	conn   *conn.Connection
	master *os.File
	cmd    *exec.Cmd
	logger *slog.Logger
	coll   *metrics.Collector

	mu sync.Mutex

	sender   *transport.Sender[*complete.Complete]
	receiver *transport.Receiver[*userinput.UserStream]
	assem    *wire.Assembler

	appliedInput *userinput.UserStream
	lastSentNum  uint64
}

func newServerSession(c *conn.Connection, master *os.File, cmd *exec.Cmd, coll *metrics.Collector, logger *slog.Logger) *serverSession {
	now := time.Now().UnixMilli()
	return &serverSession{
		conn:         c,
		master:       master,
		cmd:          cmd,
		logger:       logger,
		coll:         coll,
		sender:       transport.NewSender[*complete.Complete](c, complete.New(defaultCols, defaultRows), now),
		receiver:     transport.NewReceiver[*userinput.UserStream](userinput.New(), now),
		assem:        wire.NewAssembler(),
		appliedInput: userinput.New(),
	}
}

// runPTYReader relays bytes the shell writes (its stdout/stderr, merged
// onto the PTY master) into the synchronized terminal state.
func (s *serverSession) runPTYReader(ctx context.Context) error {
	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := s.master.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil // shell exited or PTY closed: let runChildWait decide the exit
		}
		if n == 0 {
			continue
		}

		s.mu.Lock()
		if s.sender.ShutdownState() != transport.Running {
			s.mu.Unlock()
			continue // current_state is frozen; drain the PTY quietly
		}
		next := s.sender.CurrentState().Clone()
		reply := next.Act(buf[:n])
		s.sender.SetCurrentState(next)
		s.mu.Unlock()

		if len(reply) > 0 {
			_, _ = s.master.Write(reply)
		}
	}
}

// runNetworkReader decrypts and reassembles incoming datagrams, applies
// them to the UserStream receiver, and forwards newly arrived keystrokes
// and resizes to the PTY.
func (s *serverSession) runNetworkReader(ctx context.Context) error {
	for {
		payload, roamed, err := s.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sspd: server: receive datagram: %w", err)
		}
		s.coll.IncDatagramsReceived(metrics.RoleServer)
		if roamed {
			s.coll.IncRoamEvents()
			s.logger.Info("client roamed to a new source address")
		}

		frag, err := wire.UnmarshalFragment(payload)
		if err != nil {
			s.coll.IncDatagramsDropped(metrics.RoleServer, metrics.ReasonDecodeFailure)
			continue
		}

		full, ready, err := s.assem.Add(frag)
		if err != nil {
			return fmt.Errorf("sspd: server: reassemble fragment: %w", err)
		}
		if !ready {
			continue
		}

		inst, err := wire.Unmarshal(full)
		if err != nil {
			s.coll.IncDatagramsDropped(metrics.RoleServer, metrics.ReasonDecodeFailure)
			continue
		}

		now := time.Now().UnixMilli()

		s.mu.Lock()
		applied, err := s.receiver.Apply(s.sender, inst, now)
		if err != nil {
			s.mu.Unlock()
			s.coll.IncDatagramsDropped(metrics.RoleServer, metrics.ReasonDecodeFailure)
			continue
		}
		s.sender.ObserveRemoteActivity(now)
		s.sender.SetAckNum(s.receiver.Back().Num)
		if applied {
			s.sender.NotePendingDataAck()

			// A client-initiated shutdown arrives as a state numbered MAX;
			// starting our own handshake acknowledges it (ack_num = MAX on
			// the next send) and drains the session.
			if s.receiver.Back().Num == wire.Shutdown {
				s.startShutdownLocked(now)
			}

			if aerr := s.applyNewInputEventsLocked(); aerr != nil {
				s.mu.Unlock()
				return fmt.Errorf("sspd: server: apply input events: %w", aerr)
			}
		}
		s.mu.Unlock()
	}
}

// startShutdownLocked begins the shutdown handshake once.
func (s *serverSession) startShutdownLocked(now int64) {
	if s.sender.ShutdownState() == transport.Running {
		s.sender.StartShutdown(now)
	}
}

// applyNewInputEventsLocked decodes the receiver's freshly-rationalized
// diff against the locally tracked UserStream shadow, forwards any
// keystroke or resize events not yet delivered to the shell, and advances
// the echo-ack so the client's prediction engine can validate its local
// echo against a state that reflects this input (§4.11).
func (s *serverSession) applyNewInputEventsLocked() error {
	diff := s.receiver.GetRemoteDiff()
	if len(diff) == 0 {
		return nil
	}

	prevLen := s.appliedInput.Len()
	next, err := s.appliedInput.ApplyDiff(diff)
	if err != nil {
		return err
	}
	s.appliedInput = next

	if s.sender.ShutdownState() != transport.Running {
		return nil // current_state is frozen; the shell is gone anyway
	}

	cur := s.sender.CurrentState().Clone()
	for i := prevLen; i < next.Len(); i++ {
		ev := next.Action(i)
		if ev.Width > 0 && ev.Height > 0 {
			cur.Resize(ev.Width, ev.Height)
			if err := ptyio.Resize(s.master, ev.Height, ev.Width); err != nil {
				s.logger.Warn("resize PTY", slog.String("error", err.Error()))
			}
			continue
		}
		if _, werr := s.master.Write([]byte{ev.Byte}); werr != nil {
			s.logger.Warn("write keystroke to shell", slog.String("error", werr.Error()))
		}
	}
	cur.SetEchoAck(s.receiver.Back().Num)
	s.sender.SetCurrentState(cur)

	return nil
}

// runSenderLoop drives the scheduling algorithm (§4.5), waking whenever
// the sender reports something is due, and unwinds the session once the
// shutdown handshake reaches a terminal state.
func (s *serverSession) runSenderLoop(ctx context.Context) error {
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

// tickOnce runs one sender tick under the session lock and reports whether
// the shutdown handshake has terminated.
func (s *serverSession) tickOnce() (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNum := s.lastSentNum
	if terr := s.sender.Tick(time.Now().UnixMilli()); terr != nil {
		return false, fmt.Errorf("sspd: server: sender tick: %w", terr)
	}

	s.lastSentNum = s.sender.SentStateLast()
	if s.lastSentNum != prevNum {
		s.coll.IncDatagramsSent(metrics.RoleServer)
	}

	if serr := s.conn.SendException(); serr != nil {
		s.logger.Warn("transient send failure", slog.String("error", serr.Error()))
	}

	return s.sender.ShutdownState().Terminal(), nil
}

// drainShutdown runs after a SIGINT/SIGTERM cancelled the session context:
// the signal is user intent, so it initiates the graceful handshake (§7),
// which then terminates on peer ack, retry exhaustion, or the
// active-retry timeout (§4.5).
func (s *serverSession) drainShutdown() error {
	s.mu.Lock()
	s.startShutdownLocked(time.Now().UnixMilli())
	s.mu.Unlock()

	if !s.conn.Attached() {
		return errShutdownComplete // no peer ever connected; nothing to drain
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

// runChildWait waits for the shell to exit and begins the shutdown
// handshake (§4.5) once it does.
func (s *serverSession) runChildWait(ctx context.Context) error {
	err := s.cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	s.mu.Lock()
	s.startShutdownLocked(time.Now().UnixMilli())
	s.mu.Unlock()
	s.logger.Info("shell exited", slog.String("error", fmt.Sprint(err)))
	return nil
}

// tickPoll bounds how often the sender loop re-checks WaitTime while the
// connection has not yet attached to a peer.
const tickPoll = 200 * time.Millisecond

// handleSIGHUPServer reloads the dynamic log level on SIGHUP. There is no
// session reconciliation to redo: sspd serves exactly one session per
// process, so a reload only ever takes effect for the next process.
func handleSIGHUPServer(ctx context.Context, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) error {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigHUP:
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()))
				continue
			}
			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}
