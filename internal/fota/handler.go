package fota

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"

	enginefsm "github.com/baozi-iot/baozi-node/internal/fsm"
	"github.com/baozi-iot/baozi-node/internal/system"
)

// Lifecycle states.
const (
	StateListening    = "listening"
	StateTransferring = "transferring"
	StateCommitting   = "committing"
	StateRestarting   = "restarting"
)

// Lifecycle events.
const (
	eventAccept  = "accept"
	eventCommit  = "commit"
	eventFail    = "fail"
	eventRestart = "restart"
)

const (
	// progressInterval is the number of chunks between progress logs.
	progressInterval = 10

	// yieldInterval is the number of chunks between scheduler yields.
	yieldInterval = 40

	// readPollInterval bounds a discovery read so cancellation is noticed.
	readPollInterval = time.Second

	// dialTimeout bounds the outbound stream connection.
	dialTimeout = 5 * time.Second
)

// Config holds update handler settings. Zero values use the defaults.
type Config struct {
	// ListenAddr is the discovery address. Default ":3232".
	ListenAddr      string
	ChunkSize       int
	MinImageSize    int
	WatchdogTimeout time.Duration
	RebootDelay     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(DefaultPort)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MinImageSize <= 0 {
		c.MinImageSize = DefaultMinImageSize
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if c.RebootDelay <= 0 {
		c.RebootDelay = DefaultRebootDelay
	}
}

// Logger defines the logging interface for the update handler.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets the observer for transfer outcomes.
func WithObserver(observer Observer) Option {
	return func(h *Handler) {
		if observer != nil {
			h.observer = observer
		}
	}
}

// WithLifecycleObserver reports lifecycle transitions as machine "fota".
func WithLifecycleObserver(observer enginefsm.Observer) Option {
	return func(h *Handler) {
		h.lifecycleObserver = observer
	}
}

// Handler listens for update announcements and runs transfers.
//
// Thread Safety:
//   - One goroutine reads discovery datagrams; each accepted transfer runs
//     on its own goroutine. The lifecycle machine admits one transfer at a
//     time.
//   - The watchdog runs on a timer goroutine and touches only the session
//     failure flag and the stream connection.
type Handler struct {
	cfg       Config
	partition Partition
	restarter system.Restarter

	logger            Logger
	observer          Observer
	lifecycleObserver enginefsm.Observer
	lifecycle         *fsm.FSM

	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	sleep func(time.Duration)

	mu     sync.Mutex
	conn   *net.UDPConn
	stream net.Conn
	wg     sync.WaitGroup
}

// NewHandler creates a handler in the listening state. Call Listen and
// Serve, or Run, to start it.
func NewHandler(cfg Config, partition Partition, restarter system.Restarter, opts ...Option) *Handler {
	cfg.applyDefaults()

	h := &Handler{
		cfg:       cfg,
		partition: partition,
		restarter: restarter,
		logger:    noopLogger{},
		observer:  noopObserver{},
		dial:      (&net.Dialer{Timeout: dialTimeout}).DialContext,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.lifecycle = fsm.NewFSM(
		StateListening,
		fsm.Events{
			{Name: eventAccept, Src: []string{StateListening}, Dst: StateTransferring},
			{Name: eventCommit, Src: []string{StateTransferring}, Dst: StateCommitting},
			{Name: eventFail, Src: []string{StateTransferring, StateCommitting}, Dst: StateListening},
			{Name: eventRestart, Src: []string{StateCommitting}, Dst: StateRestarting},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				h.logger.Info("update state transition", "from", e.Src, "to", e.Dst, "event", e.Event)
				if h.lifecycleObserver != nil {
					h.lifecycleObserver.Transition("fota", e.Src, e.Dst)
				}
			},
		},
	)

	return h
}

// State returns the lifecycle state.
func (h *Handler) State() string {
	return h.lifecycle.Current()
}

// Listen binds the discovery socket.
func (h *Handler) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolving discovery address %s: %w", h.cfg.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("binding discovery socket %s: %w", h.cfg.ListenAddr, err)
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	h.logger.Info("waiting for firmware update", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound discovery address, or nil before Listen.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

// Run binds the discovery socket and serves until ctx is cancelled or an
// update is committed.
func (h *Handler) Run(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}
	return h.Serve(ctx)
}

// Serve reads discovery datagrams until ctx is cancelled or the socket is
// closed. It waits for an in-flight transfer before returning.
func (h *Handler) Serve(ctx context.Context) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return errors.New("fota: Serve called before Listen")
	}

	defer h.wg.Wait()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			h.Close()
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("setting discovery read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				h.logger.Error("discovery socket error", "error", err)
				continue
			}
		}

		h.handleDiscovery(ctx, conn, buf[:n], addr)
	}
}

// Close stops listening and aborts an in-flight transfer.
func (h *Handler) Close() {
	h.mu.Lock()
	conn, stream := h.conn, h.stream
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if stream != nil {
		stream.Close()
	}
}

// handleDiscovery validates an announcement and starts a transfer.
func (h *Handler) handleDiscovery(ctx context.Context, conn *net.UDPConn, packet []byte, addr *net.UDPAddr) {
	h.logger.Debug("discovery packet received", "from", addr.String(), "bytes", len(packet))

	peer, err := senderIPv4(addr)
	if err != nil {
		h.reject(err)
		return
	}

	d, err := ParseDiscovery(packet, h.cfg.MinImageSize)
	if err != nil {
		h.reject(err)
		return
	}

	if err := h.lifecycle.Event(context.WithoutCancel(ctx), eventAccept); err != nil {
		h.reject(fmt.Errorf("%w: %w", ErrTransferInProgress, err))
		return
	}

	if _, err := conn.WriteToUDP([]byte(Ack), addr); err != nil {
		h.logger.Error("sending discovery acknowledgement failed", "peer", peer.String(), "error", err)
		h.event(ctx, eventFail)
		return
	}

	s := newSession(d, peer)
	h.logger.Info("firmware update accepted",
		"peer", s.StreamAddr(),
		"size", s.Declared,
		"token", s.Token,
	)
	h.observer.TransferStarted(peer, s.Declared)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.transfer(ctx, s)
	}()
}

func (h *Handler) reject(reason error) {
	h.logger.Warn("discovery packet rejected", "reason", reason)
	h.observer.DiscoveryRejected(reason)
}

// event fires a lifecycle event, logging a refused transition.
func (h *Handler) event(ctx context.Context, name string) {
	if err := h.lifecycle.Event(context.WithoutCancel(ctx), name); err != nil {
		h.logger.Error("update lifecycle event refused", "event", name, "state", h.lifecycle.Current(), "error", err)
	}
}

// transfer pulls the image and commits it.
func (h *Handler) transfer(ctx context.Context, s *Session) {
	stream, err := h.dial(ctx, "tcp4", s.StreamAddr())
	if err != nil {
		h.fail(ctx, s, fmt.Errorf("%w: %w", ErrConnect, err))
		return
	}
	h.setStream(stream)
	defer h.setStream(nil)

	update, err := h.partition.Begin(s.Declared)
	if err != nil {
		stream.Close()
		h.fail(ctx, s, fmt.Errorf("%w: %w", ErrPartitionBegin, err))
		return
	}

	watchdog := time.AfterFunc(h.cfg.WatchdogTimeout, func() {
		h.logger.Error("update watchdog expired", "peer", s.StreamAddr(), "timeout", h.cfg.WatchdogTimeout.String())
		s.Fail()
		stream.Close()
	})

	err = h.pull(s, stream, update, watchdog)
	watchdog.Stop()

	if err != nil {
		stream.Close()
		update.Abort()
		h.fail(ctx, s, err)
		return
	}

	h.commit(ctx, s, stream, update)
}

// pull reads chunks until the declared size has arrived.
//
// Each chunk is acknowledged with its decimal length before it is stored.
func (h *Handler) pull(s *Session, stream net.Conn, update Update, watchdog *time.Timer) error {
	buf := make([]byte, h.cfg.ChunkSize)
	chunks := 0

	for !s.Complete() {
		n, err := stream.Read(buf[:min(h.cfg.ChunkSize, s.Remaining())])
		if s.Failed() {
			return ErrWatchdog
		}
		if n <= 0 {
			return fmt.Errorf("%w: %w", ErrStreamRead, err)
		}

		if _, err := stream.Write([]byte(strconv.Itoa(n))); err != nil {
			return fmt.Errorf("%w: %w", ErrStreamWrite, err)
		}

		if err := h.store(s, update, buf[:n]); err != nil {
			return err
		}

		watchdog.Reset(h.cfg.WatchdogTimeout)

		chunks++
		if chunks%progressInterval == 0 {
			h.logger.Debug("update progress", "received", s.Received(), "declared", s.Declared)
		}
		if chunks%yieldInterval == 0 {
			runtime.Gosched()
		}
	}

	return nil
}

// store accounts for a chunk and writes it to the partition. A chunk that
// would exceed the declared size is refused before anything is written.
func (h *Handler) store(s *Session, update Update, chunk []byte) error {
	if err := s.Accept(len(chunk)); err != nil {
		return err
	}
	if err := update.Write(chunk); err != nil {
		return fmt.Errorf("%w: %w", ErrPartitionWrite, err)
	}
	return nil
}

// commit finishes the partition, switches the boot target and restarts.
func (h *Handler) commit(ctx context.Context, s *Session, stream net.Conn, update Update) {
	h.event(ctx, eventCommit)

	if err := update.Finish(); err != nil {
		update.Abort()
		stream.Close()
		h.fail(ctx, s, fmt.Errorf("%w: %w", ErrFinish, err))
		return
	}

	if err := update.SetBootTarget(); err != nil {
		update.Abort()
		stream.Close()
		h.fail(ctx, s, fmt.Errorf("%w: %w", ErrBootTarget, err))
		return
	}

	if _, err := stream.Write([]byte(Ack)); err != nil {
		h.logger.Warn("sending completion acknowledgement failed", "error", err)
	}
	stream.Close()

	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.mu.Unlock()

	h.logger.Info("firmware update committed, restarting",
		"bytes", s.Received(),
		"elapsed", time.Since(s.Started).String(),
		"delay", h.cfg.RebootDelay.String(),
	)
	h.observer.TransferFinished(Result{
		Peer:     s.Peer,
		Declared: s.Declared,
		Received: s.Received(),
		Elapsed:  time.Since(s.Started),
	})
	h.event(ctx, eventRestart)

	h.sleep(h.cfg.RebootDelay)
	h.restarter.Restart("firmware update committed")
}

// fail reports a failed transfer and returns to listening.
func (h *Handler) fail(ctx context.Context, s *Session, err error) {
	h.logger.Error("firmware update failed",
		"peer", s.StreamAddr(),
		"received", s.Received(),
		"declared", s.Declared,
		"error", err,
	)
	h.event(ctx, eventFail)
	h.observer.TransferFinished(Result{
		Peer:     s.Peer,
		Declared: s.Declared,
		Received: s.Received(),
		Elapsed:  time.Since(s.Started),
		Err:      err,
	})
}

func (h *Handler) setStream(c net.Conn) {
	h.mu.Lock()
	h.stream = c
	h.mu.Unlock()
}
