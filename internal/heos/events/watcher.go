package events

import (
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

// State is the lifecycle state of a Watcher.
type State int

const (
	StateStopped State = iota
	StateRegistering
	StateWatching
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateWatching:
		return "watching"
	default:
		return "stopped"
	}
}

const (
	// DefaultPollDelay is how long one read waits before the loop checks for
	// cancellation again.
	DefaultPollDelay = 100 * time.Millisecond
	// DefaultHandshakeTimeout bounds the registration exchange.
	DefaultHandshakeTimeout = 10 * time.Second
)

// WatcherOptions configures a Watcher. Zero values select defaults.
type WatcherOptions struct {
	Port             int
	Dial             protocol.DialFunc
	PollDelay        time.Duration
	HandshakeTimeout time.Duration
	Logger           *log.Logger
}

// Watcher holds a dedicated connection subscribed to change events. It is
// separate from the link pool so pushed events never interleave with
// command responses.
type Watcher struct {
	registry   Registry
	dispatcher *Dispatcher
	broadcast  *Broadcast

	port             int
	dial             protocol.DialFunc
	pollDelay        time.Duration
	handshakeTimeout time.Duration
	logger           *log.Logger

	mu     sync.Mutex
	state  State
	host   string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(registry Registry, dispatcher *Dispatcher, broadcast *Broadcast, options WatcherOptions) *Watcher {
	if options.Port == 0 {
		options.Port = protocol.DefaultPort
	}
	if options.Dial == nil {
		dialer := &net.Dialer{Timeout: DefaultHandshakeTimeout, KeepAlive: 30 * time.Second}
		options.Dial = dialer.DialContext
	}
	if options.PollDelay <= 0 {
		options.PollDelay = DefaultPollDelay
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	return &Watcher{
		registry:         registry,
		dispatcher:       dispatcher,
		broadcast:        broadcast,
		port:             options.Port,
		dial:             options.Dial,
		pollDelay:        options.PollDelay,
		handshakeTimeout: options.HandshakeTimeout,
		logger:           options.Logger,
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Host returns the device the watcher is connected to, or "" when stopped.
func (w *Watcher) Host() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.host
}

// Start registers for change events on the first known device and starts
// the read loop. It is a no-op when the registry is empty or the watcher is
// already running. It returns once the registration is acknowledged.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return nil
	}
	hosts := w.registry.DeviceHosts()
	if len(hosts) == 0 {
		w.mu.Unlock()
		return nil
	}
	host := hosts[0]
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.state = StateRegistering
	w.host = host
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	// Stop during the handshake cancels registration as well as the loop.
	regCtx, stopReg := context.WithCancel(ctx)
	defer stopReg()
	unlink := context.AfterFunc(loopCtx, stopReg)
	defer unlink()

	conn, framer, err := w.register(regCtx, host)
	if err == nil && loopCtx.Err() != nil {
		_ = conn.Close()
		err = context.Canceled
	}
	if err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.host = ""
		w.cancel = nil
		w.mu.Unlock()
		stopped := loopCtx.Err() != nil
		cancel()
		close(done)
		if stopped {
			w.logger.Printf("WATCH: registration on %s abandoned by stop", host)
			return nil
		}
		return err
	}

	w.mu.Lock()
	w.state = StateWatching
	w.mu.Unlock()

	w.logger.Printf("WATCH: registered for change events on %s", host)
	go w.run(loopCtx, conn, framer, host, done)
	return nil
}

// Stop ends the registration or read loop and waits for it to exit. The loop
// notices the request at its next iteration, so Stop returns within one poll
// delay.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state == StateStopped || w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// Done is closed when the current read loop exits. It is nil when the
// watcher never started.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Watcher) register(ctx context.Context, host string) (net.Conn, *protocol.Framer, error) {
	conn, err := w.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(w.port)))
	if err != nil {
		return nil, nil, &protocol.TransportError{Host: host, Op: "dial", Err: err}
	}

	deadline := time.Now().Add(w.handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)
	// a cancelled ctx unblocks the pending read
	unblock := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer unblock()

	cmd := protocol.RegisterForChangeEvents(true)
	if _, err := conn.Write(cmd.Line()); err != nil {
		_ = conn.Close()
		return nil, nil, &protocol.TransportError{Host: host, Op: "register", Err: err}
	}

	framer := protocol.NewFramer()
	buf := make([]byte, 4096)
	for {
		for {
			env, ok, err := framer.Next()
			if err != nil {
				w.logger.Printf("WATCH: %s: %v", host, err)
				continue
			}
			if !ok {
				break
			}
			if env.IsEvent() || env.IsProvisional() {
				continue
			}
			if err := env.Err(); err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			_ = conn.SetDeadline(time.Time{})
			return conn, framer, nil
		}

		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			continue
		}
		if err != nil {
			_ = conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, nil, &protocol.TransportError{Host: host, Op: "register", Err: err}
		}
	}
}

func (w *Watcher) run(ctx context.Context, conn net.Conn, framer *protocol.Framer, host string, done chan struct{}) {
	defer func() {
		_ = conn.Close()
		w.mu.Lock()
		w.state = StateStopped
		w.host = ""
		w.cancel = nil
		w.mu.Unlock()
		close(done)
	}()

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			w.logger.Printf("WATCH: stopped watching %s", host)
			return
		}

		w.drain(ctx, framer, host)

		// the read deadline doubles as the fixed delay between iterations
		_ = conn.SetReadDeadline(time.Now().Add(w.pollDelay))
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			w.drain(ctx, framer, host)
			w.logger.Printf("WATCH: connection to %s lost, watcher stopped: %v", host, err)
			return
		}
	}
}

func (w *Watcher) drain(ctx context.Context, framer *protocol.Framer, host string) {
	for {
		env, ok, err := framer.Next()
		if err != nil {
			w.logger.Printf("WATCH: %s: %v", host, err)
			continue
		}
		if !ok {
			return
		}
		w.handle(ctx, env, host)
	}
}

func (w *Watcher) handle(ctx context.Context, env protocol.Envelope, host string) {
	if !env.IsEvent() {
		w.logger.Printf("WATCH: %s: ignoring non-event %s", host, env.Command)
		return
	}
	ev := NewEvent(env, host)
	if evicted := w.broadcast.Publish(ev); evicted > 0 {
		w.logger.Printf("WATCH: dropped %d slow subscriber(s)", evicted)
	}
	if err := w.dispatcher.Dispatch(ctx, ev); err != nil {
		w.logger.Printf("WATCH: %v", err)
	}
}
