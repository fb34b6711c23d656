package protocol

import (
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultPort is the CLI port on every device.
	DefaultPort = 1255
	// DefaultCommandTimeout bounds a single request/response exchange.
	DefaultCommandTimeout = 5 * time.Second

	readChunkSize = 4096
)

// DialFunc opens a connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// PoolOptions configures a Pool. Zero values select defaults.
type PoolOptions struct {
	Port           int
	CommandTimeout time.Duration
	Dial           DialFunc
	Logger         *log.Logger
}

// link is the persistent connection to one host. Holding the token in sem
// means owning the connection for one exchange.
type link struct {
	host   string
	sem    chan struct{}
	conn   net.Conn
	framer *Framer
}

func (l *link) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *link) release() {
	<-l.sem
}

// Pool owns one persistent connection per device host and serializes
// exchanges per host. Different hosts proceed independently.
type Pool struct {
	mu     sync.Mutex
	links  map[string]*link
	closed bool

	port    int
	timeout time.Duration
	dial    DialFunc
	logger  *log.Logger
}

// NewPool creates an empty pool. Connections are dialed on first use.
func NewPool(options PoolOptions) *Pool {
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.CommandTimeout <= 0 {
		options.CommandTimeout = DefaultCommandTimeout
	}
	if options.Dial == nil {
		dialer := &net.Dialer{Timeout: options.CommandTimeout, KeepAlive: 30 * time.Second}
		options.Dial = dialer.DialContext
	}
	if options.Logger == nil {
		options.Logger = log.Default()
	}
	return &Pool{
		links:   make(map[string]*link),
		port:    options.Port,
		timeout: options.CommandTimeout,
		dial:    options.Dial,
		logger:  options.Logger,
	}
}

// Port returns the CLI port used for every host.
func (p *Pool) Port() int {
	return p.port
}

// Send writes cmd to host and returns the first final response. At most one
// exchange per host is in flight; the lock is released on every exit path.
// A transport error tears the connection down so the next call redials; the
// failed command itself is not retried.
func (p *Pool) Send(ctx context.Context, host string, cmd Command) (Envelope, error) {
	l, err := p.getOrCreateLink(host)
	if err != nil {
		return Envelope{}, err
	}
	return p.sendOn(ctx, l, cmd)
}

// sendOn runs one exchange on a link obtained before the lock. Close may
// have run while the caller waited, so the pool is checked again once the
// lock is held.
func (p *Pool) sendOn(ctx context.Context, l *link, cmd Command) (Envelope, error) {
	if err := l.acquire(ctx); err != nil {
		return Envelope{}, &TransportError{Host: l.host, Op: "acquire", Err: err}
	}
	defer l.release()

	if p.isClosed() {
		return Envelope{}, ErrClosed
	}
	return p.exchange(ctx, l, cmd)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Hosts lists every host that has a link, connected or not.
func (p *Pool) Hosts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	hosts := make([]string, 0, len(p.links))
	for host := range p.links {
		hosts = append(hosts, host)
	}
	return hosts
}

// Close tears down every connection. In-flight exchanges finish first.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	links := make([]*link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	var errs []error
	for _, l := range links {
		l.sem <- struct{}{}
		if l.conn != nil {
			if err := l.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			l.conn = nil
		}
		l.release()
	}
	return errors.Join(errs...)
}

func (p *Pool) getOrCreateLink(host string) (*link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	l, exists := p.links[host]
	if !exists {
		l = &link{host: host, sem: make(chan struct{}, 1)}
		p.links[host] = l
	}
	return l, nil
}

func (p *Pool) exchange(ctx context.Context, l *link, cmd Command) (Envelope, error) {
	if l.conn == nil {
		conn, err := p.dial(ctx, "tcp", net.JoinHostPort(l.host, strconv.Itoa(p.port)))
		if err != nil {
			return Envelope{}, &TransportError{Host: l.host, Op: "dial", Err: err}
		}
		l.conn = conn
		l.framer = NewFramer()
		p.logger.Printf("LINK: connected to %s", l.host)
	}

	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := l.conn.SetDeadline(deadline); err != nil {
		return Envelope{}, p.fail(ctx, l, "deadline", err)
	}
	conn := l.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	// Anything left over belongs to an earlier exchange.
	l.framer.Reset()

	if _, err := l.conn.Write(cmd.Line()); err != nil {
		return Envelope{}, p.fail(ctx, l, "write", err)
	}

	buf := make([]byte, readChunkSize)
	for {
		if env, found := p.nextFinal(l, cmd); found {
			return env, nil
		}
		n, err := l.conn.Read(buf)
		if n > 0 {
			l.framer.Feed(buf[:n])
			continue
		}
		if err != nil {
			return Envelope{}, p.fail(ctx, l, "read", err)
		}
	}
}

// nextFinal drains framed envelopes until one is a final answer.
func (p *Pool) nextFinal(l *link, cmd Command) (Envelope, bool) {
	for {
		env, ok, err := l.framer.Next()
		if err != nil {
			p.logger.Printf("LINK: %s: skipping unparseable data while waiting for %s: %v", l.host, cmd.Path(), err)
			continue
		}
		if !ok {
			return Envelope{}, false
		}
		if env.IsEvent() {
			p.logger.Printf("LINK: %s: ignoring %s on command connection", l.host, env.Command)
			continue
		}
		if env.IsProvisional() {
			continue
		}
		return env, true
	}
}

func (p *Pool) fail(ctx context.Context, l *link, op string, err error) error {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	if l.framer != nil {
		l.framer.Reset()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		// the socket deadline can fire a moment before the context timer
		err = context.DeadlineExceeded
	}
	p.logger.Printf("LINK: %s %s failed, connection dropped: %v", op, l.host, err)
	return &TransportError{Host: l.host, Op: op, Err: err}
}
