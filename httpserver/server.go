// Package httpserver implements the HTTP/1.1 connection lifecycle and
// server/acceptor described by the specification: accept, parse, dispatch,
// respond, keep-alive-or-close, idle timeouts, and graceful shutdown. It is
// built directly on package eventloop's readiness registration and timers;
// it never spawns a goroutine per connection.
package httpserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-httploop/eventloop"
	"github.com/joeycumines/go-httploop/internal/telemetry"
)

// Handler processes one request and returns a Deferred that settles once
// the handler's asynchronous work (if any) has completed. A nil return is
// treated as "already complete, and resp.End was called synchronously".
// A Deferred that rejects, or a handler that panics synchronously, is
// adapted into a best-effort 500 if headers were not already sent.
type Handler func(req *Request, resp *Response) *eventloop.Deferred

// Option configures a Server at construction time.
type Option func(*Server)

// WithRateLimiter installs a per-remote-address accept-time rate limiter.
// Connections exceeding the configured rates are accepted and immediately
// closed with a 429, rather than left to queue in the kernel backlog.
func WithRateLimiter(limiter *catrate.Limiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithErrorReporter installs a sink for the Kind-classified errors the
// connection and acceptor lifecycle produce. The default discards them.
func WithErrorReporter(fn func(*Error)) Option {
	return func(s *Server) { s.onError = fn }
}

// OnListening registers a callback invoked (on the loop goroutine, as a
// microtask) once Listen has successfully bound and begun accepting.
func OnListening(fn func()) Option {
	return func(s *Server) { s.onListening = fn }
}

// WithMetrics installs a telemetry.Metrics bundle, which the server updates
// for every accepted connection, rejected connection, and completed
// request.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithIdleTimeout overrides the per-connection idle watchdog, which
// defaults to the specification's fixed 30s. A non-positive value is
// ignored, leaving the default in effect.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// Server is the acceptor: it owns a listening socket, accepts connections,
// and tracks every connection it handed off, so Close can drain them.
type Server struct {
	loop        *eventloop.Loop
	handler     Handler
	limiter     *catrate.Limiter
	onError     func(*Error)
	metrics     *telemetry.Metrics
	idleTimeout time.Duration

	onListening func()

	listenFd   int
	actualPort int

	mu      sync.Mutex
	conns   map[*connection]struct{}
	closing bool
	onDrain func()
}

// NewServer constructs a Server bound to loop, dispatching every completed
// request to handler.
func NewServer(loop *eventloop.Loop, handler Handler, opts ...Option) *Server {
	s := &Server{
		loop:        loop,
		handler:     handler,
		listenFd:    -1,
		conns:       make(map[*connection]struct{}),
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActualPort returns the bound listening port, valid only after a
// successful Listen (useful when addr specified port 0).
func (s *Server) ActualPort() int { return s.actualPort }

// Listen binds addr (host:port, IPv4), registers the listening socket for
// accept-readiness, and begins accepting connections. It acquires one loop
// ref for the lifetime of the listening socket.
func (s *Server) Listen(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return newErr(KindListenerFailure, addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return newErr(KindListenerFailure, addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return newErr(KindListenerFailure, addr, err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return newErr(KindListenerFailure, addr, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return newErr(KindListenerFailure, addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return newErr(KindListenerFailure, addr, err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		s.actualPort = in4.Port
	}

	s.listenFd = fd

	if err := s.loop.RegisterFD(fd, eventloop.EventRead, s.onAcceptable); err != nil {
		_ = unix.Close(fd)
		return newErr(KindListenerFailure, addr, err)
	}
	s.loop.Ref()

	if s.onListening != nil {
		_ = s.loop.ScheduleMicrotask(s.onListening)
	}

	return nil
}

func (s *Server) onAcceptable(eventloop.IOEvents) {
	for {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}

		fd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.reportError(newErr(KindListenerFailure, "accept", err))
			return
		}

		addr := formatSockaddr(sa)

		if s.limiter != nil {
			if _, ok := s.limiter.Allow(remoteHost(addr)); !ok {
				if s.metrics != nil {
					s.metrics.RateLimited.Inc()
				}
				_ = unix.Write(fd, []byte("HTTP/1.1 429 Too Many Requests\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
				_ = unix.Close(fd)
				continue
			}
		}

		conn := newConnection(s, fd, addr)
		if err := conn.accept(); err != nil {
			s.reportError(newErr(KindIOError, addr, err))
			_ = unix.Close(fd)
			continue
		}
		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ConnectionsActive.Inc()
		}
	}
}

func (s *Server) addConn(c *connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(c *connection) {
	s.mu.Lock()
	delete(s.conns, c)
	drained := s.closing && len(s.conns) == 0
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
	if drained {
		s.finishDrain()
	}
}

func (s *Server) reportError(err *Error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// Close begins a graceful shutdown: new accepts are refused immediately,
// idle connections are closed at once, and in-flight requests are given
// the chance to complete and flush before onDrain runs. Close is
// idempotent; a second call is a no-op.
func (s *Server) Close(onDrain func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	empty := len(conns) == 0
	s.mu.Unlock()

	if s.listenFd >= 0 {
		_ = s.loop.UnregisterFD(s.listenFd)
		_ = unix.Close(s.listenFd)
		s.loop.Unref()
		s.listenFd = -1
	}

	if onDrain != nil {
		s.mu.Lock()
		s.onDrain = onDrain
		s.mu.Unlock()
	}

	// Idle (not mid-request) connections close immediately. In-flight
	// ones are left for their handler to finish naturally; onFinish
	// checks closeOnDrain and closes the connection once that response
	// is flushed, rather than keeping it alive for a further request.
	for _, c := range conns {
		if c.inFlight {
			c.closeOnDrain = true
			continue
		}
		c.close()
	}

	if empty {
		s.finishDrain()
	}
}

func (s *Server) finishDrain() {
	s.mu.Lock()
	fn := s.onDrain
	s.onDrain = nil
	s.mu.Unlock()
	if fn != nil {
		_ = s.loop.ScheduleMicrotask(fn)
	}
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
