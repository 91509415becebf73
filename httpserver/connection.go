package httpserver

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-httploop/eventloop"
	"github.com/joeycumines/go-httploop/httpparser"
)

const (
	readBufferSize = 8 * 1024
	// defaultIdleTimeout matches the specification's fixed 30s watchdog;
	// WithIdleTimeout overrides it per-Server.
	defaultIdleTimeout = 30 * time.Second
)

// connection holds the per-socket state the spec's "Connection State"
// component describes: a non-blocking fd, a read buffer, a parser, and an
// idle-timeout handle. It is only ever touched from the loop goroutine.
type connection struct {
	srv  *Server
	fd   int
	addr string

	parser *httpparser.Parser
	buf    []byte

	cancelIdle func()
	closed     bool

	inFlight     bool
	closeOnDrain bool
}

func newConnection(srv *Server, fd int, addr string) *connection {
	c := &connection{
		srv:    srv,
		fd:     fd,
		addr:   addr,
		parser: httpparser.New(),
		buf:    make([]byte, readBufferSize),
	}
	return c
}

// accept wires the connection into the loop: registers read-readiness,
// acquires the connection's loop ref, and arms the idle timeout. Mirrors
// the spec's required accept-time side effects exactly.
func (c *connection) accept() error {
	if err := c.srv.loop.RegisterFD(c.fd, eventloop.EventRead, c.onReadable); err != nil {
		return err
	}
	c.srv.loop.Ref()
	c.srv.addConn(c)
	c.armIdleTimeout()
	return nil
}

func (c *connection) armIdleTimeout() {
	if c.cancelIdle != nil {
		c.cancelIdle()
	}
	c.cancelIdle = c.srv.loop.SetTimeout(c.srv.idleTimeout, func() {
		c.srv.reportError(newErr(KindIdleTimeout, c.addr, nil))
		c.close()
	})
}

func (c *connection) onReadable(events eventloop.IOEvents) {
	if c.closed {
		return
	}

	c.armIdleTimeout()

	n, err := unix.Read(c.fd, c.buf)
	if n == 0 && err == nil {
		c.srv.reportError(newErr(KindPeerClosed, c.addr, nil))
		c.close() // EOF
		return
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		c.srv.reportError(newErr(KindIOError, c.addr, err))
		c.close()
		return
	}

	chunk := c.buf[:n]
	for len(chunk) > 0 {
		consumed := c.parser.Feed(chunk)
		chunk = chunk[consumed:]

		if !c.parser.Done() {
			break // need more bytes from a future readiness callback
		}

		if c.parser.Err() != nil {
			c.srv.reportError(newErr(KindBadRequest, c.addr, c.parser.Err()))
			c.writeBestEffort400()
			c.close()
			return
		}

		c.dispatch(c.parser.Result())
		c.parser.Reset()
	}
}

func (c *connection) dispatch(result httpparser.Result) {
	c.inFlight = true
	started := time.Now()

	reqID := uuid.NewString()
	req := newRequest(result, c.addr, reqID)
	connHdr, _ := req.Header("Connection")

	resp := newResponse(req, connHdr, c.write, func(keepAlive bool) {
		if c.srv.metrics != nil {
			c.srv.metrics.ObserveRequest(req.Method(), resp.StatusCode(), started)
		}
		c.onFinish(keepAlive)
	}, func() bool { return c.closeOnDrain })

	handler := c.srv.handler
	deferred := func() (d *eventloop.Deferred) {
		defer func() {
			if r := recover(); r != nil {
				d = eventloop.RejectedDeferred(&eventloop.PanicError{Value: r})
			}
		}()
		return handler(req, resp)
	}()

	if deferred == nil {
		return
	}
	deferred.OnSettle(func(err error) {
		if err != nil {
			c.srv.reportError(newErr(KindHandlerFailure, c.addr, err))
			if !resp.HeadersSent() {
				// Close once the 500 is flushed, the same way a draining
				// connection does.
				c.closeOnDrain = true
				resp.Status(500)
				resp.End([]byte(err.Error()))
			}
		}
	})
}

func (c *connection) write(b []byte) error {
	if c.closed {
		return unix.EBADF
	}
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return err
		}
		b = b[n:]
	}
	return nil
}

func (c *connection) writeBestEffort400() {
	body := []byte("Bad Request")
	msg := "HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n"
	_ = c.write(append([]byte(msg), body...))
}

// onFinish implements the rearm-idle-or-close decision the spec requires
// once a response has been flushed. A server-initiated graceful drain that
// arrived mid-request overrides keep-alive: the in-flight response is still
// allowed to complete and flush, but the connection then closes regardless.
func (c *connection) onFinish(keepAlive bool) {
	c.inFlight = false
	if c.closed {
		return
	}
	if keepAlive && !c.closeOnDrain {
		c.armIdleTimeout()
		return
	}
	c.close()
}

func (c *connection) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.cancelIdle != nil {
		c.cancelIdle()
		c.cancelIdle = nil
	}
	_ = c.srv.loop.UnregisterFD(c.fd)
	_ = unix.Close(c.fd)
	c.srv.removeConn(c)
	c.srv.loop.Unref()
}
