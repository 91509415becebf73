package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-httploop/eventloop"
)

// startTestServer wires a Server to a freshly started Loop on an ephemeral port,
// returning the dial address and a teardown func. The loop runs on its own
// goroutine for the lifetime of the test, mirroring how cmd/httploopd drives
// it in production.
func startTestServer(t *testing.T, handler Handler, opts ...Option) (addr string, loop *eventloop.Loop, srv *Server, teardown func()) {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)

	listening := make(chan struct{})
	opts = append(opts, OnListening(func() { close(listening) }))

	srv = NewServer(loop, handler, opts...)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	runDone := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { runDone <- loop.Run(ctx) }()

	select {
	case <-listening:
	case <-time.After(2 * time.Second):
		t.Fatal("server never reached listening")
	}

	addr = fmt.Sprintf("127.0.0.1:%d", srv.ActualPort())
	teardown = func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not shut down")
		}
	}
	return addr, loop, srv, teardown
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func readStatusLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func readHeaders(t *testing.T, r *bufio.Reader) textproto.MIMEHeader {
	t.Helper()
	tp := textproto.NewReader(r)
	h, err := tp.ReadMIMEHeader()
	if err != nil && h == nil {
		require.NoError(t, err)
	}
	return h
}

func echoHandler(req *Request, resp *Response) *eventloop.Deferred {
	resp.SendHTML(req.Path())
	return nil
}

func TestServer_SimpleRequestResponse(t *testing.T) {
	addr, _, _, teardown := startTestServer(t, echoHandler)
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status := readStatusLine(t, r)
	require.Contains(t, status, "200")
	h := readHeaders(t, r)
	require.Equal(t, "close", h.Get("Connection"))
}

func TestServer_KeepAliveServesMultipleRequests(t *testing.T) {
	addr, _, _, teardown := startTestServer(t, echoHandler)
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()
	r := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		_, err := conn.Write([]byte("GET /x HTTP/1.1\r\nHost: h\r\n\r\n"))
		require.NoError(t, err)

		status := readStatusLine(t, r)
		require.Contains(t, status, "200")
		h := readHeaders(t, r)
		require.Equal(t, "keep-alive", h.Get("Connection"))

		body := make([]byte, 2) // "/x"
		_, err = r.Read(body)
		require.NoError(t, err)
	}
}

func TestServer_BadRequestGetsBestEffort400(t *testing.T) {
	addr, _, _, teardown := startTestServer(t, echoHandler)
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("NOTHTTP\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status := readStatusLine(t, r)
	require.Contains(t, status, "400")
}

func TestServer_HandlerPanicProducesBestEffort500(t *testing.T) {
	addr, _, _, teardown := startTestServer(t, func(req *Request, resp *Response) *eventloop.Deferred {
		panic("handler exploded")
	})
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status := readStatusLine(t, r)
	require.Contains(t, status, "500")
}

func TestServer_AsyncHandlerViaDeferred(t *testing.T) {
	addr, loop, _, teardown := startTestServer(t, func(req *Request, resp *Response) *eventloop.Deferred {
		d := eventloop.NewDeferred()
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = loop.Submit(func() {
				resp.SendStatus(204)
				d.Resolve()
			})
		}()
		return d
	})
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status := readStatusLine(t, r)
	require.Contains(t, status, "204")
}

// TestServer_GracefulDrainWaitsForInFlightRequest exercises Close's
// documented contract: an in-flight handler still gets to finish and flush
// its response, the connection closes afterward regardless of keep-alive,
// and onDrain fires only once every connection is gone.
func TestServer_GracefulDrainWaitsForInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	addr, loop, srv, teardown := startTestServer(t, func(req *Request, resp *Response) *eventloop.Deferred {
		d := eventloop.NewDeferred()
		close(started)
		go func() {
			<-release
			_ = loop.Submit(func() {
				resp.SendStatus(200)
				d.Resolve()
			})
		}()
		return d
	})
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	drained := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		srv.Close(func() { close(drained) })
	}))

	close(release)

	r := bufio.NewReader(conn)
	status := readStatusLine(t, r)
	require.Contains(t, status, "200")
	h := readHeaders(t, r)
	require.Equal(t, "close", h.Get("Connection"), "a connection draining mid-request must close even though the client allowed keep-alive")

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("onDrain never fired once the connection closed")
	}
}

func TestServer_IdleConnectionClosesImmediatelyOnClose(t *testing.T) {
	addr, loop, srv, teardown := startTestServer(t, echoHandler)
	defer teardown()

	conn := dial(t, addr)
	defer conn.Close()

	// Complete one request so the connection sits idle, then close the
	// server: an idle (not in-flight) connection must close at once.
	_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	require.Contains(t, readStatusLine(t, r), "200")
	readHeaders(t, r)
	_, _ = r.Discard(1) // body "/"

	drained := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		srv.Close(func() { close(drained) })
	}))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("onDrain never fired for an idle-only connection set")
	}

	buf := make([]byte, 1)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(buf)
	require.Error(t, err, "the server must have closed the idle connection")
}
