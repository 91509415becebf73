package main

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
	"github.com/joeycumines/go-httploop/httpserver"
	"github.com/joeycumines/go-httploop/internal/logging"
)

// startDemoServer runs the real demoHandler behind an httpserver.Server on
// an ephemeral loopback port, the same way run() wires it in main.go.
func startDemoServer(t *testing.T) (addr string, teardown func()) {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)

	listening := make(chan struct{})
	srv := httpserver.NewServer(loop, demoHandler(loop, logging.Default()),
		httpserver.OnListening(func() { close(listening) }))
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	runDone := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { runDone <- loop.Run(ctx) }()

	select {
	case <-listening:
	case <-time.After(2 * time.Second):
		t.Fatal("demo server never reached listening")
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
	return addr, teardown
}

func sendAndRead(t *testing.T, addr, request string) (status string, body string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err = r.ReadString('\n')
	require.NoError(t, err)

	tp := textproto.NewReader(r)
	h, err := tp.ReadMIMEHeader()
	if err != nil && h == nil {
		require.NoError(t, err)
	}

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return status, string(buf[:n])
}

func TestDemoHandler_RootReturnsJSON(t *testing.T) {
	addr, teardown := startDemoServer(t)
	defer teardown()

	status, body := sendAndRead(t, addr, "GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")
	require.Contains(t, status, "200")
	require.Contains(t, body, `"service":"httploopd"`)
}

func TestDemoHandler_EchoReturnsRequestBody(t *testing.T) {
	addr, teardown := startDemoServer(t)
	defer teardown()

	req := "POST /echo HTTP/1.1\r\nHost: h\r\nConnection: close\r\nContent-Length: 4\r\n\r\nping"
	status, body := sendAndRead(t, addr, req)
	require.Contains(t, status, "200")
	require.Contains(t, body, "ping")
}

func TestDemoHandler_UnknownPathReturns404(t *testing.T) {
	addr, teardown := startDemoServer(t)
	defer teardown()

	status, _ := sendAndRead(t, addr, "GET /nope HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")
	require.Contains(t, status, "404")
}

func TestDemoHandler_PanicPathProducesBestEffort500(t *testing.T) {
	addr, teardown := startDemoServer(t)
	defer teardown()

	status, _ := sendAndRead(t, addr, "GET /panic HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")
	require.Contains(t, status, "500")
}

func TestDemoHandler_DelayedPathResolvesAsynchronously(t *testing.T) {
	addr, teardown := startDemoServer(t)
	defer teardown()

	status, body := sendAndRead(t, addr, "GET /delayed HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")
	require.Contains(t, status, "200")
	require.Contains(t, body, `"delayed":true`)
}
