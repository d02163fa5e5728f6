package http

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/originhttp/origin/filesystem"
	"github.com/originhttp/origin/test"
)

func newAcceptorServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{
		Name:             "origin",
		KeepAliveTimeout: 50 * time.Millisecond,
		Filesystem:       filesystem.NewLocalFilesystem(),
		Hooks: HookTable{
			Request: func(ctx *RequestContext) int {
				ctx.OutContentType = "text/plain"
				ctx.OutContent = []byte("acceptor-response")
				return int(StatusOK)
			},
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestAcceptorBindsAndServes(t *testing.T) {
	server := newAcceptorServer(t)
	acceptor := NewAcceptor(server, "127.0.0.1:0")
	acceptor.Start()

	if !acceptor.WaitStarted(5) {
		t.Fatal("acceptor did not reach the running state")
	}
	test.AssertTrue(t, StateRunning, acceptor.State())
	defer acceptor.Shutdown()

	addr := acceptor.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.0\r\nHost: example.com\r\n\r\n"))
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	test.AssertTrue(t, true, strings.Contains(string(resp), "acceptor-response"))

	stats := server.Stats()
	test.AssertTrue(t, int64(1), stats.TotalConnections)
	test.AssertTrue(t, int64(0), stats.ActiveConnections)
}

func TestAcceptorDedicatesWorkerWhenPoolDisabled(t *testing.T) {
	server := newAcceptorServer(t)
	server.PoolDisabled = true
	acceptor := NewAcceptor(server, "127.0.0.1:0")
	test.AssertTrue(t, true, acceptor.pool == nil)
	acceptor.Start()

	if !acceptor.WaitStarted(5) {
		t.Fatal("acceptor did not reach the running state")
	}
	defer acceptor.Shutdown()

	addr := acceptor.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.0\r\nHost: example.com\r\n\r\n"))
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	test.AssertTrue(t, true, strings.Contains(string(resp), "acceptor-response"))
}

func TestAcceptorShutdownDrainsWorkers(t *testing.T) {
	server := newAcceptorServer(t)
	acceptor := NewAcceptor(server, "127.0.0.1:0")
	acceptor.Start()
	if !acceptor.WaitStarted(5) {
		t.Fatal("acceptor did not reach the running state")
	}

	addr := acceptor.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	time.Sleep(10 * time.Millisecond) // let the accept loop hand the conn to a worker
	acceptor.Shutdown()

	test.AssertTrue(t, 0, len(server.liveWorkers()))
	conn.Close()
}

func TestAcceptorLastErrorOnBindFailure(t *testing.T) {
	server := newAcceptorServer(t)
	blocker := NewAcceptor(server, "127.0.0.1:0")
	blocker.Start()
	if !blocker.WaitStarted(5) {
		t.Fatal("blocker did not reach the running state")
	}
	defer blocker.Shutdown()

	addr := blocker.listener.Addr().String()

	acceptor := NewAcceptor(server, addr)
	acceptor.Start()
	if acceptor.WaitStarted(5) {
		t.Fatal("acceptor unexpectedly bound an address already in use")
	}
	test.AssertTrue(t, StateFinished, acceptor.State())
	test.AssertTrue(t, true, acceptor.LastError() != nil)
}

func TestRemoteAddrIP(t *testing.T) {
	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	// net.Pipe's addresses are not "host:port" formatted, so the
	// SplitHostPort failure path returns the raw address unchanged.
	ip := remoteAddrIP(serverConn)
	test.AssertTrue(t, true, ip != "")
}
