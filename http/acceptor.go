package http

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Acceptor binds a listener and dispatches accepted connections to a
// WorkerPool or, for connections the pool decides to promote, a dedicated
// ConnectionWorker. Binding happens in a background goroutine started by
// Start, not the constructor, so that a caller can observe StateBinding
// and react to a bind failure without blocking its own startup sequence.
//
// Grounded on the reference repo's listener setup in http/server.go
// (ListenAndServe dialing out to a goroutine-per-connection Accept loop),
// generalized with the pool-first dispatch and the explicit lifecycle
// states this spec requires.
type Acceptor struct {
	server  *Server
	pool    *WorkerPool
	address string

	listener net.Listener
	state    atomic.Int32
	lastErr  atomic.Value // error

	started chan struct{}
	done    chan struct{}

	shutdownOnce atomic.Bool
}

// NewAcceptor constructs an Acceptor bound to address (a "host:port" TCP
// address, or a "unix:/path/to.sock" address for a Unix domain socket).
// It does not bind until Start is called. If server.PoolDisabled is set,
// no WorkerPool is built and every accepted connection gets its own
// dedicated ConnectionWorker directly, per SPEC_FULL.md §4.6.
func NewAcceptor(server *Server, address string) *Acceptor {
	a := &Acceptor{
		server:  server,
		address: address,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !server.PoolDisabled {
		a.pool = NewWorkerPool(server, server.WorkerCount, server.QueueLength, server.ContentionAbortDelay)
	}
	return a
}

// LastError returns the error that caused binding to fail, or nil if the
// acceptor has not failed to bind (SPEC_FULL.md §7's "the acceptor
// records the last exception message for diagnostic retrieval").
func (a *Acceptor) LastError() error {
	if v := a.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// State returns the acceptor's current lifecycle state.
func (a *Acceptor) State() ExecuteState { return ExecuteState(a.state.Load()) }

// Start binds the listener and begins accepting in a background
// goroutine, returning immediately. Call WaitStarted to block until the
// bind has completed (or failed).
func (a *Acceptor) Start() {
	go a.run()
}

// WaitStarted blocks up to timeoutSeconds for the acceptor to leave
// StateBinding, returning true if it reached StateRunning and false if it
// timed out or failed to bind.
func (a *Acceptor) WaitStarted(timeoutSeconds int) bool {
	select {
	case <-a.started:
		return a.State() == StateRunning
	case <-time.After(time.Duration(timeoutSeconds) * time.Second):
		return false
	}
}

func (a *Acceptor) run() {
	a.state.Store(int32(StateBinding))

	listener, err := a.bind()
	if err != nil {
		a.lastErr.Store(err)
		if a.server.Logger != nil {
			a.server.Logger.Error("bind failed", "address", a.address, "err", err)
		}
		a.state.Store(int32(StateFinished))
		close(a.started)
		close(a.done)
		return
	}
	a.listener = listener

	a.state.Store(int32(StateRunning))
	close(a.started)
	defer close(a.done)

	var sleepOnError time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if a.State() == StateFinished {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if sleepOnError == 0 {
				sleepOnError = time.Millisecond
			} else if sleepOnError < time.Second {
				sleepOnError *= 2
			}
			time.Sleep(sleepOnError)
			continue
		}
		sleepOnError = 0

		// A pending Accept can return the Shutdown self-connect dial
		// after the state has already flipped to Finished; discard it
		// instead of dispatching it as real work.
		if a.State() == StateFinished {
			conn.Close()
			return
		}

		a.dispatch(conn)
	}
}

// bind resolves a.address, preferring an inherited socket-activation file
// descriptor (LISTEN_FDS/LISTEN_PID, per golang.org/x/sys/unix) over
// opening a fresh one, so the server can be handed its listening socket by
// a supervisor without dropping connections across a restart.
func (a *Acceptor) bind() (net.Listener, error) {
	if l, err := a.bindFromActivation(); l != nil || err != nil {
		return l, err
	}

	if strings.HasPrefix(a.address, "unix:") {
		path := strings.TrimPrefix(a.address, "unix:")
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", a.address)
}

// bindFromActivation implements systemd-style socket activation: if
// LISTEN_PID matches this process and LISTEN_FDS is at least 1, the first
// inherited descriptor (fd 3) is adopted as the listener instead of
// binding a new one.
func (a *Acceptor) bindFromActivation() (net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	fdsStr := os.Getenv("LISTEN_FDS")
	if pidStr == "" || fdsStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return nil, nil
	}
	fds, err := strconv.Atoi(fdsStr)
	if err != nil || fds < 1 {
		return nil, nil
	}

	const firstActivationFD = 3
	if err := unix.SetNonblock(firstActivationFD, true); err != nil {
		return nil, fmt.Errorf("http: socket activation fd %d: %w", firstActivationFD, err)
	}
	file := os.NewFile(uintptr(firstActivationFD), "listen-fd")
	return net.FileListener(file)
}

// dispatch hands an accepted connection to the WorkerPool, or -- if no
// pool is configured -- spawns a dedicated ConnectionWorker for it
// directly, per SPEC_FULL.md §4.6. It falls back to closing the
// connection outright if a configured pool's queue is full past its
// contention abort delay (SPEC_FULL.md §4.5). The connection is counted
// the moment Accept succeeds, not only once a pool worker decides to
// promote it.
func (a *Acceptor) dispatch(conn net.Conn) {
	connID := a.server.NextConnID()
	remoteIP := remoteAddrIP(conn)
	_, isSSL := conn.(*tls.Conn)

	a.server.OnConnect()

	if a.pool == nil {
		a.dispatchDedicated(conn, connID, remoteIP, isSSL)
		return
	}

	if !a.pool.Push(conn, connID, remoteIP, isSSL) {
		conn.Close()
		a.server.OnDisconnect()
	}
}

// dispatchDedicated spawns a long-lived ConnectionWorker for conn without
// ever routing its first request through a WorkerPool.
func (a *Acceptor) dispatchDedicated(conn net.Conn, connID int64, remoteIP string, isSSL bool) {
	cw := NewConnectionWorker(conn, a.server, connID, remoteIP, isSSL)
	a.server.addWorker(cw)
	go func() {
		defer a.server.OnDisconnect()
		defer a.server.removeWorker(cw)
		cw.Run()
	}()
}

func remoteAddrIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Shutdown stops accepting new connections, terminates every live
// ConnectionWorker, and waits up to the server's configured drain timeout
// for them to finish before returning. It is safe to call at most once;
// subsequent calls are no-ops.
func (a *Acceptor) Shutdown() {
	if !a.shutdownOnce.CompareAndSwap(false, true) {
		return
	}

	a.state.Store(int32(StateFinished))

	// Closing the listener already unblocks a pending Accept on every
	// platform Go supports, but a self-connect dial is also fired for
	// uniformity with acceptor implementations where Close alone would
	// not -- done first, while the listener is still open, so it can
	// actually land and wake a blocked Accept rather than racing the
	// Close below.
	a.selfConnect()
	if a.listener != nil {
		a.listener.Close()
	}

	for _, cw := range a.server.liveWorkers() {
		cw.Terminate()
	}

	deadline := time.Now().Add(a.server.ShutdownDrainTimeout)
	drained := false
	for time.Now().Before(deadline) {
		if len(a.server.liveWorkers()) == 0 {
			drained = true
			break
		}
		time.Sleep(shutdownPollInterval)
	}
	if !drained && a.server.Logger != nil {
		a.server.Logger.Warn("shutdown drain timeout exceeded", "remaining_workers", len(a.server.liveWorkers()))
	}

	<-a.done
}

// selfConnect dials the acceptor's own listening address and immediately
// closes the connection, to unblock a goroutine parked in Accept even on
// platforms where closing the listener alone would not. Errors are
// ignored: if the dial fails, Close already does the job.
func (a *Acceptor) selfConnect() {
	if a.listener == nil {
		return
	}
	switch addr := a.listener.Addr().(type) {
	case *net.TCPAddr:
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", addr.Port), selfConnectDialTimeout)
		if err == nil {
			conn.Close()
		}
	case *net.UnixAddr:
		conn, err := net.DialTimeout("unix", addr.Name, selfConnectDialTimeout)
		if err == nil {
			conn.Close()
		}
	}
}
