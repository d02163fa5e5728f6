package http

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"
)

// ConnectionWorker owns one accepted socket for its entire lifetime: it
// reads requests, runs the HandlerPipeline, writes responses, and loops
// while the connection stays keep-alive. Grounded on the reference
// repo's ServeConn keep-alive loop (http/server.go), generalized with the
// size/time budgets and the owned-connection hand-off this spec requires.
type ConnectionWorker struct {
	conn     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	server   *Server
	connID   int64
	remoteIP string
	isSSL    bool

	state     atomic.Int32
	terminate atomic.Bool
}

// NewConnectionWorker binds a worker to an accepted socket. remoteIP is
// derived from conn.RemoteAddr() by the Acceptor before construction.
func NewConnectionWorker(conn net.Conn, server *Server, connID int64, remoteIP string, isSSL bool) *ConnectionWorker {
	cw := &ConnectionWorker{
		conn:     conn,
		br:       bufio.NewReaderSize(conn, DefaultReadBufferSize),
		bw:       bufio.NewWriterSize(conn, DefaultWriteBufferSize),
		server:   server,
		connID:   connID,
		remoteIP: remoteIP,
		isSSL:    isSSL,
	}
	cw.state.Store(int32(StateReadingHeaders))
	return cw
}

// newConnectionWorkerFromBuffers binds a worker to buffers a WorkerPool
// worker already created while parsing the connection's first request,
// avoiding a second bufio allocation on promotion.
func newConnectionWorkerFromBuffers(conn net.Conn, br *bufio.Reader, bw *bufio.Writer, server *Server, connID int64, remoteIP string, isSSL bool) *ConnectionWorker {
	cw := &ConnectionWorker{
		conn:     conn,
		br:       br,
		bw:       bw,
		server:   server,
		connID:   connID,
		remoteIP: remoteIP,
		isSSL:    isSSL,
	}
	cw.state.Store(int32(StateReadingHeaders))
	return cw
}

// State returns the worker's current phase.
func (cw *ConnectionWorker) State() ConnState { return ConnState(cw.state.Load()) }

// ConnID returns the connection identifier this worker was assigned.
func (cw *ConnectionWorker) ConnID() int64 { return cw.connID }

// Terminate asks the worker to stop at its next suspension point and
// forces any in-progress Peek/Read to unblock immediately. Safe to call
// from the Acceptor's shutdown path while Run executes on another
// goroutine.
func (cw *ConnectionWorker) Terminate() {
	cw.terminate.Store(true)
	cw.conn.SetDeadline(time.Now())
}

// Detach transfers ownership of the underlying connection to the caller
// (typically a Request hook implementing a protocol upgrade) and puts the
// worker into the terminal Owned state: Run will return without closing
// the socket. The returned net.Conn and buffered reader let the caller
// pick up exactly where the HTTP layer left off, including any bytes
// already buffered past the end of the current request.
func (cw *ConnectionWorker) Detach() (net.Conn, *bufio.Reader) {
	cw.state.Store(int32(StateOwned))
	cw.conn.SetDeadline(time.Time{})
	return cw.conn, cw.br
}

// Run drives the per-connection state machine of SPEC_FULL.md §4.4 until
// the connection closes, times out, is terminated, or is detached. It
// always closes the socket on return unless the final state is Owned.
func (cw *ConnectionWorker) Run() {
	defer cw.closeUnlessOwned()
	cw.runFrom(nil)
}

// RunFromPreparsed resumes the state machine for a connection whose first
// request's headers were already parsed by a WorkerPool worker deciding
// to promote it (SPEC_FULL.md §4.5). req's body has not been read yet.
func (cw *ConnectionWorker) RunFromPreparsed(req *ParsedRequest) {
	defer cw.closeUnlessOwned()
	cw.runFrom(req)
}

func (cw *ConnectionWorker) closeUnlessOwned() {
	if cw.State() != StateOwned {
		cw.state.Store(int32(StateClosing))
		cw.conn.Close()
	}
}

func (cw *ConnectionWorker) runFrom(preparsed *ParsedRequest) {
	first := true
	for {
		var req *ParsedRequest
		var result Result

		if first && preparsed != nil {
			parser := NewRequestParser(cw.br, cw.bw, cw.server, cw.connID, cw.remoteIP, cw.isSSL)
			r, err := parser.ReadBody(preparsed)
			if err != nil {
				cw.server.recordResult(ResultError, cw.connID)
				return
			}
			result, req = r, preparsed
		} else {
			if !cw.awaitNextRequest() {
				return
			}

			cw.state.Store(int32(StateReadingHeaders))
			var hdrDeadline time.Time
			if cw.server.HeaderRetrieveAbortDelay > 0 {
				hdrDeadline = time.Now().Add(cw.server.HeaderRetrieveAbortDelay)
			}
			parser := NewRequestParser(cw.br, cw.bw, cw.server, cw.connID, cw.remoteIP, cw.isSSL)
			r, parsed, err := parser.ReadRequest(true, hdrDeadline)
			if err != nil && r == ResultError {
				cw.server.recordResult(ResultError, cw.connID)
				return
			}
			result, req = r, parsed
		}
		first = false

		cw.server.recordResult(result, cw.connID)

		switch result {
		case ResultHeaderReceived, ResultBodyReceived:
			keepAlive := req.KeepAlive
			cw.handleRequest(req, keepAlive)
			if cw.State() == StateOwned {
				cw.server.recordResult(ResultOwned, cw.connID)
				return
			}
			if !keepAlive {
				return
			}
			cw.state.Store(int32(StateKeepAliveWait))
		default:
			return
		}
	}
}

// awaitNextRequest implements the peek-with-50ms-timeout / spin-guard
// loop of SPEC_FULL.md §4.4. It returns false if the connection should be
// closed (keep-alive timeout, terminate signal, or a real socket error).
func (cw *ConnectionWorker) awaitNextRequest() bool {
	deadline := time.Now().Add(cw.server.KeepAliveTimeout)
	lastPeek := time.Now()

	for {
		if cw.terminate.Load() {
			return false
		}

		cw.conn.SetReadDeadline(time.Now().Add(PeekInterval))
		_, err := cw.br.Peek(1)
		cw.conn.SetReadDeadline(time.Time{})

		if err == nil {
			return true
		}
		if !isTimeoutError(err) {
			return false
		}

		if time.Now().After(deadline) {
			return false
		}
		if time.Since(lastPeek) < SpinGuardWindow {
			time.Sleep(SpinGuardSleep)
		}
		lastPeek = time.Now()
	}
}

func (cw *ConnectionWorker) handleRequest(req *ParsedRequest, keepAlive bool) {
	cw.state.Store(int32(StateHandling))

	ctx := &RequestContext{}
	ctx.Prepare(cw.connID, cw, req.Method, req.URL, req.Headers, req.ContentType, req.Body, req.RemoteIP, cw.isSSL, req.HeaderLineCount == 0)

	rw := NewResponseWriter(cw.bw, cw.server, keepAlive)
	pipeline := &HandlerPipeline{Hooks: cw.server.Hooks, Writer: rw}

	cw.state.Store(int32(StateWriting))
	pipeline.Run(ctx)
}

type timeoutError interface{ Timeout() bool }

func isTimeoutError(err error) bool {
	te, ok := err.(timeoutError)
	return ok && te.Timeout()
}
