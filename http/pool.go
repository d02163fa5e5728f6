package http

import (
	"bufio"
	"net"
	"runtime"
	"sync/atomic"
	"time"
)

// WorkerPool processes the first request of newly-accepted connections
// with a fixed number of goroutines, promoting keep-alive or large-body
// connections to a dedicated ConnectionWorker instead of tying up a pool
// slot for the connection's lifetime. The bounded queue is a lock-free
// ring buffer, adapted from the reference repo's http/worker.go, which
// used the same structure to hand RequestCtx values between an acceptor
// and a fixed goroutine pool.
type WorkerPool struct {
	server *Server
	queue  *ringBuffer
	size   int

	contentionAbortDelay time.Duration

	idle atomic.Int32
}

// NewWorkerPool constructs a pool of size workers (NewServer's config
// validation rejects counts outside [1,256]; this constructor does not
// check) backed by a queue whose capacity is queueLength rounded up to the
// next power of two.
func NewWorkerPool(server *Server, size, queueLength int, contentionAbortDelay time.Duration) *WorkerPool {
	wp := &WorkerPool{
		server:               server,
		queue:                newRingBuffer(queueLength),
		size:                 size,
		contentionAbortDelay: contentionAbortDelay,
	}
	wp.idle.Store(int32(size))
	for i := 0; i < size; i++ {
		go wp.loop()
	}
	return wp
}

// pendingConn is one accepted-but-not-yet-processed connection queued for
// a pool worker.
type pendingConn struct {
	conn     net.Conn
	connID   int64
	remoteIP string
	isSSL    bool
}

// Push enqueues conn for pool processing. If the queue is full and no
// worker frees up within the pool's contention-abort delay, it returns
// false and the caller (the Acceptor) must close the connection itself.
func (wp *WorkerPool) Push(conn net.Conn, connID int64, remoteIP string, isSSL bool) bool {
	item := pendingConn{conn: conn, connID: connID, remoteIP: remoteIP, isSSL: isSSL}

	if wp.queue.enqueue(item) == nil {
		return true
	}

	deadline := time.Now().Add(wp.contentionAbortDelay)
	for time.Now().Before(deadline) {
		if wp.queue.enqueue(item) == nil {
			return true
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	return false
}

func (wp *WorkerPool) loop() {
	for item, ok := wp.queue.dequeueBlocking(); ok; item, ok = wp.queue.dequeueBlocking() {
		wp.idle.Add(-1)
		wp.process(item)
		wp.idle.Add(1)
	}
}

// process handles one connection's first request per SPEC_FULL.md §4.5's
// routing table.
func (wp *WorkerPool) process(item pendingConn) {
	br := bufio.NewReaderSize(item.conn, DefaultReadBufferSize)
	bw := bufio.NewWriterSize(item.conn, DefaultWriteBufferSize)
	parser := NewRequestParser(br, bw, wp.server, item.connID, item.remoteIP, item.isSSL)

	var hdrDeadline time.Time
	if wp.server.HeaderRetrieveAbortDelay > 0 {
		hdrDeadline = time.Now().Add(wp.server.HeaderRetrieveAbortDelay)
	}

	result, req, err := parser.ReadRequest(false, hdrDeadline)
	wp.server.recordResult(result, item.connID)
	if err != nil {
		wp.closeConn(item.conn)
		return
	}

	switch result {
	case ResultHeaderReceived:
		if req.KeepAlive || req.Upgrade || req.ContentLength > PromoteBodyThreshold {
			wp.promote(item, br, bw, req)
			return
		}
		wp.serveInline(item, br, bw, parser, req)
	default:
		wp.closeConn(item.conn)
	}
}

// closeConn closes conn and records that the accepted connection it was
// counted under in Acceptor.dispatch is no longer live.
func (wp *WorkerPool) closeConn(conn net.Conn) {
	conn.Close()
	wp.server.OnDisconnect()
}

// promote spawns a dedicated ConnectionWorker that takes ownership of the
// socket and the already-parsed first request's headers.
func (wp *WorkerPool) promote(item pendingConn, br *bufio.Reader, bw *bufio.Writer, req *ParsedRequest) {
	cw := newConnectionWorkerFromBuffers(item.conn, br, bw, wp.server, item.connID, item.remoteIP, item.isSSL)
	wp.server.addWorker(cw)
	go func() {
		defer wp.server.OnDisconnect()
		defer wp.server.removeWorker(cw)
		cw.RunFromPreparsed(req)
	}()
}

// serveInline reads the body and runs the pipeline without leaving the
// pool worker, then closes the connection -- this path never keeps the
// connection alive across requests, since keep-alive connections are
// always promoted above.
func (wp *WorkerPool) serveInline(item pendingConn, br *bufio.Reader, bw *bufio.Writer, parser *RequestParser, req *ParsedRequest) {
	bodyResult, err := parser.ReadBody(req)
	wp.server.recordResult(bodyResult, item.connID)
	if err != nil {
		wp.closeConn(item.conn)
		return
	}

	ctx := &RequestContext{}
	ctx.Prepare(item.connID, nil, req.Method, req.URL, req.Headers, req.ContentType, req.Body, req.RemoteIP, item.isSSL, req.HeaderLineCount == 0)
	ctx.RequestID = wp.server.requestIDs.Next()

	rw := NewResponseWriter(bw, wp.server, false)
	pipeline := &HandlerPipeline{Hooks: wp.server.Hooks, Writer: rw}
	pipeline.Run(ctx)

	wp.closeConn(item.conn)
}

// IdleWorkers reports how many of the pool's fixed workers are currently
// waiting for a connection, for diagnostics/Stats.
func (wp *WorkerPool) IdleWorkers() int { return int(wp.idle.Load()) }

// ---- lock-free bounded ring buffer ----
//
// Adapted from the reference repo's http/worker.go RingBuffer[T]: a
// Lamport-style single-producer/multi-consumer queue using a per-slot
// sequence number instead of a lock. The reference implementation used a
// compile-time-sized array of *RequestCtx; this version is sized at
// construction time to match the configurable HTTPQueueLength and holds
// pendingConn values instead.

var errQueueFull = &queueError{"http: worker pool queue is full"}

type queueError struct{ msg string }

func (e *queueError) Error() string { return e.msg }

type ringSlot struct {
	sequence atomic.Uint64
	value    pendingConn
}

type ringBuffer struct {
	buffer []ringSlot
	mask   uint64
	enqPos atomic.Uint64
	deqPos atomic.Uint64
}

func newRingBuffer(capacity int) *ringBuffer {
	size := nextPowerOfTwo(capacity)
	rb := &ringBuffer{buffer: make([]ringSlot, size), mask: uint64(size - 1)}
	for i := range rb.buffer {
		rb.buffer[i].sequence.Store(uint64(i))
	}
	return rb
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (q *ringBuffer) enqueue(val pendingConn) error {
	for {
		pos := q.enqPos.Load()
		slot := &q.buffer[pos&q.mask]

		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos)

		switch {
		case delta == 0:
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				slot.value = val
				slot.sequence.Store(pos + 1)
				return nil
			}
		case delta < 0:
			return errQueueFull
		default:
			runtime.Gosched()
		}
	}
}

func (q *ringBuffer) dequeue() (pendingConn, bool) {
	for {
		pos := q.deqPos.Load()
		slot := &q.buffer[pos&q.mask]

		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos+1)

		switch {
		case delta == 0:
			if q.deqPos.CompareAndSwap(pos, pos+1) {
				val := slot.value
				slot.sequence.Store(pos + q.mask + 1)
				return val, true
			}
		case delta < 0:
			return pendingConn{}, false
		default:
			runtime.Gosched()
		}
	}
}

// dequeueBlocking spins with a short sleep until an item is available.
// Pool workers are few and fixed in number, so a light spin/sleep is
// preferable to the bookkeeping of a condition variable for this queue's
// expected depth.
func (q *ringBuffer) dequeueBlocking() (pendingConn, bool) {
	for {
		if v, ok := q.dequeue(); ok {
			return v, true
		}
		time.Sleep(time.Millisecond)
	}
}
