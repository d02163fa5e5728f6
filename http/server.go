package http

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/originhttp/origin/filesystem"
)

// Server holds the configuration and runtime state shared by every
// ConnectionWorker and WorkerPool worker processing its connections. One
// Server is built once at startup and handed to an Acceptor; its fields
// are read concurrently from many goroutines and must not be mutated after
// NewServer returns, with the exception of the worker bookkeeping and
// result counters, which are internally synchronized.
type Server struct {
	Name      string
	PoweredBy string

	Hooks HookTable

	KeepAliveTimeout         time.Duration
	HeaderRetrieveAbortDelay time.Duration
	ContentionAbortDelay     time.Duration
	ShutdownDrainTimeout     time.Duration

	MaxContentLength int64

	TCPPrefix          string
	RemoteIPHeader     string
	RemoteConnIDHeader string
	UnfilteredHeaders  bool

	Compression  *CompressionRegistry
	Filesystem   filesystem.Filesystem
	SendFileHook SendFileHook

	WorkerCount int
	QueueLength int

	// PoolDisabled makes the Acceptor spawn a dedicated ConnectionWorker
	// for every accepted connection instead of routing the first request
	// through a WorkerPool, per SPEC_FULL.md §4.6's "if a pool is
	// configured" branch.
	PoolDisabled bool

	// Logger receives one structured record per error-taxonomy event
	// named in SPEC_FULL.md §7 (transport/parse errors, rejections,
	// timeouts, bind failures, shutdown drain timeouts), each carrying
	// the connection id. Nil disables logging.
	Logger *slog.Logger

	// MetricsRecorder is called once per ReadRequest/ReadBody outcome
	// with the result's label and a delta of 1, mirroring resultCounts
	// as an exportable metric. Nil disables metrics recording. See
	// TelemetryProviders.ResultCounter.
	MetricsRecorder func(result string, delta int64)

	connIDs    *IDAllocator
	requestIDs *IDAllocator

	resultCounts [resultCount]atomic.Int64

	workersMu sync.Mutex
	workers   map[*ConnectionWorker]struct{}

	activeConns atomic.Int64
	totalConns  atomic.Int64
}

// NewServer validates cfg and returns a ready-to-use Server. It does not
// start accepting connections -- see Acceptor.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		Name:                     cfg.Name,
		PoweredBy:                cfg.PoweredBy,
		Hooks:                    cfg.Hooks,
		KeepAliveTimeout:         cfg.KeepAliveTimeout,
		HeaderRetrieveAbortDelay: cfg.HeaderRetrieveAbortDelay,
		ContentionAbortDelay:     cfg.ContentionAbortDelay,
		ShutdownDrainTimeout:     cfg.ShutdownDrainTimeout,
		MaxContentLength:         cfg.MaxContentLength,
		TCPPrefix:                cfg.TCPPrefix,
		RemoteIPHeader:           cfg.RemoteIPHeader,
		RemoteConnIDHeader:       cfg.RemoteConnIDHeader,
		UnfilteredHeaders:        cfg.UnfilteredHeaders,
		Compression:              cfg.Compression,
		Filesystem:               cfg.Filesystem,
		SendFileHook:             cfg.SendFileHook,
		WorkerCount:              cfg.WorkerCount,
		QueueLength:              cfg.QueueLength,
		PoolDisabled:             cfg.PoolDisabled,
		Logger:                   cfg.Logger,
		MetricsRecorder:          cfg.MetricsRecorder,
		connIDs:                  NewConnIDAllocator(),
		requestIDs:               NewRequestIDAllocator(),
		workers:                  make(map[*ConnectionWorker]struct{}),
	}

	if s.Filesystem == nil {
		s.Filesystem = filesystem.NewLocalFilesystem()
	}
	if s.Name == "" {
		s.Name = "origin"
	}

	return s, nil
}

// ServerConfig is the validated input to NewServer. A zero
// KeepAliveTimeout, ContentionAbortDelay or ShutdownDrainTimeout falls back
// to the package default; a zero HeaderRetrieveAbortDelay means no
// header-read deadline, and a zero MaxContentLength means no size limit.
type ServerConfig struct {
	Name      string
	PoweredBy string

	Hooks HookTable

	KeepAliveTimeout         time.Duration
	HeaderRetrieveAbortDelay time.Duration
	ContentionAbortDelay     time.Duration
	ShutdownDrainTimeout     time.Duration

	MaxContentLength int64

	TCPPrefix          string
	RemoteIPHeader     string
	RemoteConnIDHeader string
	UnfilteredHeaders  bool

	Compression  *CompressionRegistry
	Filesystem   filesystem.Filesystem
	SendFileHook SendFileHook

	WorkerCount int
	QueueLength int

	PoolDisabled bool

	Logger          *slog.Logger
	MetricsRecorder func(result string, delta int64)
}

// validate applies SPEC_FULL.md §4.10's configuration bounds and fills in
// defaults for anything left at its zero value.
func (c *ServerConfig) validate() error {
	if c.WorkerCount == 0 {
		c.WorkerCount = 16
	}
	if c.WorkerCount < 1 || c.WorkerCount > 256 {
		return fmt.Errorf("http: worker count %d out of range [1,256]", c.WorkerCount)
	}

	if c.QueueLength == 0 {
		c.QueueLength = DefaultHTTPQueueLength
	}
	if c.QueueLength <= 0 {
		return fmt.Errorf("http: queue length must be positive, got %d", c.QueueLength)
	}

	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if c.KeepAliveTimeout < 0 {
		return fmt.Errorf("http: keep-alive timeout must not be negative")
	}

	if c.ContentionAbortDelay == 0 {
		c.ContentionAbortDelay = DefaultContentionAbortDelay
	}
	if c.ContentionAbortDelay < 0 {
		return fmt.Errorf("http: contention abort delay must not be negative")
	}

	if c.ShutdownDrainTimeout == 0 {
		c.ShutdownDrainTimeout = DefaultShutdownDrainTimeout
	}
	if c.ShutdownDrainTimeout < 0 {
		return fmt.Errorf("http: shutdown drain timeout must not be negative")
	}

	if c.HeaderRetrieveAbortDelay < 0 {
		return fmt.Errorf("http: header retrieve abort delay must not be negative")
	}

	if c.MaxContentLength < 0 {
		return fmt.Errorf("http: max content length must not be negative")
	}

	return nil
}

// recordResult increments the counter for one parse/handling outcome,
// feeds the optional metrics recorder, and for the error-taxonomy outcomes
// named in SPEC_FULL.md §7 (error, exception, oversized_payload, rejected,
// timeout), logs one structured record carrying the connection id. Called
// from the hot path on every ReadRequest/ReadBody return, so the counter
// increment itself must stay lock-free; logging only runs when a Logger
// is configured.
func (s *Server) recordResult(r Result, connID int64) {
	if r < resultCount {
		s.resultCounts[r].Add(1)
	}
	if s.MetricsRecorder != nil {
		s.MetricsRecorder(r.String(), 1)
	}
	s.logResult(r, connID)
}

func (s *Server) logResult(r Result, connID int64) {
	if s.Logger == nil {
		return
	}
	switch r {
	case ResultError:
		s.Logger.Warn("connection closed on transport or parse error", "conn_id", connID, "result", r.String())
	case ResultException:
		s.Logger.Error("parse exception", "conn_id", connID, "result", r.String())
	case ResultOversizedPayload, ResultRejected:
		s.Logger.Info("request rejected before body read", "conn_id", connID, "result", r.String())
	case ResultTimeout:
		s.Logger.Warn("connection timed out", "conn_id", connID, "result", r.String())
	}
}

// NextConnID allocates the next connection identifier from this server's
// own 63-bit allocator.
func (s *Server) NextConnID() int64 { return s.connIDs.Next() }

// OnConnect records one accepted connection, per SPEC_FULL.md §4.6's
// Accept step. Called once per accepted socket, regardless of whether it
// ends up served inline by a pool worker or promoted to a dedicated
// ConnectionWorker.
func (s *Server) OnConnect() {
	s.activeConns.Add(1)
	s.totalConns.Add(1)
}

// OnDisconnect records that a previously counted connection is no longer
// this server's responsibility, either because it closed or because
// ownership was handed off via ConnectionWorker.Detach.
func (s *Server) OnDisconnect() {
	s.activeConns.Add(-1)
}

func (s *Server) addWorker(cw *ConnectionWorker) {
	s.workersMu.Lock()
	s.workers[cw] = struct{}{}
	s.workersMu.Unlock()
}

func (s *Server) removeWorker(cw *ConnectionWorker) {
	s.workersMu.Lock()
	delete(s.workers, cw)
	s.workersMu.Unlock()
}

// liveWorkers returns a snapshot of every currently tracked
// ConnectionWorker, for the Acceptor's shutdown-drain loop.
func (s *Server) liveWorkers() []*ConnectionWorker {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	out := make([]*ConnectionWorker, 0, len(s.workers))
	for cw := range s.workers {
		out = append(out, cw)
	}
	return out
}

// Stats is a point-in-time snapshot of server-wide counters, suitable for
// logging or exporting as telemetry gauges.
type Stats struct {
	ActiveConnections int64
	TotalConnections  int64
	Results           map[string]int64
}

// Stats returns a snapshot of the server's counters.
func (s *Server) Stats() Stats {
	results := make(map[string]int64, resultCount)
	for r := Result(0); r < resultCount; r++ {
		if n := s.resultCounts[r].Load(); n != 0 {
			results[r.String()] = n
		}
	}
	return Stats{
		ActiveConnections: s.activeConns.Load(),
		TotalConnections:  s.totalConns.Load(),
		Results:           results,
	}
}
