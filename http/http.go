// Package http implements an embeddable HTTP/1.1 origin server: a TCP
// acceptor, a bounded worker pool, a per-connection state machine, and a
// request/response pipeline with pluggable lifecycle hooks.
//
// It does not implement TLS termination, routing, or authentication --
// those are expected to live in front of or around the server. A caller
// wires up to five hook functions on Server and the core takes care of
// parsing, keep-alive, compression negotiation, and static file sends.
package http

import "time"

const (
	// DefaultReadBufferSize is the size of the buffered reader placed in
	// front of every accepted connection.
	DefaultReadBufferSize = 4096

	// DefaultWriteBufferSize is the size of the buffered writer used to
	// compose responses.
	DefaultWriteBufferSize = 4096

	// PromoteBodyThreshold is the declared Content-Length above which a
	// connection handled by the pool is promoted to a dedicated worker
	// instead of having its body read inline by the pool worker.
	PromoteBodyThreshold = 16 * 1024 * 1024 // 16MB

	// PeekInterval is how long a ConnectionWorker blocks waiting for the
	// next request's first byte before re-checking the keep-alive deadline.
	PeekInterval = 50 * time.Millisecond

	// SpinGuardWindow and SpinGuardSleep implement the spin guard: if two
	// consecutive empty peeks happen within SpinGuardWindow of each other,
	// the worker sleeps SpinGuardSleep to avoid busy-looping on spurious
	// wakeups.
	SpinGuardWindow = 40 * time.Millisecond
	SpinGuardSleep  = 1 * time.Millisecond

	// DefaultKeepAliveTimeout is what NewServer substitutes for a zero
	// KeepAliveTimeout. A Server whose KeepAliveTimeout is 0 (one built
	// without NewServer) never negotiates keep-alive, since RequestParser
	// requires a positive timeout.
	DefaultKeepAliveTimeout = 10 * time.Second

	// DefaultContentionAbortDelay is how long WorkerPool.Push blocks on a
	// full queue before giving up and telling the caller to drop the
	// connection.
	DefaultContentionAbortDelay = 5 * time.Second

	// DefaultShutdownDrainTimeout bounds how long Shutdown waits for
	// in-flight ConnectionWorkers to finish before tearing down anyway.
	DefaultShutdownDrainTimeout = 20 * time.Second
	shutdownPollInterval        = 100 * time.Millisecond

	// selfConnectDialTimeout bounds the Shutdown self-connect dial used to
	// unblock a pending Accept.
	selfConnectDialTimeout = 1 * time.Second

	// DefaultHTTPQueueLength is the default bounded-queue capacity for the
	// WorkerPool.
	DefaultHTTPQueueLength = 1000

	// ContentTypeStaticFile is the sentinel OutContentType that tells the
	// ResponseWriter to treat OutContent as a file path to stream.
	ContentTypeStaticFile = "!STATICFILE"

	// ContentTypeNoResponse is the sentinel OutContentType that tells the
	// ResponseWriter the handler already responded out of band.
	ContentTypeNoResponse = "!NORESPONSE"
)

// AuthStatus enumerates the authentication outcome carried through a
// RequestContext for an external authenticator to interpret. The core
// never performs authentication itself.
type AuthStatus uint8

const (
	AuthNone AuthStatus = iota
	AuthFailed
	AuthBasic
	AuthDigest
	AuthNTLM
	AuthNegotiate
	AuthKerberos
)

// ExecuteState is the lifecycle state of an Acceptor.
type ExecuteState uint8

const (
	StateNotStarted ExecuteState = iota
	StateBinding
	StateRunning
	StateFinished
)

// ConnState is the per-connection state machine's current phase.
type ConnState uint8

const (
	StateReadingHeaders ConnState = iota
	StateAwaitingBody
	StateHandling
	StateWriting
	StateKeepAliveWait
	StateClosing
	StateOwned
)

// Result is the typed outcome of RequestParser.ReadRequest, and doubles as
// the label under which the outcome is counted in Stats and exported as an
// OpenTelemetry metric attribute.
type Result uint8

const (
	ResultError Result = iota
	ResultException
	ResultOversizedPayload
	ResultRejected
	ResultTimeout
	ResultHeaderReceived
	ResultBodyReceived
	ResultOwned

	resultCount // sentinel, must stay last
)

func (r Result) String() string {
	switch r {
	case ResultError:
		return "error"
	case ResultException:
		return "exception"
	case ResultOversizedPayload:
		return "oversized_payload"
	case ResultRejected:
		return "rejected"
	case ResultTimeout:
		return "timeout"
	case ResultHeaderReceived:
		return "header_received"
	case ResultBodyReceived:
		return "body_received"
	case ResultOwned:
		return "owned"
	default:
		return "unknown"
	}
}

// Handler is invoked for the Request hook. It must be safe to call
// concurrently from multiple ConnectionWorkers, one RequestContext per
// call.
type Handler func(ctx *RequestContext) int

// BeforeBodyHook runs before the request body (if any) is read, and can
// reject a request early based on headers alone.
type BeforeBodyHook func(info BeforeBodyInfo) int

// BeforeBodyInfo is the header-only view of a request available to
// BeforeBodyHook, before a RequestContext exists.
type BeforeBodyInfo struct {
	URL           string
	Method        string
	Headers       string
	ContentType   string
	RemoteIP      string
	ContentLength int64
	IsSSL         bool
}

// HookTable is the explicit table of the five lifecycle hooks a Server
// dispatches through. A nil entry means "skip"; this models the source's
// dynamic method-pointer dispatch as a flat table of function references
// instead of a polymorphic handler hierarchy.
type HookTable struct {
	BeforeBody    BeforeBodyHook
	BeforeRequest Handler
	Request       Handler
	AfterRequest  Handler
	AfterResponse func(ctx *RequestContext, code int)
}
