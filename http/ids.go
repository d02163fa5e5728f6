package http

import "sync/atomic"

// IDAllocator hands out monotonically increasing, strictly positive
// identifiers that wrap back to 1 shortly before they would overflow the
// configured bound. It is injected per Server rather than kept as a package
// global so that tests can construct a Server with a fresh, deterministic
// allocator instead of sharing ambient process-wide state.
//
// wrapAt is the value at which the counter resets; the source wraps
// connection ids and request ids at MAXINT-2048 of their respective
// integer widths to stay clear of the overflow boundary.
type IDAllocator struct {
	counter atomic.Int64
	wrapAt  int64
}

// NewIDAllocator returns an allocator that wraps at wrapAt. wrapAt must be
// positive.
func NewIDAllocator(wrapAt int64) *IDAllocator {
	return &IDAllocator{wrapAt: wrapAt}
}

const (
	// maxConnID is MAXINT63-2048.
	maxConnID = (1<<63 - 1) - 2048
	// maxReqID is MAXINT31-2048.
	maxReqID = (1<<31 - 1) - 2048
)

// NewConnIDAllocator returns the 63-bit allocator used for connection ids.
func NewConnIDAllocator() *IDAllocator { return NewIDAllocator(maxConnID) }

// NewRequestIDAllocator returns the 31-bit allocator used for request ids.
func NewRequestIDAllocator() *IDAllocator { return NewIDAllocator(maxReqID) }

// Next returns the next id in sequence, atomically, wrapping back to 1
// once the counter would reach wrapAt. Ids are always strictly positive.
func (a *IDAllocator) Next() int64 {
	for {
		cur := a.counter.Load()
		next := cur + 1
		if next >= a.wrapAt {
			next = 1
		}
		if a.counter.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// fallbackRequestIDs is the process-wide allocator used for requests whose
// RequestContext has no owning Server -- e.g. constructed directly by a
// unit test. It is intentionally the only ambient global in this package;
// every Server gets its own allocator instead of sharing this one.
var fallbackRequestIDs = NewRequestIDAllocator()
