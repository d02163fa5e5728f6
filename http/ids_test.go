package http

import (
	"testing"

	"github.com/originhttp/origin/test"
)

func TestIDAllocatorMonotonic(t *testing.T) {
	a := NewIDAllocator(100)
	first := a.Next()
	second := a.Next()

	test.AssertTrue(t, int64(1), first)
	test.AssertTrue(t, int64(2), second)
}

func TestIDAllocatorWraps(t *testing.T) {
	a := NewIDAllocator(3)
	a.Next() // 1
	a.Next() // 2
	wrapped := a.Next()

	test.AssertTrue(t, int64(1), wrapped)
}

func TestIDAllocatorAlwaysPositive(t *testing.T) {
	a := NewConnIDAllocator()
	id := a.Next()
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
}

func TestRequestIDAllocatorDistinctFromFallback(t *testing.T) {
	a := fallbackRequestIDs
	b := NewRequestIDAllocator()

	// A newly constructed allocator must not share state with the
	// process-wide fallback.
	a.Next()
	a.Next()
	first := b.Next()
	test.AssertTrue(t, int64(1), first)
}
