package http

import (
	"testing"

	"github.com/originhttp/origin/test"
)

func TestRequestContextPrepareSetsRemoteIPHeader(t *testing.T) {
	ctx := &RequestContext{}
	ctx.Prepare(1, nil, "GET", "/", "Host: example.com", "", nil, "203.0.113.7", false, false)

	v, ok := HeaderValue(ctx.InHeaders, "RemoteIP")
	test.AssertTrue(t, true, ok)
	test.AssertTrue(t, "203.0.113.7", v)
}

func TestRequestContextPrepareWithoutRemoteIP(t *testing.T) {
	ctx := &RequestContext{}
	ctx.Prepare(1, nil, "GET", "/", "Host: example.com", "", nil, "", false, false)

	_, ok := HeaderValue(ctx.InHeaders, "RemoteIP")
	test.AssertTrue(t, false, ok)
}

func TestRequestContextPrepareAssignsFallbackRequestID(t *testing.T) {
	ctx := &RequestContext{}
	ctx.Prepare(1, nil, "GET", "/", "", "", nil, "", false, true)

	if ctx.RequestID <= 0 {
		t.Fatalf("expected a positive request id, got %d", ctx.RequestID)
	}
}

func TestRequestContextPrepareResetsPriorOutput(t *testing.T) {
	ctx := &RequestContext{
		OutContent:       []byte("stale"),
		OutContentType:   "text/plain",
		OutCustomHeaders: "X-Stale: yes",
		responseWritten:  true,
	}
	ctx.Prepare(2, nil, "GET", "/", "", "", nil, "", false, false)

	test.AssertTrue(t, true, ctx.OutContent == nil)
	test.AssertTrue(t, "", ctx.OutContentType)
	test.AssertTrue(t, "", ctx.OutCustomHeaders)
	test.AssertTrue(t, false, ctx.responseWritten)
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	block := "Content-Type: text/html\r\nX-Request-Id: abc123"
	v, ok := HeaderValue(block, "content-type")
	test.AssertTrue(t, true, ok)
	test.AssertTrue(t, "text/html", v)
}

func TestHeaderValueMissing(t *testing.T) {
	_, ok := HeaderValue("Content-Type: text/html", "X-Missing")
	test.AssertTrue(t, false, ok)
}
