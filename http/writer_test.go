package http

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/originhttp/origin/filesystem"
	"github.com/originhttp/origin/test"
)

func newWriterServer() *Server {
	compression := NewCompressionRegistry()
	compression.RegisterDefaults()
	return &Server{
		Name:        "origin",
		PoweredBy:   "origin-http",
		Filesystem:  filesystem.NewLocalFilesystem(),
		Compression: compression,
	}
}

func TestResponseWriterBasicResponse(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{OutContent: []byte("hi"), OutContentType: "text/plain"}
	if err := rw.Write(ctx, int(StatusOK), ""); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	test.AssertTrue(t, true, strings.HasPrefix(out, "HTTP/1.0 200 OK\r\n"))
	test.AssertTrue(t, true, strings.Contains(out, "Server: origin"))
	test.AssertTrue(t, true, strings.Contains(out, "X-Powered-By: origin-http"))
	test.AssertTrue(t, true, strings.Contains(out, "Content-Type: text/plain"))
	test.AssertTrue(t, true, strings.HasSuffix(out, "hi"))
}

func TestResponseWriterStatusFloorOnEmptyHeaders(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{rawHeadersEmpty: true}
	rw.Write(ctx, int(StatusOK), "")

	test.AssertTrue(t, true, strings.Contains(buf.String(), "404 Not Found"))
}

func TestResponseWriterStatusFloorBelow200(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{}
	rw.Write(ctx, 0, "")

	test.AssertTrue(t, true, strings.Contains(buf.String(), "404 Not Found"))
}

func TestResponseWriterNoResponseSentinelClearsContentType(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{OutContentType: ContentTypeNoResponse, OutContent: []byte("body")}
	rw.Write(ctx, int(StatusOK), "")

	test.AssertTrue(t, false, strings.Contains(buf.String(), ContentTypeNoResponse))
}

func TestResponseWriterErrorDetailBuildsHTMLPage(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{}
	rw.Write(ctx, int(StatusInternalServerError), "nil pointer")

	out := buf.String()
	test.AssertTrue(t, true, strings.Contains(out, "500"))
	test.AssertTrue(t, true, strings.Contains(out, "nil pointer"))
	test.AssertTrue(t, true, strings.Contains(out, "text/html"))
}

func TestResponseWriterKeepAliveHeaders(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), true)

	ctx := &RequestContext{OutContent: []byte("ok")}
	rw.Write(ctx, int(StatusOK), "")

	out := buf.String()
	test.AssertTrue(t, true, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	test.AssertTrue(t, true, strings.Contains(out, "Connection: Keep-Alive"))
	test.AssertTrue(t, true, strings.Contains(out, "Accept-Encoding: gzip,deflate"))
}

func TestResponseWriterCompressesLargeBody(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	body := strings.Repeat("a", 2048)
	ctx := &RequestContext{
		InHeaders:  "Accept-Encoding: gzip",
		OutContent: []byte(body),
	}
	rw.Write(ctx, int(StatusOK), "")

	out := buf.String()
	test.AssertTrue(t, true, strings.Contains(out, "Content-Encoding: gzip"))
}

func TestResponseWriterCustomHeaderSuppressesCompression(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	body := strings.Repeat("a", 2048)
	ctx := &RequestContext{
		InHeaders:        "Accept-Encoding: gzip",
		OutContent:       []byte(body),
		OutCustomHeaders: "Content-Encoding: identity",
	}
	rw.Write(ctx, int(StatusOK), "")

	out := buf.String()
	occurrences := strings.Count(out, "Content-Encoding:")
	test.AssertTrue(t, 1, occurrences)
	test.AssertTrue(t, true, strings.Contains(out, "Content-Encoding: identity"))
}

func TestResponseWriterStaticFileSentinel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{OutContentType: ContentTypeStaticFile, OutContent: []byte(path)}
	rw.Write(ctx, int(StatusOK), "")

	out := buf.String()
	test.AssertTrue(t, true, strings.Contains(out, "<h1>hi</h1>"))
}

func TestResponseWriterStaticFileMissing(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	rw := NewResponseWriter(bw, newWriterServer(), false)

	ctx := &RequestContext{OutContentType: ContentTypeStaticFile, OutContent: []byte("/does/not/exist")}
	rw.Write(ctx, int(StatusOK), "")

	test.AssertTrue(t, true, strings.Contains(buf.String(), "404"))
}

func TestResponseWriterStaticFileViaSendFileHook(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	server := newWriterServer()
	server.SendFileHook = &PrefixSendFileHook{Prefixes: []string{"/protected"}}
	rw := NewResponseWriter(bw, server, false)

	ctx := &RequestContext{OutContentType: ContentTypeStaticFile, OutContent: []byte("/protected/report.pdf")}
	rw.Write(ctx, int(StatusOK), "")

	out := buf.String()
	test.AssertTrue(t, true, strings.Contains(out, "X-Accel-Redirect: /report.pdf"))
}
