package http

import (
	"bufio"
	"fmt"
	"html"
	"mime"
	"path/filepath"
	"strings"

	"github.com/originhttp/origin/filesystem"
)

// ResponseWriter composes and flushes one complete HTTP response. Write is
// the only entry point; it is always called with exclusive access to the
// connection's bufio.Writer, so nothing it does can interleave with
// another request's response on the same connection.
type ResponseWriter struct {
	bw        *bufio.Writer
	server    *Server
	fs        filesystem.Filesystem
	sendFile  SendFileHook
	keepAlive bool
	tcpPrefix string
}

// NewResponseWriter binds a writer to a connection's buffered writer and
// the server-wide configuration it composes responses from.
func NewResponseWriter(bw *bufio.Writer, server *Server, keepAlive bool) *ResponseWriter {
	return &ResponseWriter{
		bw:        bw,
		server:    server,
		fs:        server.Filesystem,
		sendFile:  server.SendFileHook,
		keepAlive: keepAlive,
		tcpPrefix: server.TCPPrefix,
	}
}

// Write implements SPEC_FULL.md §4.2, steps 1-10, in order.
func (w *ResponseWriter) Write(ctx *RequestContext, statusCode int, errorDetail string) error {
	// 1. Static-file sentinel.
	if ctx.OutContentType == ContentTypeStaticFile {
		w.resolveStaticFile(ctx, &statusCode)
	}

	// 2. No-response sentinel.
	if ctx.OutContentType == ContentTypeNoResponse {
		ctx.OutContentType = ""
	}

	// 3. Status floor.
	if statusCode < 200 || ctx.rawHeadersEmpty {
		statusCode = int(StatusNotFound)
	}

	// 4. Error page.
	if errorDetail != "" {
		reason := StatusText(statusCode)
		ctx.OutContent = []byte(fmt.Sprintf(
			"<h1>%s Server Error %d</h1><p>%s %d</p><pre>%s</pre><hr><address>%s</address>",
			w.server.Name, statusCode, reason, statusCode, html.EscapeString(errorDetail), w.server.Name,
		))
		ctx.OutContentType = "text/html; charset=utf-8"
		ctx.OutCustomHeaders = ""
	}

	// 5. Status line.
	proto := "HTTP/1.0"
	if w.keepAlive {
		proto = "HTTP/1.1"
	}
	if w.tcpPrefix != "" {
		fmt.Fprintf(w.bw, "%s\r\n", w.tcpPrefix)
	}
	fmt.Fprintf(w.bw, "%s %d %s\r\n", proto, statusCode, StatusText(statusCode))

	// 6. Custom headers.
	suppressCompression := false
	for _, line := range strings.Split(ctx.OutCustomHeaders, "\r\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(w.bw, "%s\r\n", line)
		if strings.HasPrefix(strings.ToLower(line), "content-encoding:") {
			suppressCompression = true
		}
	}

	// 7. Server headers.
	if w.server.PoweredBy != "" {
		fmt.Fprintf(w.bw, "X-Powered-By: %s\r\n", w.server.PoweredBy)
	}
	fmt.Fprintf(w.bw, "Server: %s\r\n", w.server.Name)

	// 8. Body + encoding.
	body := ctx.OutContent
	if !suppressCompression && w.server.Compression != nil {
		acceptEncoding, _ := HeaderValue(ctx.InHeaders, "Accept-Encoding")
		if name, codec, ok := w.server.Compression.Select(acceptEncoding, len(body)); ok {
			encoded, err := codec(body)
			if err == nil {
				body = encoded
				fmt.Fprintf(w.bw, "Content-Encoding: %s\r\n", name)
			}
		}
	}
	fmt.Fprintf(w.bw, "Content-Length: %d\r\n", len(body))
	if ctx.OutContentType != "" {
		fmt.Fprintf(w.bw, "Content-Type: %s\r\n", ctx.OutContentType)
	}

	// 9. Keep-alive.
	if w.keepAlive {
		if w.server.Compression != nil && w.server.Compression.AdvertiseFragment() != "" {
			fmt.Fprintf(w.bw, "Accept-Encoding: %s\r\n", w.server.Compression.AdvertiseFragment())
		}
		fmt.Fprintf(w.bw, "Connection: Keep-Alive\r\n\r\n")
	} else {
		fmt.Fprintf(w.bw, "\r\n")
	}

	// 10. Body flush.
	if _, err := w.bw.Write(body); err != nil {
		return err
	}
	return w.bw.Flush()
}

// resolveStaticFile implements step 1 of Write: OutContent is a file path,
// read in full unless a SendFileHook takes over. On success, OutContentType
// is set from an explicit Content-Type custom header if the handler or
// send-file hook supplied one, else guessed from the path's extension --
// it must never be left as the static-file sentinel, which would otherwise
// leak onto the wire as a literal Content-Type value.
func (w *ResponseWriter) resolveStaticFile(ctx *RequestContext, statusCode *int) {
	path := string(ctx.OutContent)

	if w.sendFile != nil && w.sendFile.TrySendFile(ctx, path) {
		ctx.OutContentType = resolveContentType(ctx.OutCustomHeaders, path)
		return
	}

	content, err := w.fs.ReadFile(path)
	if err != nil {
		*statusCode = int(StatusNotFound)
		ctx.OutContent = []byte(fmt.Sprintf("<html><body><h1>404 Not Found</h1><p>%s</p></body></html>", html.EscapeString(path)))
		ctx.OutContentType = "text/html; charset=utf-8"
		return
	}

	ctx.OutContent = content
	ctx.OutContentType = resolveContentType(ctx.OutCustomHeaders, path)
}

func resolveContentType(customHeaders, path string) string {
	if ct, ok := HeaderValue(customHeaders, "Content-Type"); ok {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

