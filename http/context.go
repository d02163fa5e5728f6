package http

import "strings"

// RequestContext carries one request's inputs and outputs between the
// four lifecycle hooks that run after parsing (BeforeBody runs earlier and
// sees a BeforeBodyInfo instead). It is created once a request's headers
// and body have been read and is discarded after AfterResponse returns; a
// connection under keep-alive gets a fresh RequestContext per request.
type RequestContext struct {
	// Input, set once by Prepare and immutable afterward.
	URL           string
	Method        string
	InHeaders     string // normalized text block, CRLF-separated
	InContent     []byte
	InContentType string
	RemoteIP      string
	IsSSL         bool

	AuthStatus    AuthStatus
	AuthPrincipal string

	// Output, mutated by hooks.
	OutContent       []byte
	OutContentType   string
	OutCustomHeaders string // CRLF-separated "Name: value" lines

	ConnID    int64
	RequestID int64

	// worker is the ConnectionWorker that owns this request's socket. It
	// is unexported so that hooks cannot reach past the documented
	// RequestContext surface to the raw connection.
	worker *ConnectionWorker

	responseWritten bool

	// rawHeadersEmpty records whether the wire request carried zero header
	// lines at all, independent of header filtering -- used by
	// ResponseWriter's status floor (SPEC_FULL.md §4.2 step 3), which must
	// not be fooled by filtered-mode stripping every header into an empty
	// InHeaders block on an otherwise normal request.
	rawHeadersEmpty bool
}

// Prepare populates the input fields of a RequestContext and assigns it a
// request id, pulling from the owning server's allocator when present or
// the process-wide fallback otherwise (see DESIGN NOTES in SPEC_FULL.md).
//
// If remoteIP is non-empty, it is guaranteed to appear in InHeaders as a
// "RemoteIP: <value>" line so handlers have one place to look regardless
// of whether the value came from the socket or a configured proxy header.
func (ctx *RequestContext) Prepare(connID int64, w *ConnectionWorker, method, url, headers, contentType string, content []byte, remoteIP string, isSSL, rawHeadersEmpty bool) {
	ctx.ConnID = connID
	ctx.worker = w
	ctx.Method = method
	ctx.URL = url
	ctx.InContentType = contentType
	ctx.InContent = content
	ctx.RemoteIP = remoteIP
	ctx.IsSSL = isSSL
	ctx.AuthStatus = AuthNone
	ctx.AuthPrincipal = ""
	ctx.OutContent = nil
	ctx.OutContentType = ""
	ctx.OutCustomHeaders = ""
	ctx.responseWritten = false
	ctx.rawHeadersEmpty = rawHeadersEmpty

	if remoteIP != "" {
		headers = appendHeaderLine(headers, "RemoteIP", remoteIP)
	}
	ctx.InHeaders = headers

	if w != nil && w.server != nil {
		ctx.RequestID = w.server.requestIDs.Next()
	} else {
		ctx.RequestID = fallbackRequestIDs.Next()
	}
}

// Worker returns the ConnectionWorker that owns this request, or nil for a
// RequestContext constructed outside a live connection (e.g. in tests).
func (ctx *RequestContext) Worker() *ConnectionWorker { return ctx.worker }

func appendHeaderLine(block, name, value string) string {
	line := name + ": " + value
	if block == "" {
		return line
	}
	return block + "\r\n" + line
}

// HeaderValue looks up a header by case-insensitive name in a CRLF block,
// returning ("", false) if absent. It is used both against InHeaders and
// against OutCustomHeaders.
func HeaderValue(block, name string) (string, bool) {
	for _, line := range strings.Split(block, "\r\n") {
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line[:i]), name) {
			return strings.TrimSpace(line[i+1:]), true
		}
	}
	return "", false
}
