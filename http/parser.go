package http

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// specialHeaders are lifted into typed ParsedRequest fields in filtered
// mode instead of being retained in the caller-visible headers block.
var specialHeaders = map[string]bool{
	"content-length":   true,
	"content-type":     true,
	"content-encoding": true,
	"connection":       true,
	"accept-encoding":  true,
	"host":             true,
	"user-agent":       true,
	"referer":          true,
}

// ParsedRequest is the result of a successful ReadRequest: either a
// header_received (wantBody=false) or body_received request.
type ParsedRequest struct {
	Method    string
	URL       string
	Version   string
	Headers   string // normalized CRLF block, filtered or unfiltered per config
	KeepAlive bool
	Upgrade   bool

	ContentType    string
	ContentLength  int64 // -1 if the header was absent
	AcceptEncoding string

	RemoteIP     string
	RemoteConnID uint64 // 0 if not present

	// HeaderLineCount is the number of header lines seen on the wire,
	// before any filtering; zero means the request had no headers at all.
	HeaderLineCount int

	Body []byte
}

// RequestParser reads one request off a buffered connection under the
// size/time budgets configured on its Server. ConnectionWorker and
// WorkerPool build a new parser for each request, bound to the
// connection's shared buffered reader and writer.
type RequestParser struct {
	br       *bufio.Reader
	bw       *bufio.Writer
	server   *Server
	connID   int64
	remoteIP string
	isSSL    bool
}

// NewRequestParser binds a parser to a connection's buffered reader/writer.
// remoteIP is the socket-derived address before any configured proxy
// header overwrites it.
func NewRequestParser(br *bufio.Reader, bw *bufio.Writer, server *Server, connID int64, remoteIP string, isSSL bool) *RequestParser {
	return &RequestParser{br: br, bw: bw, server: server, connID: connID, remoteIP: remoteIP, isSSL: isSSL}
}

// ReadRequest implements the algorithm of SPEC_FULL.md §4.1. deadline is
// the zero time.Time for "no header-read deadline". A panic escaping the
// parse itself (as opposed to a plain I/O failure, which is ResultError)
// is recovered and reported as ResultException, per SPEC_FULL.md §7's
// "any thrown/raised low-level error surfaces as exception".
func (p *RequestParser) ReadRequest(wantBody bool, deadline time.Time) (result Result, req *ParsedRequest, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, req, err = ResultException, nil, fmt.Errorf("http: parse exception: %v", rec)
		}
	}()
	return p.readRequest(wantBody, deadline)
}

func (p *RequestParser) readRequest(wantBody bool, deadline time.Time) (Result, *ParsedRequest, error) {
	if p.server.TCPPrefix != "" {
		line, err := p.readLine()
		if err != nil {
			return ResultError, nil, err
		}
		if line != p.server.TCPPrefix {
			return ResultError, nil, fmt.Errorf("http: tcp prefix mismatch")
		}
	}

	requestLine, err := p.readLine()
	if err != nil {
		return ResultError, nil, err
	}
	if requestLine == "" {
		return ResultError, nil, io.EOF
	}

	parts := strings.Split(requestLine, " ")
	if len(parts) < 3 {
		return ResultError, nil, fmt.Errorf("http: malformed request line %q", requestLine)
	}

	req := &ParsedRequest{
		Method:        parts[0],
		URL:           parts[1],
		Version:       parts[2],
		ContentLength: -1,
		RemoteIP:      p.remoteIP,
	}
	req.KeepAlive = req.Version == "HTTP/1.1" && p.server.KeepAliveTimeout > 0

	var headerBlock strings.Builder
	for {
		line, err := p.readLine()
		if err != nil {
			return ResultError, nil, err
		}
		if line == "" {
			break
		}

		req.HeaderLineCount++

		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		name := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		lname := strings.ToLower(name)

		switch lname {
		case "content-length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				req.ContentLength = n
			}
		case "content-type":
			req.ContentType = value
		case "accept-encoding":
			req.AcceptEncoding = value
		case "connection":
			switch strings.ToLower(value) {
			case "close":
				req.KeepAlive = false
			case "upgrade":
				req.Upgrade = true
			}
		}

		if p.server.RemoteIPHeader != "" && strings.EqualFold(name, p.server.RemoteIPHeader) {
			req.RemoteIP = value
			continue
		}
		if p.server.RemoteConnIDHeader != "" && strings.EqualFold(name, p.server.RemoteConnIDHeader) {
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				req.RemoteConnID = n
			}
			continue
		}

		if p.server.UnfilteredHeaders || !specialHeaders[lname] {
			if headerBlock.Len() > 0 {
				headerBlock.WriteString("\r\n")
			}
			headerBlock.WriteString(name)
			headerBlock.WriteString(": ")
			headerBlock.WriteString(value)
		}
	}
	req.Headers = headerBlock.String()

	if !deadline.IsZero() && time.Now().After(deadline) {
		return ResultTimeout, nil, nil
	}

	if p.server.MaxContentLength > 0 && req.ContentLength > p.server.MaxContentLength {
		p.writeMinimalResponse(int(StatusRequestEntityTooLarge))
		return ResultOversizedPayload, nil, nil
	}

	if p.server.Hooks.BeforeBody != nil {
		code := p.server.Hooks.BeforeBody(BeforeBodyInfo{
			URL:           req.URL,
			Method:        req.Method,
			Headers:       req.Headers,
			ContentType:   req.ContentType,
			RemoteIP:      req.RemoteIP,
			ContentLength: req.ContentLength,
			IsSSL:         p.isSSL,
		})
		if code != int(StatusOK) {
			p.writeMinimalResponse(code)
			return ResultRejected, nil, nil
		}
	}

	if req.Upgrade || !wantBody {
		return ResultHeaderReceived, req, nil
	}

	result, err := p.readBody(req)
	return result, req, err
}

// readBody implements step 8's body-framing rule: exactly Content-Length
// bytes, or read-to-EOF when the length is absent and the request is
// non-keep-alive and not GET (the HTTP/1.1-incompatible compatibility
// quirk flagged in SPEC_FULL.md §9). It is also used by WorkerPool to read
// the body of a connection it decided not to promote, after having
// already parsed the headers with wantBody=false.
func (p *RequestParser) readBody(req *ParsedRequest) (Result, error) {
	n := req.ContentLength
	if n < 0 {
		if req.Method == "GET" || req.KeepAlive {
			return ResultBodyReceived, nil
		}
		body, err := io.ReadAll(p.br)
		if err != nil {
			return ResultError, err
		}
		req.Body = body
		return ResultBodyReceived, nil
	}

	if n > 0 {
		body := make([]byte, n)
		if _, err := io.ReadFull(p.br, body); err != nil {
			return ResultError, err
		}
		req.Body = body
	}
	return ResultBodyReceived, nil
}

// ReadBody reads the body for a ParsedRequest obtained from a prior
// ReadRequest(wantBody=false, ...) call on the same connection.
func (p *RequestParser) ReadBody(req *ParsedRequest) (Result, error) {
	return p.readBody(req)
}

func (p *RequestParser) readLine() (string, error) {
	line, err := p.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeMinimalResponse writes the minimal HTTP/1.0 status response used
// for pre-body rejections (oversized payload, BeforeBody rejection), per
// SPEC_FULL.md §4.1 steps 6-7.
func (p *RequestParser) writeMinimalResponse(code int) {
	reason := StatusText(code)
	fmt.Fprintf(p.bw, "HTTP/1.0 %d %s\r\n\r\n%s %d", code, reason, reason, code)
	p.bw.Flush()
}
