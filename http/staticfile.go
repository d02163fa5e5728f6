package http

import "strings"

// SendFileHook is an optional pluggable strategy consulted by ResponseWriter
// before it opens OutContent (interpreted as a file path) itself. It
// returns true if it handled the send -- typically by rewriting
// OutCustomHeaders and clearing OutContent so a reverse proxy serves the
// bytes instead of this process.
type SendFileHook interface {
	TrySendFile(ctx *RequestContext, path string) (handled bool)
}

// PrefixSendFileHook is the built-in reverse-proxy strategy: for any file
// path that case-sensitively starts with one of Prefixes, it strips the
// prefix, appends an X-Accel-Redirect header naming the remainder, and
// clears OutContent so the ResponseWriter never reads the file itself.
// Paths outside the allow-list are declined, and the ResponseWriter falls
// back to reading the file directly.
type PrefixSendFileHook struct {
	Prefixes []string
}

func (h *PrefixSendFileHook) TrySendFile(ctx *RequestContext, path string) bool {
	for _, prefix := range h.Prefixes {
		if strings.HasPrefix(path, prefix) {
			stripped := path[len(prefix):]
			ctx.OutCustomHeaders = appendHeaderLine(ctx.OutCustomHeaders, "X-Accel-Redirect", stripped)
			ctx.OutContent = nil
			return true
		}
	}
	return false
}
