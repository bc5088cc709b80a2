package dispatch

import (
	"errors"
	"io"
	"log"
	"net/http"
)

// DefaultBodyLimit matches the reference proxy's request body ceiling
// (spec.md section 4.2, step 2).
const DefaultBodyLimit = 50 * 1024 * 1024

// Blocklist is the access-control facade consulted before admission. It is
// defined here, rather than imported from accesscontrol, so dispatch has no
// compile-time dependency on a storage backend.
type Blocklist interface {
	IsIPBlocked(ip string) bool
	IsUserBlocked(user string) bool
}

// Handler is the HTTP entry point for proxied inference calls (spec.md
// section 4.2). One Handler is shared by every route; the upstream path is
// bound per mux registration via ForPath.
type Handler struct {
	state     *State
	blocklist Blocklist
	bodyLimit int64
	onDecide  func(user, decision, reason string)
}

// NewHandler constructs the ingress Handler. blocklist may be nil, in which
// case no request is ever blocked.
func NewHandler(state *State, blocklist Blocklist, bodyLimit int64, onDecide func(user, decision, reason string)) *Handler {
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyLimit
	}
	return &Handler{state: state, blocklist: blocklist, bodyLimit: bodyLimit, onDecide: onDecide}
}

// ForPath returns an http.HandlerFunc bound to a specific upstream path,
// so one Handler can back /api/generate, /api/chat, /v1/chat/completions,
// and /v1/completions alike (spec.md section 4.2, route list).
func (h *Handler) ForPath(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, path)
	}
}

func (h *Handler) decide(user, decision, reason string) {
	if h.onDecide != nil {
		h.onDecide(user, decision, reason)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, path string) {
	user := r.Header.Get("X-User-ID")
	if user == "" {
		user = "anonymous"
	}

	ip := clientIP(r)

	if h.blocklist != nil {
		if h.blocklist.IsIPBlocked(ip) {
			h.decide(user, "DROPPED", "ip_blocked")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if h.blocklist.IsUserBlocked(user) {
			h.decide(user, "DROPPED", "user_blocked")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.decide(user, "DROPPED", "body_too_large")
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.decide(user, "DROPPED", "body_read_error")
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	task := NewTask(r.Context(), path, body)
	h.state.Enqueue(user, task)
	h.decide(user, "ENQUEUED", "")

	h.stream(w, user, task)
}

// stream drains task's responder into w chunk by chunk, flushing after each
// write so streamed tokens reach the client without buffering delay
// (spec.md section 4.2, step 4). The response status is committed to 200
// before the first chunk arrives, matching the reference proxy's
// Body::from_stream response: an upstream error is never rewritten into an
// HTTP error status, since the status line is already on the wire by the
// time it could happen. An error chunk just truncates the body.
func (h *Handler) stream(w http.ResponseWriter, user string, task *Task) {
	flusher, canFlush := w.(http.Flusher)
	w.WriteHeader(http.StatusOK)

	for chunk := range task.Responder() {
		if chunk.Err != nil {
			log.Printf("dispatch: upstream error for user %s: %v", user, chunk.Err)
			return
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// clientIP extracts the connecting IP, preferring the socket's remote
// address: the reference proxy does not sit behind a trusted proxy layer
// that would make X-Forwarded-For meaningful.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
