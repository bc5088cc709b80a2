package dispatch

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var errTestUpstream = errors.New("upstream unavailable")

type fakeBlocklist struct {
	blockedIPs   map[string]bool
	blockedUsers map[string]bool
}

func (b *fakeBlocklist) IsIPBlocked(ip string) bool     { return b.blockedIPs[ip] }
func (b *fakeBlocklist) IsUserBlocked(user string) bool { return b.blockedUsers[user] }

func TestIngressEnqueuesAndStreamsResponse(t *testing.T) {
	state := NewState()
	handler := NewHandler(state, nil, DefaultBodyLimit, nil)

	go func() {
		_, task, ok := state.Next()
		for !ok {
			time.Sleep(time.Millisecond)
			_, task, ok = state.Next()
		}
		task.send(Chunk{Data: []byte("hello ")})
		task.send(Chunk{Data: []byte("world")})
		task.finish()
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(`{"prompt":"hi"}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	handler.ForPath("/api/generate")(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "hello world")
	}
}

func TestIngressDefaultsToAnonymousUser(t *testing.T) {
	state := NewState()
	handler := NewHandler(state, nil, DefaultBodyLimit, nil)

	go func() {
		user, task, ok := state.Next()
		for !ok {
			time.Sleep(time.Millisecond)
			user, task, ok = state.Next()
		}
		if user != "anonymous" {
			t.Errorf("user = %q, want anonymous", user)
		}
		task.finish()
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ForPath("/api/chat")(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestIngressRejectsBlockedUser(t *testing.T) {
	state := NewState()
	blocklist := &fakeBlocklist{blockedUsers: map[string]bool{"alice": true}}
	handler := NewHandler(state, blocklist, DefaultBodyLimit, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(`{}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()

	handler.ForPath("/api/generate")(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if _, _, ok := state.Next(); ok {
		t.Fatalf("blocked request should never have been enqueued")
	}
}

func TestIngressRejectsOversizedBody(t *testing.T) {
	state := NewState()
	handler := NewHandler(state, nil, 4, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"too":"big"}`))
	rec := httptest.NewRecorder()

	handler.ForPath("/api/generate")(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestIngressSurfacesUpstreamErrorBeforeAnyBytes(t *testing.T) {
	state := NewState()
	handler := NewHandler(state, nil, DefaultBodyLimit, nil)

	go func() {
		_, task, ok := state.Next()
		for !ok {
			time.Sleep(time.Millisecond)
			_, task, ok = state.Next()
		}
		task.send(Chunk{Err: errTestUpstream})
		task.finish()
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ForPath("/api/generate")(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty", rec.Body.String())
	}
}
