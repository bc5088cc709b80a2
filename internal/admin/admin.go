// Package admin exposes the block/unblock operator endpoints backing
// internal/accesscontrol, grounded in the reference dispatcher's
// block_ip/block_user/unblock_ip/unblock_user operations. It is rate
// limited the way the teacher protects its heartbeat endpoint from a
// thundering herd (control_plane/api.go's heartbeatLimiter), since an
// admin endpoint is the one place in this proxy where request volume
// rather than queue-order fairness is the right defense (spec.md
// Non-goals: "no rate limiting by rate rather than by queue-order
// fairness" for task admission; this limiter guards the admin surface
// only).
package admin

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/flowgate/dispatcher/internal/accesscontrol"
)

// limiterRate/limiterBurst mirror the order of magnitude of the teacher's
// heartbeat limiter, scaled down for an operator-only surface instead of
// one called by every agent in a fleet.
const (
	limiterRate  = 5
	limiterBurst = 10
)

// Handler serves the admin block-list management routes.
type Handler struct {
	store   accesscontrol.Store
	limiter *rate.Limiter
}

// NewHandler constructs an admin Handler backed by store.
func NewHandler(store accesscontrol.Store) *Handler {
	return &Handler{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(limiterRate), limiterBurst),
	}
}

type blockRequest struct {
	IP   string `json:"ip,omitempty"`
	User string `json:"user,omitempty"`
}

// writeRateLimitError writes a 429 with a jittered Retry-After, matching
// the teacher's storm-protection response shape.
func writeRateLimitError(w http.ResponseWriter) {
	retryAfterMS := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", (retryAfterMS+500)/1000))
	http.Error(w, "too many admin requests", http.StatusTooManyRequests)
}

func (h *Handler) allow(w http.ResponseWriter) bool {
	if !h.limiter.Allow() {
		writeRateLimitError(w)
		return false
	}
	return true
}

func decodeBlockRequest(w http.ResponseWriter, r *http.Request) (blockRequest, bool) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return blockRequest{}, false
	}
	if req.IP == "" && req.User == "" {
		http.Error(w, "must specify ip or user", http.StatusBadRequest)
		return blockRequest{}, false
	}
	return req, true
}

// Block handles POST /admin/block.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w) {
		return
	}
	req, ok := decodeBlockRequest(w, r)
	if !ok {
		return
	}

	if req.IP != "" {
		if err := h.store.BlockIP(req.IP); err != nil {
			log.Printf("admin: failed to persist IP block for %s: %v", req.IP, err)
		}
	}
	if req.User != "" {
		if err := h.store.BlockUser(req.User); err != nil {
			log.Printf("admin: failed to persist user block for %s: %v", req.User, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unblock handles POST /admin/unblock.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w) {
		return
	}
	req, ok := decodeBlockRequest(w, r)
	if !ok {
		return
	}

	if req.IP != "" {
		if err := h.store.UnblockIP(req.IP); err != nil {
			log.Printf("admin: failed to persist IP unblock for %s: %v", req.IP, err)
		}
	}
	if req.User != "" {
		if err := h.store.UnblockUser(req.User); err != nil {
			log.Printf("admin: failed to persist user unblock for %s: %v", req.User, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type blockListResponse struct {
	IPs   []string `json:"ips"`
	Users []string `json:"users"`
}

// List handles GET /admin/blocklist.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w) {
		return
	}
	resp := blockListResponse{
		IPs:   h.store.BlockedIPs(),
		Users: h.store.BlockedUsers(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
