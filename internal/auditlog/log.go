// Package auditlog records dispatch decisions (ENQUEUED, DISPATCH,
// PROCESSED, DROPPED:<reason>) for after-the-fact inspection. It is
// strictly observational, the same policy the teacher applies to its own
// event publishing (control_plane/reconciler.go's publishEventAsync):
// a write failure here must never affect scheduling or the response stream.
//
// This does not persist pending tasks; that remains out of scope (spec.md
// Non-goals). It persists only the historical record of what the
// dispatcher decided.
package auditlog

import "time"

// Entry is one recorded decision.
type Entry struct {
	Time     time.Time `json:"time"`
	User     string    `json:"user"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}

// Log is anything that can record and list decisions. MemoryLog is always
// present; PostgresLog is an optional addition layered on top via Tee.
type Log interface {
	Record(e Entry)
	Recent(limit int) []Entry
}
