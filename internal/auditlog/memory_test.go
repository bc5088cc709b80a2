package auditlog

import (
	"testing"
	"time"
)

func TestMemoryLogRecentOrdering(t *testing.T) {
	log := NewMemoryLog(10)
	base := time.Now()

	for i, user := range []string{"alice", "bob", "carol"} {
		log.Record(Entry{Time: base.Add(time.Duration(i) * time.Second), User: user, Decision: "ENQUEUED"})
	}

	recent := log.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].User != "carol" {
		t.Fatalf("recent[0].User = %q, want carol (most recent first)", recent[0].User)
	}
	if recent[2].User != "alice" {
		t.Fatalf("recent[2].User = %q, want alice", recent[2].User)
	}
}

func TestMemoryLogWrapsAtCapacity(t *testing.T) {
	log := NewMemoryLog(2)

	log.Record(Entry{User: "a"})
	log.Record(Entry{User: "b"})
	log.Record(Entry{User: "c"})

	recent := log.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].User != "c" || recent[1].User != "b" {
		t.Fatalf("recent = %+v, want [c, b]", recent)
	}
}

func TestMemoryLogRecentLimit(t *testing.T) {
	log := NewMemoryLog(10)
	for i := 0; i < 5; i++ {
		log.Record(Entry{User: "x"})
	}

	recent := log.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
}
