// Package dispatch implements the fair-share scheduling core: per-user task
// queues, a round-robin picker, and the single dispatch worker that streams
// each task's upstream response back through its responder channel.
package dispatch

import (
	"sort"
	"sync"
)

// userQueue is one user's FIFO of pending tasks.
type userQueue struct {
	tasks []*Task
}

func (q *userQueue) pushBack(t *Task) {
	q.tasks = append(q.tasks, t)
}

func (q *userQueue) popFront() *Task {
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

func (q *userQueue) len() int { return len(q.tasks) }

// State is the process-wide, shared scheduling core described in spec.md
// section 3 ("SchedulerState"). All mutation goes through its mutex; the
// dispatch worker is the only component that removes tasks from queues.
type State struct {
	mu sync.Mutex

	queues          map[string]*userQueue
	processedCounts map[string]int
	droppedCounts   map[string]int

	// cursor is an index into the lexicographically sorted list of users
	// with a non-empty queue at the moment of the pick, exactly the
	// "current_idx" policy of the reference dispatcher: recomputed active
	// set each pick, cursor wraps or resets to 0 when out of range.
	cursor int

	// generation is bumped on every enqueue and compared against by
	// waiters, giving the wake primitive "a notification delivered before
	// the wait still satisfies it" semantics using an ordinary
	// sync.Cond — see WaitForWork below.
	generation int
	wake       *sync.Cond
}

// NewState constructs an empty SchedulerState.
func NewState() *State {
	s := &State{
		queues:          make(map[string]*userQueue),
		processedCounts: make(map[string]int),
		droppedCounts:   make(map[string]int),
	}
	s.wake = sync.NewCond(&s.mu)
	return s
}

// Enqueue appends task to user's FIFO, creating the queue on first use, and
// wakes any worker waiting for work. It never fails: admission decisions
// (body size, block lists) happen before Enqueue is called.
func (s *State) Enqueue(user string, task *Task) {
	s.mu.Lock()
	q, ok := s.queues[user]
	if !ok {
		q = &userQueue{}
		s.queues[user] = q
	}
	q.pushBack(task)
	s.generation++
	s.mu.Unlock()
	s.wake.Broadcast()
}

// Next selects the next user in round-robin order among users with a
// non-empty queue, pops its head task, and advances the cursor. It reports
// ok=false iff no queue currently holds a task.
//
// The active-user list is recomputed and sorted on every call so the
// schedule is independent of Go's randomized map iteration order — this is
// what makes the fairness invariants in spec.md section 8 deterministic and
// testable, mirroring the reference dispatcher's own rationale.
func (s *State) Next() (user string, task *Task, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeUsersLocked()
	if len(active) == 0 {
		return "", nil, false
	}
	if s.cursor >= len(active) {
		s.cursor = 0
	}

	user = active[s.cursor]
	task = s.queues[user].popFront()
	s.cursor++
	return user, task, true
}

func (s *State) activeUsersLocked() []string {
	active := make([]string, 0, len(s.queues))
	for user, q := range s.queues {
		if q.len() > 0 {
			active = append(active, user)
		}
	}
	sort.Strings(active)
	return active
}

// WaitForWork blocks until Enqueue has been observed at least once since the
// caller last called WaitForWork (or, for the first call, since State was
// constructed). Spurious wakes are fine — the worker always re-checks Next
// after returning.
//
// The generation counter makes this edge-triggered and loss-free: a
// notification delivered between the caller's last check and this call is
// not missed, unlike a bare sync.Cond.Wait used without a guard value.
func (s *State) WaitForWork(lastSeen int) (newGeneration int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.generation == lastSeen {
		s.wake.Wait()
	}
	return s.generation
}

// Generation reports the current enqueue generation under lock, for a
// worker establishing its initial baseline before the first WaitForWork.
func (s *State) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// RecordProcessed increments user's processed counter.
func (s *State) RecordProcessed(user string) {
	s.mu.Lock()
	s.processedCounts[user]++
	s.mu.Unlock()
}

// RecordDropped increments user's dropped counter.
func (s *State) RecordDropped(user string) {
	s.mu.Lock()
	s.droppedCounts[user]++
	s.mu.Unlock()
}

// UserStats is one user's slice of a Snapshot.
type UserStats struct {
	User        string `json:"user"`
	QueueLength int    `json:"queue_length"`
	Processed   int    `json:"processed"`
	Dropped     int    `json:"dropped"`
}

// Snapshot is the read-only view consumed by the dashboard (spec.md section
// 6, "Observability interfaces").
type Snapshot struct {
	Users         []UserStats `json:"users"`
	UserCount     int         `json:"user_count"`
	TotalQueued   int         `json:"total_queued"`
	TotalProcessed int        `json:"total_processed"`
	TotalDropped  int         `json:"total_dropped"`
}

// Snapshot takes a consistent, point-in-time read of per-user and aggregate
// counters. It never mutates state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[string]struct{}, len(s.queues))
	for u := range s.queues {
		users[u] = struct{}{}
	}
	for u := range s.processedCounts {
		users[u] = struct{}{}
	}
	for u := range s.droppedCounts {
		users[u] = struct{}{}
	}

	names := make([]string, 0, len(users))
	for u := range users {
		names = append(names, u)
	}
	sort.Strings(names)

	snap := Snapshot{Users: make([]UserStats, 0, len(names))}
	for _, u := range names {
		qlen := 0
		if q, ok := s.queues[u]; ok {
			qlen = q.len()
		}
		processed := s.processedCounts[u]
		dropped := s.droppedCounts[u]

		snap.Users = append(snap.Users, UserStats{
			User:        u,
			QueueLength: qlen,
			Processed:   processed,
			Dropped:     dropped,
		})
		snap.TotalQueued += qlen
		snap.TotalProcessed += processed
		snap.TotalDropped += dropped
	}
	snap.UserCount = len(names)
	return snap
}
