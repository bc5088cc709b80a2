package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"
)

// readChunkSize is the buffer size used to pull bytes off the upstream
// response body one read at a time, so each read is forwarded to the
// responder as soon as it arrives instead of being batched.
const readChunkSize = 32 * 1024

// upstreamTimeout bounds a single upstream call end to end, regardless of
// client behavior (spec.md section 5).
const upstreamTimeout = 5 * time.Minute

// Upstream is the subset of upstream.Client the worker depends on, kept as
// an interface so tests can substitute a fake without a real HTTP server.
type Upstream interface {
	Stream(ctx context.Context, path string, body []byte) (*http.Response, error)
}

// Config bundles the worker's tunables that spec.md leaves as operator
// knobs (section 4.3 step b, section 6 CLI surface).
type Config struct {
	// DispatchDelay is the artificial pause before each upstream call,
	// present only so an operator can watch fairness on a dashboard.
	// spec.md's Open Question: default must be 0 in production, unlike
	// the reference dispatcher's hard-coded 500ms.
	DispatchDelay time.Duration
}

// Worker is the single long-lived dispatch loop described in spec.md
// section 4.3. One worker enforces at-most-one in-flight upstream request,
// which is also the fairness-relevant serialization point (section 4.3,
// "Why one worker").
type Worker struct {
	state    *State
	upstream Upstream
	cfg      Config

	// onDecision, when set, is called for every dispatch decision
	// (ENQUEUED is emitted by the ingress handler, not here). Used to
	// feed the optional audit log without the worker importing it
	// directly.
	onDecision func(user, decision, reason string)
}

// NewWorker constructs a Worker. onDecision may be nil.
func NewWorker(state *State, upstream Upstream, cfg Config, onDecision func(user, decision, reason string)) *Worker {
	return &Worker{state: state, upstream: upstream, cfg: cfg, onDecision: onDecision}
}

func (w *Worker) decide(user, decision, reason string) {
	if w.onDecision != nil {
		w.onDecision(user, decision, reason)
	}
}

// Run executes the dispatch loop until ctx is cancelled. It never exits on
// its own: panics inside a single task's handling are recovered and logged
// so the loop resumes, per spec.md section 7 ("nothing inside the core is
// fatal to the process").
func (w *Worker) Run(ctx context.Context) {
	lastGen := w.state.Generation()

	for {
		if ctx.Err() != nil {
			return
		}

		user, task, ok := w.state.Next()
		if !ok {
			lastGen = w.waitForWork(ctx, lastGen)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		w.runOneTask(user, task)
	}
}

// waitForWork blocks on the wake primitive but still respects ctx
// cancellation, since State.WaitForWork itself has no context awareness.
func (w *Worker) waitForWork(ctx context.Context, lastGen int) int {
	done := make(chan int, 1)
	go func() {
		done <- w.state.WaitForWork(lastGen)
	}()
	select {
	case gen := <-done:
		return gen
	case <-ctx.Done():
		return lastGen
	}
}

// runOneTask executes spec.md section 4.3 step 2 for a single dequeued task,
// recovering from any panic so the worker loop survives it.
func (w *Worker) runOneTask(user string, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: worker panic processing task for user %s: %v", user, r)
			w.state.RecordDropped(user)
			task.finish()
		}
	}()

	// Step 2a: client already gave up while queued.
	if task.ClientGone() {
		log.Printf("dispatch: dropping queued task for user %s, client disconnected", user)
		w.state.RecordDropped(user)
		w.decide(user, "DROPPED", "client_gone_queued")
		task.finish()
		return
	}

	log.Printf("dispatch: dispatching %s for user %s", task.Path, user)
	w.decide(user, "DISPATCH", "")

	if w.cfg.DispatchDelay > 0 {
		timer := time.NewTimer(w.cfg.DispatchDelay)
		select {
		case <-timer.C:
		case <-task.Done():
			timer.Stop()
			w.state.RecordDropped(user)
			w.decide(user, "DROPPED", "client_gone_queued")
			task.finish()
			return
		}
	}

	// task.ctx (the inbound request's context) bounded by a fixed
	// ceiling gives one mechanism for both cancellation signals the
	// spec calls for: client disconnect cancels task.ctx, which the
	// upstream HTTP call observes directly, and the timeout is enforced
	// regardless of client behavior.
	callCtx, cancel := context.WithTimeout(task.ctx, upstreamTimeout)
	defer cancel()

	resp, err := w.upstream.Stream(callCtx, task.Path, task.Body)
	if err != nil {
		if task.ClientGone() {
			log.Printf("dispatch: client disconnected waiting for upstream response, user %s", user)
			w.state.RecordDropped(user)
			w.decide(user, "DROPPED", "client_gone_waiting")
			task.finish()
			return
		}
		log.Printf("dispatch: upstream call failed for user %s: %v", user, err)
		task.send(Chunk{Err: err})
		w.state.RecordDropped(user)
		w.decide(user, "DROPPED", "upstream_failure")
		task.finish()
		return
	}
	defer resp.Body.Close()

	w.streamBody(user, task, resp.Body)
}

// streamBody iterates the upstream response body one read at a time,
// forwarding each chunk to the responder until completion, client
// disconnect, or a transport error truncates the body (spec.md section 4.3
// steps 2e/2g).
func (w *Worker) streamBody(user string, task *Task, body io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !task.send(Chunk{Data: chunk}) {
				log.Printf("dispatch: client disconnected mid-stream for user %s", user)
				w.state.RecordDropped(user)
				w.decide(user, "DROPPED", "client_gone_streaming")
				task.finish()
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("dispatch: request %s for user %s completed", task.Path, user)
				w.state.RecordProcessed(user)
				w.decide(user, "PROCESSED", "")
				task.finish()
				return
			}
			log.Printf("dispatch: upstream stream truncated for user %s: %v", user, err)
			w.state.RecordDropped(user)
			w.decide(user, "DROPPED", "upstream_truncated")
			task.finish()
			return
		}
	}
}
