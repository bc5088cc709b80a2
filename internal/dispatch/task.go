package dispatch

import "context"

// responderCapacity bounds how many unread chunks a worker may buffer for a
// single task before its send blocks. This is the backpressure knob from
// spec.md section 5: a slow ingress reader stalls the worker, which stalls
// the upstream read, which stalls the upstream connection via TCP flow
// control.
const responderCapacity = 32

// Chunk is one item delivered from the dispatch worker to the ingress-side
// response stream. Exactly one field is meaningful: Err set means the
// upstream call failed and no further chunks will follow; Err nil means Data
// is a successful body fragment, opaque to the proxy.
type Chunk struct {
	Data []byte
	Err  error
}

// Task is an accepted-but-not-yet-completed request. It is created once by
// the ingress handler, handed to the scheduler, and consumed exactly once by
// the dispatch worker. It is never copied or re-enqueued.
//
// Go has no receiver-initiated channel close, so client-disconnect detection
// (spec.md section 4.3 step 2a/2e) is threaded through ctx instead: ctx is
// the inbound request's context, which net/http cancels the instant the
// client's connection goes away. The worker races every blocking operation
// against ctx.Done() rather than against responder channel state.
type Task struct {
	Path string
	Body []byte

	ctx       context.Context
	responder chan Chunk
}

// NewTask builds a Task bound to the inbound request's context, with a
// freshly allocated responder channel whose sender side belongs to the
// worker and whose receiver side belongs to the ingress response stream.
func NewTask(ctx context.Context, path string, body []byte) *Task {
	return &Task{
		Path:      path,
		Body:      body,
		ctx:       ctx,
		responder: make(chan Chunk, responderCapacity),
	}
}

// Responder returns the channel the ingress response stream drains.
func (t *Task) Responder() <-chan Chunk {
	return t.responder
}

// Done reports the context whose cancellation means the client gave up,
// either while the task was still queued or mid-stream.
func (t *Task) Done() <-chan struct{} {
	return t.ctx.Done()
}

// ClientGone is a fast, non-blocking check for the queued-but-abandoned
// case (spec.md section 4.3 step 2a).
func (t *Task) ClientGone() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// send delivers a chunk to the responder or reports that the client is gone,
// whichever happens first. It never blocks past ctx cancellation.
func (t *Task) send(c Chunk) (delivered bool) {
	select {
	case t.responder <- c:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// finish closes the responder, releasing the ingress-side reader. It must be
// called exactly once, by the worker, when the task terminates.
func (t *Task) finish() {
	close(t.responder)
}
