package stream

import (
	"context"
	"sync"
	"time"

	"github.com/agentplexus/voicegate"
	"github.com/agentplexus/voicegate/audio"
)

// framePace is the wall-clock duration of one 160-byte mu-law frame.
const framePace = 20 * time.Millisecond

// Task is one queued playback unit. Waiters block on Wait; a canceled task
// resolves its waiters without error.
type Task struct {
	audio []byte

	done     chan struct{}
	err      error
	cancelCh chan struct{}
	once     sync.Once
	cancel   sync.Once
}

func newTask(p []byte) *Task {
	buf := make([]byte, len(p))
	copy(buf, p)
	return &Task{
		audio:    buf,
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// Cancel aborts the task. In-flight playback stops at the next frame
// boundary; a queued task is discarded unrun. Waiters resolve without error.
func (t *Task) Cancel() {
	t.cancel.Do(func() { close(t.cancelCh) })
}

// Wait blocks until the task finishes, is canceled, or ctx expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) canceled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

// PlaybackQueue serializes audio playback onto one media stream: tasks run
// strictly FIFO with at most one in flight. The drain loop is iterative, so
// bursts of short tasks do not grow the stack.
type PlaybackQueue struct {
	send  func(frame []byte) error
	clear func() error

	mu      sync.Mutex
	tasks   []*Task
	current *Task
	running bool
	closed  bool
}

// NewPlaybackQueue creates a queue that emits audio frames through send and
// signals buffer flushes through clear.
func NewPlaybackQueue(send func(frame []byte) error, clear func() error) *PlaybackQueue {
	return &PlaybackQueue{send: send, clear: clear}
}

// Enqueue adds mu-law audio to the queue and returns its task handle. The
// drain loop starts on demand and exits when the queue empties.
func (q *PlaybackQueue) Enqueue(mulaw []byte) *Task {
	t := newTask(mulaw)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.finish(nil)
		return t
	}
	q.tasks = append(q.tasks, t)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return t
}

// CancelAll aborts the in-flight task, discards every queued task unrun, and
// flushes the carrier-side audio buffer with a clear frame. All affected
// tasks resolve their waiters without error.
func (q *PlaybackQueue) CancelAll() {
	q.mu.Lock()
	current := q.current
	pending := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
	for _, t := range pending {
		t.Cancel()
		t.finish(nil)
	}
	if q.clear != nil {
		_ = q.clear()
	}
}

// Close cancels everything and stops accepting new tasks.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.CancelAll()
}

func (q *PlaybackQueue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.tasks) == 0 {
			q.running = false
			q.current = nil
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.current = t
		q.mu.Unlock()

		t.finish(q.play(t))
	}
}

// play paces the task's audio out one telephony frame per tick, checking
// cancellation at each frame boundary. A canceled task returns nil.
func (q *PlaybackQueue) play(t *Task) error {
	if t.canceled() {
		return nil
	}
	ticker := time.NewTicker(framePace)
	defer ticker.Stop()

	for _, frame := range audio.Chunk(t.audio, voicegate.FrameBytes) {
		if t.canceled() {
			return nil
		}
		if err := q.send(frame); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-t.cancelCh:
			return nil
		}
	}
	return nil
}
