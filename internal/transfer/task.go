package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ProgressFunc is called after every chunk with bytes sent so far and total.
type ProgressFunc func(sent, total int64)

// Task tracks one outbound file transfer running in the background.
type Task struct {
	ID     string
	Target string
	Path   string

	total    atomic.Int64
	sent     atomic.Int64
	progress ProgressFunc

	done chan struct{}
	once sync.Once
	err  error
}

func NewTask(target, path string, progress ProgressFunc) *Task {
	return &Task{
		ID:       uuid.NewString(),
		Target:   target,
		Path:     path,
		progress: progress,
		done:     make(chan struct{}),
	}
}

// SetTotal records the file size once it is known.
func (t *Task) SetTotal(n int64) { t.total.Store(n) }

// Advance adds n sent bytes and reports progress.
func (t *Task) Advance(n int64) {
	sent := t.sent.Add(n)
	if t.progress != nil {
		t.progress(sent, t.total.Load())
	}
}

// Progress returns bytes sent and total size.
func (t *Task) Progress() (sent, total int64) {
	return t.sent.Load(), t.total.Load()
}

// Finish marks the task complete. Only the first call has an effect.
func (t *Task) Finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed when the task completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the terminal error. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task completes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
