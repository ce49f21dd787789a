package outbox

import (
	"context"
	"errors"
	"sync/atomic"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// DefaultQueueSize is used when a non-positive size is given.
const DefaultQueueSize = 1024

// ErrQueueFull is returned by Publish when the queue has no room.
var ErrQueueFull = errors.New("notification queue full")

type entry struct {
	group        string
	notification *model.Notification
}

// Queue decouples publishing from delivery. Publish only enqueues; Run
// delivers to the target notifier in order. Notifications that do not fit
// are dropped, and failed deliveries are logged and not retried.
type Queue struct {
	target  engine.Notifier
	logger  engine.Logger
	entries chan entry

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a Queue delivering to target.
func New(target engine.Notifier, size int, logger engine.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		target:  target,
		logger:  logger,
		entries: make(chan entry, size),
	}
}

// Publish enqueues n for group without blocking.
func (q *Queue) Publish(_ context.Context, group string, n *model.Notification) error {
	select {
	case q.entries <- entry{group: group, notification: n}:
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("notification dropped", "group", group, "kind", n.Kind)
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is cancelled, then delivers
// whatever is still queued before returning.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case e := <-q.entries:
			q.deliver(ctx, e)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

// ProcessNext delivers one queued notification. It reports false when the
// queue was empty.
func (q *Queue) ProcessNext(ctx context.Context) bool {
	select {
	case e := <-q.entries:
		q.deliver(ctx, e)
		return true
	default:
		return false
	}
}

func (q *Queue) drain() {
	// Delivery context is gone; flush with a fresh one.
	ctx := context.Background()
	for q.ProcessNext(ctx) {
	}
}

func (q *Queue) deliver(ctx context.Context, e entry) {
	if err := q.target.Publish(ctx, e.group, e.notification); err != nil {
		q.failed.Add(1)
		q.logger.Error("notification delivery failed", "group", e.group, "kind", e.notification.Kind, "error", err)
		return
	}
	q.delivered.Add(1)
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int { return len(q.entries) }

// Stats reports delivered, failed and dropped counts.
func (q *Queue) Stats() (delivered, failed, dropped int64) {
	return q.delivered.Load(), q.failed.Load(), q.dropped.Load()
}

// Compile-time check that Queue implements engine.Notifier
var _ engine.Notifier = (*Queue)(nil)
