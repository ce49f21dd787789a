package testutil

import (
	"context"
	"sync"

	"syncservice/internal/model"
)

// Published is one notification seen by a RecordingNotifier.
type Published struct {
	Group        string
	Notification *model.Notification
}

// RecordingNotifier records every publish. Groups registered with FailFor
// return the given error instead of being recorded.
type RecordingNotifier struct {
	mu        sync.Mutex
	published []Published
	failures  map[string]error
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{failures: make(map[string]error)}
}

// FailFor makes every publish to group fail with err.
func (n *RecordingNotifier) FailFor(group string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[group] = err
}

func (n *RecordingNotifier) Publish(_ context.Context, group string, notification *model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failures[group]; ok {
		return err
	}
	n.published = append(n.published, Published{Group: group, Notification: notification})
	return nil
}

// Published returns a copy of everything recorded so far.
func (n *RecordingNotifier) Published() []Published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Published(nil), n.published...)
}

// ForGroup returns the notifications recorded for one group.
func (n *RecordingNotifier) ForGroup(group string) []*model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*model.Notification
	for _, p := range n.published {
		if p.Group == group {
			out = append(out, p.Notification)
		}
	}
	return out
}
