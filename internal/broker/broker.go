package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// Subscriber receives notifications published to the groups it joined.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, n *model.Notification) error
}

// Broker is an in-process multicast hub. Every subscriber of a group gets
// one copy of each notification published to it.
type Broker struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
	logger engine.Logger
}

// New creates an empty Broker.
func New(logger engine.Logger) *Broker {
	return &Broker{
		groups: make(map[string]map[string]Subscriber),
		logger: logger,
	}
}

// Subscribe adds s to group. Subscribing twice is a no-op.
func (b *Broker) Subscribe(group string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]Subscriber)
		b.groups[group] = members
	}
	members[s.ID()] = s
	b.logger.Debug("subscribed", "group", group, "subscriber", s.ID())
}

// Unsubscribe removes the subscriber with id from group.
func (b *Broker) Unsubscribe(group string, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(group, id)
}

// UnsubscribeAll removes the subscriber with id from every group.
func (b *Broker) UnsubscribeAll(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for group := range b.groups {
		b.removeLocked(group, id)
	}
}

func (b *Broker) removeLocked(group, id string) {
	members, ok := b.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.groups, group)
	}
}

// Subscribers returns the ids subscribed to group, sorted.
func (b *Broker) Subscribers(group string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.groups[group]))
	for id := range b.groups[group] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Publish delivers n to every subscriber of group. A failing subscriber does
// not stop delivery to the others; all failures are returned joined.
// Publishing to a group nobody joined is not an error.
func (b *Broker) Publish(ctx context.Context, group string, n *model.Notification) error {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.groups[group]))
	for _, s := range b.groups[group] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("delivering to %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Compile-time check that Broker implements engine.Notifier
var _ engine.Notifier = (*Broker)(nil)
