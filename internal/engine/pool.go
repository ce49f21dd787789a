package engine

import (
	"errors"
	"fmt"
	"sync"
)

// HandlerPool owns a fixed set of Handlers, one per pooled storage
// connection, and hands them out round-robin. It does no queueing or
// backpressure: Get always returns a handler.
type HandlerPool struct {
	handlers []*Handler
	mu       sync.Mutex
	next     uint64
}

// NewHandlerPool creates one Handler per storage connection.
func NewHandlerPool(stores []Storage, logger Logger, clock Clock, idgen IDGenerator) (*HandlerPool, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("handler pool needs at least one storage connection")
	}

	handlers := make([]*Handler, len(stores))
	for i, s := range stores {
		handlers[i] = NewHandler(i, s, logger, clock, idgen)
	}
	return &HandlerPool{handlers: handlers}, nil
}

// Get returns the next handler in round-robin order.
func (p *HandlerPool) Get() *Handler {
	p.mu.Lock()
	i := p.next % uint64(len(p.handlers))
	p.next++
	p.mu.Unlock()
	return p.handlers[i]
}

// Size returns the number of handlers.
func (p *HandlerPool) Size() int {
	return len(p.handlers)
}

// Close closes every handler's storage connection.
func (p *HandlerPool) Close() error {
	var errs []error
	for _, h := range p.handlers {
		if err := h.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing handler %d storage: %w", h.id, err))
		}
	}
	return errors.Join(errs...)
}
