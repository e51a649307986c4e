package randomness

import (
	"context"
	"errors"
	"sync"

	"raffle-engine/internal/features/raffle/models"
)

// Handler consumes a fulfilment. The registry's HandleFulfillment is one.
type Handler func(ctx context.Context, f models.Fulfillment) error

// Bus decouples the adapter from the registry.
type Bus interface {
	Publish(ctx context.Context, f models.Fulfillment) error
	Subscribe(h Handler)
}

// MemoryBus dispatches synchronously on the publisher's goroutine and
// returns the handlers' errors to the publisher.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *MemoryBus) Publish(ctx context.Context, f models.Fulfillment) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
