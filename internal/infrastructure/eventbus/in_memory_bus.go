package eventbus

import (
	"errors"
	"slices"
	"sync"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
)

type HandlerFunc func(event.Event) error

type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerFunc
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[event.Type][]HandlerFunc),
	}
}

func (b *InMemoryBus) Subscribe(eventType event.Type, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish runs every handler for the event type in subscription order.
// Handlers may publish again; the handler list is copied before dispatch.
func (b *InMemoryBus) Publish(evt event.Event) error {
	b.mu.RLock()
	handlers := slices.Clone(b.handlers[evt.Type])
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(evt); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Record lets the bus stand in for the outbox when events need no durability.
func (b *InMemoryBus) Record(evt event.Event) error {
	return b.Publish(evt)
}
