package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/contracts"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
)

// DismissScheduler turns a PaymentSucceeded into a CheckoutDismissed once the
// confirmation has been on screen for Delay. A session is scheduled at most
// once while its timer is pending, so a redelivered PaymentSucceeded does
// not stack timers.
type DismissScheduler struct {
	Publisher contracts.EventPublisher
	Delay     time.Duration
	Logger    logging.Logger

	mu        sync.Mutex
	scheduled map[string]struct{}
}

func (d *DismissScheduler) Handle(evt event.Event) error {
	if evt.Type != event.PaymentSucceeded {
		return nil
	}

	payload, ok := evt.Payload.(event.PaymentSucceededPayload)
	if !ok {
		return errors.New("invalid payload for PaymentSucceeded")
	}

	if !d.claim(payload.SessionID) {
		return nil
	}

	next := event.Event{
		Type: event.CheckoutDismissed,
		Payload: event.CheckoutDismissedPayload{
			SessionID: payload.SessionID,
			Owner:     payload.Owner,
		},
	}

	time.AfterFunc(d.Delay, func() {
		d.release(payload.SessionID)
		if err := d.Publisher.Publish(next); err != nil && d.Logger != nil {
			d.Logger.Error("dismiss publish failed", map[string]any{
				"session-id": payload.SessionID,
				"error":      err.Error(),
			})
		}
	})

	return nil
}

func (d *DismissScheduler) claim(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduled == nil {
		d.scheduled = make(map[string]struct{})
	}
	if _, ok := d.scheduled[sessionID]; ok {
		return false
	}
	d.scheduled[sessionID] = struct{}{}
	return true
}

func (d *DismissScheduler) release(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.scheduled, sessionID)
}
