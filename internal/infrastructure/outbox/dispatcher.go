package outbox

import (
	"context"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/contracts"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
)

type Dispatcher struct {
	Repo         Repository
	EventBus     contracts.EventPublisher
	PollInterval time.Duration
	BatchSize    int
	Logger       logging.Logger
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchOnce()
		}
	}
}

// DispatchOnce publishes one batch. An event whose publish fails stays
// unpublished and is retried on the next tick.
func (d *Dispatcher) DispatchOnce() int {
	events, err := d.Repo.FindUnpublished(d.BatchSize)
	if err != nil {
		d.logger().Error("outbox read failed", map[string]any{"error": err.Error()})
		return 0
	}

	published := 0
	for _, evt := range events {
		payload, err := event.DecodePayload(evt.Type, evt.Payload)
		if err != nil {
			d.logger().Error("outbox decode failed", map[string]any{
				"event-id": evt.ID,
				"type":     string(evt.Type),
				"error":    err.Error(),
			})
			// an undecodable row would block the batch forever
			if err := d.Repo.MarkPublished(evt.ID); err != nil {
				d.logger().Error("outbox mark failed", map[string]any{
					"event-id": evt.ID,
					"error":    err.Error(),
				})
			}
			continue
		}

		if err := d.EventBus.Publish(event.Event{Type: evt.Type, Payload: payload}); err != nil {
			d.logger().Warn("outbox publish failed", map[string]any{
				"event-id": evt.ID,
				"type":     string(evt.Type),
				"error":    err.Error(),
			})
			continue
		}

		if err := d.Repo.MarkPublished(evt.ID); err != nil {
			d.logger().Error("outbox mark failed", map[string]any{
				"event-id": evt.ID,
				"error":    err.Error(),
			})
			continue
		}
		published++
	}

	return published
}

func (d *Dispatcher) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NopLogger{}
	}
	return d.Logger
}
