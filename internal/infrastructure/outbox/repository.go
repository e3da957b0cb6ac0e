package outbox

import (
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
)

// OutboxEvent is a checkout event (payment initiated, succeeded, failed or
// timed out, checkout dismissed) waiting to be handed to the bus. Payload is
// the JSON form that event.DecodePayload turns back into a typed payload.
type OutboxEvent struct {
	ID        string
	Type      event.Type
	Payload   []byte
	Published bool
	CreatedAt time.Time
}

// Repository stores checkout events until the Dispatcher has published them.
// FindUnpublished returns oldest first.
type Repository interface {
	Save(OutboxEvent) error
	FindUnpublished(int) ([]OutboxEvent, error)
	MarkPublished(string) error
}
