package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
)

// Recorder stores events for the Dispatcher instead of publishing them inline.
type Recorder struct {
	Repo Repository
}

func (r *Recorder) Record(evt event.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", evt.Type, err)
	}

	return r.Repo.Save(OutboxEvent{
		ID:        uuid.NewString(),
		Type:      evt.Type,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
