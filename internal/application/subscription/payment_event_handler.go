package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
)

// CredentialSource returns the credential of an owner's live checkout session.
type CredentialSource interface {
	Credential(owner string) (string, bool)
}

// PaymentEventHandler refreshes the owner's subscription after a payment
// goes through. A failed refresh is logged and not returned: the payment
// event has been delivered and the cache catches up on the next read.
type PaymentEventHandler struct {
	Service     *Service
	Credentials CredentialSource
	Timeout     time.Duration
}

func (h *PaymentEventHandler) Handle(evt event.Event) error {
	if evt.Type != event.PaymentSucceeded {
		return nil
	}

	payload, ok := evt.Payload.(event.PaymentSucceededPayload)
	if !ok {
		return errors.New("invalid payload for PaymentSucceeded")
	}

	credential, ok := h.Credentials.Credential(payload.Owner)
	if !ok {
		h.Service.logger().Warn("no session to refresh subscription", map[string]any{
			"owner":      payload.Owner,
			"payment-id": payload.PaymentID,
		})
		return nil
	}

	ctx := context.Background()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	if _, err := h.Service.Refresh(ctx, payload.Owner, credential); err != nil {
		h.Service.logger().Warn("subscription refresh failed", map[string]any{
			"owner":      payload.Owner,
			"payment-id": payload.PaymentID,
			"error":      err.Error(),
		})
	}
	return nil
}
