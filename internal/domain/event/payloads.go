package event

import (
	"encoding/json"
	"fmt"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
)

type PaymentInitiatedPayload struct {
	SessionID string      `json:"session_id"`
	Owner     string      `json:"owner"`
	AttemptID string      `json:"attempt_id"`
	PaymentID string      `json:"payment_id"`
	Ref       payment.Ref `json:"ref"`
}

type PaymentSucceededPayload struct {
	SessionID string      `json:"session_id"`
	Owner     string      `json:"owner"`
	AttemptID string      `json:"attempt_id"`
	PaymentID string      `json:"payment_id"`
	Ref       payment.Ref `json:"ref"`
}

type PaymentFailedPayload struct {
	SessionID string      `json:"session_id"`
	Owner     string      `json:"owner"`
	AttemptID string      `json:"attempt_id"`
	PaymentID string      `json:"payment_id,omitempty"`
	Ref       payment.Ref `json:"ref"`
	Reason    string      `json:"reason"`
	TimedOut  bool        `json:"timed_out"`
}

type CheckoutDismissedPayload struct {
	SessionID string `json:"session_id"`
	Owner     string `json:"owner"`
}

// DecodePayload restores the typed payload of a serialized event.
func DecodePayload(typ Type, data []byte) (any, error) {
	switch typ {
	case PaymentInitiated:
		var p PaymentInitiatedPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case PaymentSucceeded:
		var p PaymentSucceededPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case PaymentFailed, PaymentTimedOut:
		var p PaymentFailedPayload
		err := json.Unmarshal(data, &p)
		return p, err
	case CheckoutDismissed:
		var p CheckoutDismissedPayload
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unknown event type %q", typ)
}
