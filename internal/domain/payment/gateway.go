package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	Ref   Ref
	Phone string
}

type InitiateResult struct {
	PaymentID string
	Amount    decimal.NullDecimal
	Status    string
}

type StatusResult struct {
	Status        RemoteStatus
	FailureReason string
}

// InitiationError is a rejected or undeliverable initiation request. Message
// carries the backend's explanation when it sent one.
type InitiationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *InitiationError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("initiate payment: %s (status %d)", e.Message, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("initiate payment: %v", e.Err)
	}
	return fmt.Sprintf("initiate payment: unexpected status %d", e.StatusCode)
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}

// PollError is a failed status lookup. It never ends polling by itself.
type PollError struct {
	PaymentID  string
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment %s status: %v", e.PaymentID, e.Err)
	}
	return fmt.Sprintf("payment %s status: unexpected status %d", e.PaymentID, e.StatusCode)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
