package checkout

import "errors"

var (
	ErrMissingReference  = errors.New("plan or subscription reference is required")
	ErrInvalidTransition = errors.New("invalid checkout transition")
	ErrDismissBlocked    = errors.New("checkout cannot be closed while a payment is in flight")
	ErrClosed            = errors.New("checkout is closed")
)

// Messages shown to the payer on terminal states.
const (
	MsgNotAuthenticated = "not authenticated"
	MsgInitiateFailed   = "Failed to initiate payment. Please try again."
	MsgPaymentFailed    = "Payment failed. Please try again."
	MsgTimedOut         = "Payment is taking longer than expected. Please check your payment history."
)
