package event

type Type string

const (
	PaymentInitiated  Type = "PAYMENT_INITIATED"
	PaymentSucceeded  Type = "PAYMENT_SUCCEEDED"
	PaymentFailed     Type = "PAYMENT_FAILED"
	PaymentTimedOut   Type = "PAYMENT_TIMED_OUT"
	CheckoutDismissed Type = "CHECKOUT_DISMISSED"
)

type Event struct {
	Type    Type
	Payload any
}
