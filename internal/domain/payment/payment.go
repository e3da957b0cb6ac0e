package payment

import "time"

type Status string

const (
	StatusIdle                 Status = "idle"
	StatusInitiating           Status = "initiating"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusSucceeded            Status = "succeeded"
	StatusFailed               Status = "failed"
	StatusTimedOut             Status = "timed_out"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Busy reports whether a network round trip or a poll is in flight.
func (s Status) Busy() bool {
	return s == StatusInitiating || s == StatusAwaitingConfirmation
}

type RefKind string

const (
	RefPlan         RefKind = "plan"
	RefSubscription RefKind = "subscription"
)

// Ref identifies what is being paid for.
type Ref struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

func (r Ref) Valid() bool {
	if r.ID == "" {
		return false
	}
	return r.Kind == RefPlan || r.Kind == RefSubscription
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

// RemoteStatus is the status reported by the backend status lookup.
type RemoteStatus string

const (
	RemotePending    RemoteStatus = "pending"
	RemoteProcessing RemoteStatus = "processing"
	RemoteCompleted  RemoteStatus = "completed"
	RemoteFailed     RemoteStatus = "failed"
)

// Attempt is a point-in-time copy of one payment attempt.
type Attempt struct {
	ID           string    `json:"attempt_id"`
	Ref          Ref       `json:"ref"`
	Phone        string    `json:"phone_number"`
	PaymentID    string    `json:"payment_id,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	AttemptsMade int       `json:"attempts_made"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Record is one row of the local payment history.
type Record struct {
	PaymentID string    `json:"payment_id"`
	AttemptID string    `json:"attempt_id"`
	Owner     string    `json:"owner"`
	Ref       Ref       `json:"ref"`
	Phone     string    `json:"phone_number"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Polls     int       `json:"polls"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
