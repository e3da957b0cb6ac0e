package subscription

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusExpired Status = "expired"
)

type Subscription struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	PlanID    string          `json:"plan_id"`
	PlanName  string          `json:"plan_name"`
	Status    Status          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt time.Time       `json:"expires_at"`
	SyncedAt  time.Time       `json:"synced_at"`
}

type Repository interface {
	Save(*Subscription) error
	FindByOwner(owner string) (*Subscription, error)
}
