package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Save(s *subscription.Subscription) error {
	var expires any
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.UTC()
	}

	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO subscriptions
		 (owner, id, plan_id, plan_name, status, amount, expires_at, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Owner,
		s.ID,
		s.PlanID,
		s.PlanName,
		string(s.Status),
		s.Amount.String(),
		expires,
		s.SyncedAt.UTC(),
	)
	return err
}

func (r *SubscriptionRepository) FindByOwner(owner string) (*subscription.Subscription, error) {
	row := r.db.QueryRow(
		`SELECT owner, id, plan_id, plan_name, status, amount, expires_at, synced_at
		 FROM subscriptions
		 WHERE owner = ?`,
		owner,
	)

	var s subscription.Subscription
	var status, amount string
	var expires sql.NullTime

	if err := row.Scan(
		&s.Owner,
		&s.ID,
		&s.PlanID,
		&s.PlanName,
		&status,
		&amount,
		&expires,
		&s.SyncedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}

	s.Status = subscription.Status(status)
	s.Amount = dec
	if expires.Valid {
		s.ExpiresAt = expires.Time
	}
	s.SyncedAt = s.SyncedAt.In(time.UTC)
	return &s, nil
}
