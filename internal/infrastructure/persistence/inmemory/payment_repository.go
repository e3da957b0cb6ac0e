package inmemory

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*payment.Record
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		mu:       sync.RWMutex{},
		payments: make(map[string]*payment.Record),
	}
}

func (r *PaymentRepository) Save(rec *payment.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	r.payments[rec.PaymentID] = &cp
	return nil
}

func (r *PaymentRepository) UpdateStatus(paymentID string, status payment.Status, message string, polls int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.payments[paymentID]
	if !ok {
		return payment.ErrRecordNotFound
	}

	rec.Status = status
	rec.Message = message
	rec.Polls = polls
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *PaymentRepository) FindByPaymentID(paymentID string) (*payment.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.payments[paymentID]
	if !ok {
		return nil, payment.ErrRecordNotFound
	}

	cp := *rec
	return &cp, nil
}

// ListByOwner returns the owner's records, newest first.
func (r *PaymentRepository) ListByOwner(owner string, limit int) ([]payment.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []payment.Record
	for _, rec := range r.payments {
		if rec.Owner == owner {
			out = append(out, *rec)
		}
	}

	slices.SortFunc(out, func(a, b payment.Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepository) Payments() map[string]*payment.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.payments)
}
