package inmemory

import (
	"sync"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
)

type SubscriptionRepository struct {
	mu      sync.RWMutex
	byOwner map[string]*subscription.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		byOwner: make(map[string]*subscription.Subscription),
	}
}

func (r *SubscriptionRepository) Save(s *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *s
	r.byOwner[s.Owner] = &cp
	return nil
}

func (r *SubscriptionRepository) FindByOwner(owner string) (*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byOwner[owner]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}

	cp := *s
	return &cp, nil
}
