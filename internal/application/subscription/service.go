package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainSubscription "github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
)

type API interface {
	CurrentSubscription(ctx context.Context, credential string) (domainSubscription.Subscription, error)
}

// Service keeps a local copy of each owner's subscription in sync with the
// backend.
type Service struct {
	API    API
	Repo   domainSubscription.Repository
	Logger logging.Logger
	Now    func() time.Time
}

// Refresh pulls the owner's subscription from the backend and caches it.
// When the backend has none the cached copy, if any, is marked expired.
func (s *Service) Refresh(ctx context.Context, owner, credential string) (*domainSubscription.Subscription, error) {
	remote, err := s.API.CurrentSubscription(ctx, credential)
	if errors.Is(err, domainSubscription.ErrSubscriptionNotFound) {
		return s.expire(owner)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh subscription for %s: %w", owner, err)
	}

	remote.Owner = owner
	remote.SyncedAt = s.now()

	if err := s.Repo.Save(&remote); err != nil {
		return nil, err
	}

	s.logger().Info("subscription refreshed", map[string]any{
		"owner":  owner,
		"plan":   remote.PlanID,
		"status": string(remote.Status),
	})

	return &remote, nil
}

func (s *Service) Current(owner string) (*domainSubscription.Subscription, error) {
	return s.Repo.FindByOwner(owner)
}

func (s *Service) expire(owner string) (*domainSubscription.Subscription, error) {
	cached, err := s.Repo.FindByOwner(owner)
	if err != nil {
		return nil, err
	}

	cached.Status = domainSubscription.StatusExpired
	cached.SyncedAt = s.now()
	if err := s.Repo.Save(cached); err != nil {
		return nil, err
	}
	return cached, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *Service) logger() logging.Logger {
	if s.Logger == nil {
		return logging.NopLogger{}
	}
	return s.Logger
}
