package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	domainSubscription "github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/persistence/inmemory"
)

type fakeAPI struct {
	currentFn func(ctx context.Context, credential string) (domainSubscription.Subscription, error)
}

func (f *fakeAPI) CurrentSubscription(ctx context.Context, credential string) (domainSubscription.Subscription, error) {
	return f.currentFn(ctx, credential)
}

type fakeCredentials map[string]string

func (f fakeCredentials) Credential(owner string) (string, bool) {
	c, ok := f[owner]
	return c, ok
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(api *fakeAPI) *subscription.Service {
	return &subscription.Service{
		API:  api,
		Repo: inmemory.NewSubscriptionRepository(),
		Now:  func() time.Time { return fixedNow },
	}
}

func TestService_Refresh_CachesRemoteSubscription(t *testing.T) {
	svc := newService(&fakeAPI{
		currentFn: func(_ context.Context, credential string) (domainSubscription.Subscription, error) {
			require.Equal(t, "tok", credential)
			return domainSubscription.Subscription{
				ID:     "sub-1",
				PlanID: "plan-1",
				Status: domainSubscription.StatusActive,
				Amount: decimal.NewFromInt(499),
			}, nil
		},
	})

	got, err := svc.Refresh(context.Background(), "user-1", "tok")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Owner)
	require.Equal(t, fixedNow, got.SyncedAt)

	cached, err := svc.Current("user-1")
	require.NoError(t, err)
	require.Equal(t, domainSubscription.StatusActive, cached.Status)
}

func TestService_Refresh_WhenRemoteHasNone_ShouldExpireCache(t *testing.T) {
	api := &fakeAPI{
		currentFn: func(context.Context, string) (domainSubscription.Subscription, error) {
			return domainSubscription.Subscription{ID: "sub-1", Status: domainSubscription.StatusActive}, nil
		},
	}
	svc := newService(api)

	_, err := svc.Refresh(context.Background(), "user-1", "tok")
	require.NoError(t, err)

	api.currentFn = func(context.Context, string) (domainSubscription.Subscription, error) {
		return domainSubscription.Subscription{}, domainSubscription.ErrSubscriptionNotFound
	}

	got, err := svc.Refresh(context.Background(), "user-1", "tok")
	require.NoError(t, err)
	require.Equal(t, domainSubscription.StatusExpired, got.Status)

	_, err = svc.Refresh(context.Background(), "user-2", "tok")
	require.ErrorIs(t, err, domainSubscription.ErrSubscriptionNotFound)
}

func TestService_Refresh_PropagatesBackendErrors(t *testing.T) {
	boom := errors.New("backend down")
	svc := newService(&fakeAPI{
		currentFn: func(context.Context, string) (domainSubscription.Subscription, error) {
			return domainSubscription.Subscription{}, boom
		},
	})

	_, err := svc.Refresh(context.Background(), "user-1", "tok")
	require.ErrorIs(t, err, boom)
}

func TestPaymentEventHandler_RefreshesOnSuccessOnly(t *testing.T) {
	calls := 0
	svc := newService(&fakeAPI{
		currentFn: func(context.Context, string) (domainSubscription.Subscription, error) {
			calls++
			return domainSubscription.Subscription{ID: "sub-1", Status: domainSubscription.StatusActive}, nil
		},
	})

	h := &subscription.PaymentEventHandler{
		Service:     svc,
		Credentials: fakeCredentials{"user-1": "tok"},
		Timeout:     time.Second,
	}

	require.NoError(t, h.Handle(event.Event{
		Type:    event.PaymentFailed,
		Payload: event.PaymentFailedPayload{Owner: "user-1"},
	}))
	require.Zero(t, calls)

	require.NoError(t, h.Handle(event.Event{
		Type:    event.PaymentSucceeded,
		Payload: event.PaymentSucceededPayload{Owner: "user-1", PaymentID: "p1"},
	}))
	require.Equal(t, 1, calls)

	require.NoError(t, h.Handle(event.Event{
		Type:    event.PaymentSucceeded,
		Payload: event.PaymentSucceededPayload{Owner: "ghost"},
	}))
	require.Equal(t, 1, calls)

	require.Error(t, h.Handle(event.Event{Type: event.PaymentSucceeded, Payload: "bad"}))
}

func TestPaymentEventHandler_WhenBackendDown_ShouldNotFailDelivery(t *testing.T) {
	calls := 0
	svc := newService(&fakeAPI{
		currentFn: func(context.Context, string) (domainSubscription.Subscription, error) {
			calls++
			return domainSubscription.Subscription{}, errors.New("backend down")
		},
	})

	h := &subscription.PaymentEventHandler{
		Service:     svc,
		Credentials: fakeCredentials{"user-1": "tok"},
	}

	evt := event.Event{
		Type:    event.PaymentSucceeded,
		Payload: event.PaymentSucceededPayload{Owner: "user-1", PaymentID: "p1"},
	}
	require.NoError(t, h.Handle(evt))
	require.Equal(t, 1, calls)

	_, err := svc.Current("user-1")
	require.Error(t, err, "nothing cached after a failed refresh")
}
