package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	subscriptionApplication "github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/metrics"
	httpapi "github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/http"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/persistence/inmemory"
)

type fakeGateway struct {
	initiateFn    func(ctx context.Context, req payment.InitiateRequest) (payment.InitiateResult, error)
	statusFn      func(ctx context.Context, paymentID string) (payment.StatusResult, error)
	initiateCalls atomic.Int32
}

func (f *fakeGateway) Initiate(ctx context.Context, _ string, req payment.InitiateRequest) (payment.InitiateResult, error) {
	f.initiateCalls.Add(1)
	return f.initiateFn(ctx, req)
}

func (f *fakeGateway) Status(ctx context.Context, _ string, paymentID string) (payment.StatusResult, error) {
	return f.statusFn(ctx, paymentID)
}

type fakeSubscriptionAPI struct {
	currentFn func(ctx context.Context, credential string) (subscription.Subscription, error)
}

func (f *fakeSubscriptionAPI) CurrentSubscription(ctx context.Context, credential string) (subscription.Subscription, error) {
	return f.currentFn(ctx, credential)
}

type server struct {
	handler  http.Handler
	sessions *httpapi.SessionManager
	gateway  *fakeGateway
	history  *inmemory.PaymentRepository
}

func pending(context.Context, string) (payment.StatusResult, error) {
	return payment.StatusResult{Status: payment.RemotePending}, nil
}

func newServer(t *testing.T, gw *fakeGateway, ratePerMinute int) *server {
	t.Helper()

	history := inmemory.NewPaymentRepository()
	counters := &metrics.Counters{}

	sessions := httpapi.NewSessionManager(func(p checkout.Params) (*checkout.Flow, error) {
		return checkout.NewFlow(p, checkout.Deps{
			Gateway: gw,
			History: history,
			Metrics: counters,
		}, checkout.Config{PollInterval: 5 * time.Millisecond, MaxPolls: 10_000})
	}, nil)
	t.Cleanup(sessions.Shutdown)

	subs := &subscriptionApplication.Service{
		API: &fakeSubscriptionAPI{
			currentFn: func(context.Context, string) (subscription.Subscription, error) {
				return subscription.Subscription{ID: "sub-1", PlanID: "plan-1", Status: subscription.StatusActive}, nil
			},
		},
		Repo: inmemory.NewSubscriptionRepository(),
	}

	handler := &httpapi.CheckoutHandler{
		Sessions:      sessions,
		History:       history,
		Subscriptions: subs,
		Metrics:       counters,
	}

	return &server{
		handler:  httpapi.NewRouter(handler, httpapi.NewRateLimiter(ratePerMinute), httpapi.NewAuthenticator(testSecret)),
		sessions: sessions,
		gateway:  gw,
		history:  history,
	}
}

const testSecret = "test-secret"

func token(t *testing.T, sub string) string {
	t.Helper()
	return signedToken(t, jwt.MapClaims{"sub": sub}, testSecret)
}

func signedToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (s *server) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeCheckout(t *testing.T, rec *httptest.ResponseRecorder) httpapi.CheckoutResponse {
	t.Helper()
	var resp httpapi.CheckoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func startBody(phoneNumber string) httpapi.StartCheckoutRequest {
	return httpapi.StartCheckoutRequest{RefKind: payment.RefPlan, RefID: "plan-1", PhoneNumber: phoneNumber}
}

func initiatesAs(paymentID string) func(context.Context, payment.InitiateRequest) (payment.InitiateResult, error) {
	return func(context.Context, payment.InitiateRequest) (payment.InitiateResult, error) {
		return payment.InitiateResult{PaymentID: paymentID}, nil
	}
}

func TestStartCheckout_InvalidPhone_ShouldNotReachBackend(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodPost, "/checkout", token(t, "user-1"), startBody("12345"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid phone")
	assert.Zero(t, srv.gateway.initiateCalls.Load())
}

func TestStartCheckout_MissingReference(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodPost, "/checkout", token(t, "user-1"), httpapi.StartCheckoutRequest{
		RefKind:     payment.RefPlan,
		PhoneNumber: "0712345678",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStartCheckout_Lifecycle(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)
	tok := token(t, "user-1")

	rec := srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeCheckout(t, rec)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, payment.StatusAwaitingConfirmation, resp.Status)
	assert.Equal(t, "p1", resp.PaymentID)
	assert.Equal(t, "+254712345678", resp.Phone)

	rec = srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	assert.Equal(t, http.StatusConflict, rec.Code, "second checkout while awaiting")

	rec = srv.do(t, http.MethodGet, "/checkout", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resp.SessionID, decodeCheckout(t, rec).SessionID)

	rec = srv.do(t, http.MethodDelete, "/checkout", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "close is blocked while awaiting")

	rec = srv.do(t, http.MethodDelete, "/checkout?force=true", tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/checkout", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartCheckout_OwnersAreIndependent(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodPost, "/checkout", token(t, "user-1"), startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/checkout", token(t, "user-2"), startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartCheckout_RemoteRejection_ThenRetry(t *testing.T) {
	gw := &fakeGateway{
		initiateFn: func(context.Context, payment.InitiateRequest) (payment.InitiateResult, error) {
			return payment.InitiateResult{}, &payment.InitiationError{StatusCode: 402, Message: "insufficient balance"}
		},
		statusFn: pending,
	}
	srv := newServer(t, gw, 0)
	tok := token(t, "user-1")

	rec := srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeCheckout(t, rec)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Equal(t, "insufficient balance", resp.ErrorMessage)

	rec = srv.do(t, http.MethodPost, "/checkout/retry", tok, httpapi.RetryRequest{PhoneNumber: "0112345678"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp = decodeCheckout(t, rec)
	assert.Equal(t, payment.StatusIdle, resp.Status)
	assert.Empty(t, resp.ErrorMessage)
	assert.Equal(t, "+254112345678", resp.Phone)

	gw.initiateFn = initiatesAs("p2")
	rec = srv.do(t, http.MethodPost, "/checkout/retry", tok, httpapi.RetryRequest{Resubmit: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.StatusAwaitingConfirmation, decodeCheckout(t, rec).Status)
}

func TestStartCheckout_WithoutCredential_ShouldFailNotAuthenticated(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodPost, "/checkout", "", startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeCheckout(t, rec)
	assert.Equal(t, payment.StatusFailed, resp.Status)
	assert.Equal(t, checkout.MsgNotAuthenticated, resp.ErrorMessage)
	assert.Zero(t, srv.gateway.initiateCalls.Load())

	_, err := srv.sessions.Get(httpapi.AnonymousOwner)
	require.ErrorIs(t, err, httpapi.ErrNoSession, "anonymous attempts are not kept")

	rec = srv.do(t, http.MethodGet, "/checkout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthentication_RejectsForgedTokens(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodPost, "/checkout", token(t, "victim"), startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	forged := signedToken(t, jwt.MapClaims{"sub": "victim"}, "attacker-key")
	noSubject := signedToken(t, jwt.MapClaims{"name": "x"}, testSecret)
	anonymous := signedToken(t, jwt.MapClaims{"sub": httpapi.AnonymousOwner}, testSecret)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "victim"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, bearer := range []string{forged, noSubject, anonymous, unsigned, "not-a-jwt"} {
		for _, req := range []struct{ method, path string }{
			{http.MethodGet, "/checkout"},
			{http.MethodGet, "/checkout/history"},
			{http.MethodDelete, "/checkout?force=true"},
			{http.MethodPost, "/checkout"},
		} {
			rec := srv.do(t, req.method, req.path, bearer, startBody("0712345678"))
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", req.method, req.path)
			assert.NotContains(t, rec.Body.String(), "+254712345678")
		}
	}

	flow, err := srv.sessions.Get("victim")
	require.NoError(t, err)
	assert.False(t, flow.Closed())
	assert.Equal(t, payment.StatusAwaitingConfirmation, flow.Snapshot().Status)
	assert.Equal(t, int32(1), srv.gateway.initiateCalls.Load())
}

func TestRetryCheckout_WhileInitiating_ShouldConflict(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	gw := &fakeGateway{
		initiateFn: func(context.Context, payment.InitiateRequest) (payment.InitiateResult, error) {
			entered <- struct{}{}
			<-release
			return payment.InitiateResult{PaymentID: "p1"}, nil
		},
		statusFn: pending,
	}
	srv := newServer(t, gw, 0)
	tok := token(t, "user-1")

	started := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		started <- srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	}()
	<-entered

	rec := srv.do(t, http.MethodPost, "/checkout/retry", tok, httpapi.RetryRequest{Resubmit: true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	rec = <-started
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.StatusAwaitingConfirmation, decodeCheckout(t, rec).Status)
	assert.Equal(t, int32(1), gw.initiateCalls.Load())
}

func TestStartCheckout_RateLimited(t *testing.T) {
	gw := &fakeGateway{
		initiateFn: func(context.Context, payment.InitiateRequest) (payment.InitiateResult, error) {
			return payment.InitiateResult{}, errors.New("down")
		},
		statusFn: pending,
	}
	srv := newServer(t, gw, 1)
	tok := token(t, "user-1")

	rec := srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = srv.do(t, http.MethodPost, "/checkout", token(t, "user-2"), startBody("0712345678"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryAndSubscription(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)
	tok := token(t, "user-1")

	rec := srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/checkout/history", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []payment.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].PaymentID)
	assert.Equal(t, "user-1", records[0].Owner)

	rec = srv.do(t, http.MethodGet, "/checkout/history?limit=nope", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/subscription", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_id":"plan-1"`)

	rec = srv.do(t, http.MethodGet, "/subscription", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, &fakeGateway{initiateFn: initiatesAs("p1"), statusFn: pending}, 0)

	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionManager_HandleDismissed(t *testing.T) {
	srv := newServer(t, &fakeGateway{
		initiateFn: initiatesAs("p1"),
		statusFn: func(context.Context, string) (payment.StatusResult, error) {
			return payment.StatusResult{Status: payment.RemoteCompleted}, nil
		},
	}, 0)
	tok := token(t, "user-1")

	rec := srv.do(t, http.MethodPost, "/checkout", tok, startBody("0712345678"))
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decodeCheckout(t, rec).SessionID

	flow, err := srv.sessions.Get("user-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return flow.Snapshot().Status == payment.StatusSucceeded
	}, time.Second, time.Millisecond)

	require.NoError(t, srv.sessions.HandleDismissed(event.Event{
		Type:    event.CheckoutDismissed,
		Payload: event.CheckoutDismissedPayload{SessionID: "other", Owner: "user-1"},
	}))
	_, err = srv.sessions.Get("user-1")
	require.NoError(t, err, "a stale dismissal keeps the session")

	require.NoError(t, srv.sessions.HandleDismissed(event.Event{
		Type:    event.CheckoutDismissed,
		Payload: event.CheckoutDismissedPayload{SessionID: sessionID, Owner: "user-1"},
	}))
	_, err = srv.sessions.Get("user-1")
	require.ErrorIs(t, err, httpapi.ErrNoSession)
	assert.True(t, flow.Closed())

	cred, ok := srv.sessions.Credential("user-1")
	assert.False(t, ok)
	assert.Empty(t, cred)
}
