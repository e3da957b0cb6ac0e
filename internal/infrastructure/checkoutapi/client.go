package checkoutapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
)

const (
	DefaultInitiatePath     = "/payments/mpesa/initiate"
	DefaultStatusPath       = "/payments/{payment_id}/status"
	DefaultSubscriptionPath = "/subscriptions/current"

	paymentIDPlaceholder = "{payment_id}"
	maxBodyBytes         = 1 << 20
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

type Paths struct {
	Initiate     string
	Status       string
	Subscription string
}

func DefaultPaths() Paths {
	return Paths{
		Initiate:     DefaultInitiatePath,
		Status:       DefaultStatusPath,
		Subscription: DefaultSubscriptionPath,
	}
}

// Client talks to the checkout backend. A zero Timeout leaves the
// transport default in place.
type Client struct {
	baseURL string
	paths   Paths
	http    *http.Client
}

func NewClient(baseURL string, paths Paths, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   paths,
		http:    &http.Client{Timeout: timeout},
	}
}

type initiateRequest struct {
	PlanID         string `json:"plan_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	PhoneNumber    string `json:"phone_number"`
}

type initiateResponse struct {
	PaymentID string              `json:"payment_id"`
	Amount    decimal.NullDecimal `json:"amount"`
	Status    string              `json:"status"`
}

type statusResponse struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

type subscriptionResponse struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"plan_id"`
	PlanName  string          `json:"plan_name"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt *time.Time      `json:"expires_at"`
}

// errorBody covers both failure shapes the backend sends.
type errorBody struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	switch v := b.Error.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func (c *Client) Initiate(ctx context.Context, credential string, req payment.InitiateRequest) (payment.InitiateResult, error) {
	body := initiateRequest{PhoneNumber: req.Phone}
	switch req.Ref.Kind {
	case payment.RefSubscription:
		body.SubscriptionID = req.Ref.ID
	default:
		body.PlanID = req.Ref.ID
	}

	status, raw, err := c.do(ctx, http.MethodPost, c.paths.Initiate, credential, body)
	if err != nil {
		return payment.InitiateResult{}, &payment.InitiationError{Err: err}
	}

	if status < 200 || status > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return payment.InitiateResult{}, &payment.InitiationError{
			StatusCode: status,
			Message:    eb.text(),
			Err:        ErrUnexpectedStatus,
		}
	}

	var resp initiateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payment.InitiateResult{}, &payment.InitiationError{
			StatusCode: status,
			Err:        fmt.Errorf("decode initiate response: %w", err),
		}
	}

	return payment.InitiateResult{
		PaymentID: resp.PaymentID,
		Amount:    resp.Amount,
		Status:    resp.Status,
	}, nil
}

func (c *Client) Status(ctx context.Context, credential, paymentID string) (payment.StatusResult, error) {
	path := strings.ReplaceAll(c.paths.Status, paymentIDPlaceholder, url.PathEscape(paymentID))

	status, raw, err := c.do(ctx, http.MethodGet, path, credential, nil)
	if err != nil {
		return payment.StatusResult{}, &payment.PollError{PaymentID: paymentID, Err: err}
	}
	if status < 200 || status > 299 {
		return payment.StatusResult{}, &payment.PollError{PaymentID: paymentID, StatusCode: status}
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return payment.StatusResult{}, &payment.PollError{
			PaymentID:  paymentID,
			StatusCode: status,
			Err:        fmt.Errorf("decode status response: %w", err),
		}
	}

	return payment.StatusResult{
		Status:        payment.RemoteStatus(strings.ToLower(resp.Status)),
		FailureReason: resp.FailureReason,
	}, nil
}

// CurrentSubscription returns the caller's subscription, or
// subscription.ErrSubscriptionNotFound when the backend has none.
func (c *Client) CurrentSubscription(ctx context.Context, credential string) (subscription.Subscription, error) {
	status, raw, err := c.do(ctx, http.MethodGet, c.paths.Subscription, credential, nil)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if status == http.StatusNotFound {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	if status < 200 || status > 299 {
		return subscription.Subscription{}, fmt.Errorf("current subscription: %w (%d)", ErrUnexpectedStatus, status)
	}

	var resp subscriptionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return subscription.Subscription{}, fmt.Errorf("decode subscription response: %w", err)
	}

	s := subscription.Subscription{
		ID:       resp.ID,
		PlanID:   resp.PlanID,
		PlanName: resp.PlanName,
		Status:   subscription.Status(resp.Status),
		Amount:   resp.Amount,
	}
	if resp.ExpiresAt != nil {
		s.ExpiresAt = *resp.ExpiresAt
	}
	return s, nil
}

func (c *Client) do(ctx context.Context, method, path, credential string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}

	return resp.StatusCode, raw, nil
}
