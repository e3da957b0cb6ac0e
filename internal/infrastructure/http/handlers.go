package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	subscriptionApplication "github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/phone"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/metrics"
)

const defaultHistoryLimit = 20

type CheckoutHandler struct {
	Sessions      *SessionManager
	History       payment.Repository
	Subscriptions *subscriptionApplication.Service
	Metrics       *metrics.Counters
	Logger        logging.Logger
}

type StartCheckoutRequest struct {
	RefKind     payment.RefKind `json:"ref_kind"`
	RefID       string          `json:"ref_id"`
	PhoneNumber string          `json:"phone_number"`
}

type RetryRequest struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	Resubmit    bool   `json:"resubmit,omitempty"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	payment.Attempt
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized, err := phone.Validate(req.PhoneNumber)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ref := payment.Ref{Kind: req.RefKind, ID: req.RefID}
	if !ref.Valid() {
		writeError(w, http.StatusUnprocessableEntity, checkout.ErrMissingReference.Error())
		return
	}

	params := checkout.Params{
		Owner:      OwnerFrom(r.Context()),
		Ref:        ref,
		Phone:      normalized,
		Credential: CredentialFrom(r.Context()),
	}

	start := h.Sessions.Start
	if params.Owner == AnonymousOwner {
		start = h.Sessions.Detached
	}

	flow, err := start(params)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	if params.Owner == AnonymousOwner {
		defer flow.ForceClose()
	}

	if err := flow.Initiate(r.Context()); err != nil {
		h.writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot(flow))
}

func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	flow, err := h.Sessions.Get(OwnerFrom(r.Context()))
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot(flow))
}

func (h *CheckoutHandler) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	flow, err := h.Sessions.Get(OwnerFrom(r.Context()))
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	if err := flow.Retry(req.PhoneNumber); err != nil {
		h.writeFlowError(w, err)
		return
	}

	if req.Resubmit {
		if err := flow.Initiate(r.Context()); err != nil {
			h.writeFlowError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, snapshot(flow))
}

func (h *CheckoutHandler) CloseCheckout(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.Sessions.Close(OwnerFrom(r.Context()), force); err != nil {
		h.writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.History.ListByOwner(OwnerFrom(r.Context()), limit)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	if records == nil {
		records = []payment.Record{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *CheckoutHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())

	sub, err := h.Subscriptions.Current(owner)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		if credential := CredentialFrom(r.Context()); credential != "" {
			sub, err = h.Subscriptions.Refresh(r.Context(), owner, credential)
		}
	}
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *CheckoutHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

func (h *CheckoutHandler) writeFlowError(w http.ResponseWriter, err error) {
	var validationErr *phone.ValidationError

	switch {
	case errors.As(err, &validationErr), errors.Is(err, checkout.ErrMissingReference):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSessionBusy),
		errors.Is(err, checkout.ErrDismissBlocked),
		errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoSession),
		errors.Is(err, subscription.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		if h.Logger != nil {
			h.Logger.Error("checkout request failed", map[string]any{"error": err.Error()})
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func snapshot(flow *checkout.Flow) CheckoutResponse {
	return CheckoutResponse{SessionID: flow.SessionID(), Attempt: flow.Snapshot()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
