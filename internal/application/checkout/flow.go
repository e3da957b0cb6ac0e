package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/contracts"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/worker"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/phone"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/metrics"
)

type Gateway interface {
	Initiate(ctx context.Context, credential string, req payment.InitiateRequest) (payment.InitiateResult, error)
	Status(ctx context.Context, credential, paymentID string) (payment.StatusResult, error)
}

type Params struct {
	SessionID  string
	Owner      string
	Ref        payment.Ref
	Phone      string
	Credential string
}

type Deps struct {
	Gateway  Gateway
	Recorder contracts.EventRecorder
	History  payment.Repository
	Logger   logging.Logger
	Metrics  *metrics.Counters
}

// Flow drives one mobile-money push from initiation to a terminal state.
// All state lives behind mu and is changed only by Flow's own methods;
// callers observe it through Snapshot.
type Flow struct {
	sessionID  string
	owner      string
	credential string
	cfg        Config

	gateway  Gateway
	recorder contracts.EventRecorder
	history  payment.Repository
	logger   logging.Logger
	metrics  *metrics.Counters

	mu      sync.Mutex
	attempt payment.Attempt
	// generation changes whenever the current attempt is superseded; responses
	// carrying an older generation are dropped.
	generation uint64
	closed     bool
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	// settled is closed when the current attempt ends or the flow closes.
	settled chan struct{}
}

func NewFlow(p Params, d Deps, cfg Config) (*Flow, error) {
	if d.Gateway == nil {
		return nil, errors.New("checkout gateway is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if d.Logger == nil {
		d.Logger = logging.NopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = &metrics.Counters{}
	}

	f := &Flow{
		sessionID:  p.SessionID,
		owner:      p.Owner,
		credential: p.Credential,
		cfg:        cfg,
		gateway:    d.Gateway,
		recorder:   d.Recorder,
		history:    d.History,
		logger:     d.Logger,
		metrics:    d.Metrics,
		settled:    make(chan struct{}),
	}
	f.attempt = f.newAttempt(p.Ref, p.Phone)

	return f, nil
}

func (f *Flow) SessionID() string {
	return f.sessionID
}

func (f *Flow) Owner() string {
	return f.owner
}

func (f *Flow) Snapshot() payment.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempt
}

func (f *Flow) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Done returns a channel closed once the current attempt reaches a terminal
// state or the flow is closed. Retry starts a new attempt with a new channel.
func (f *Flow) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Validate normalizes a raw phone number without touching the flow.
func (f *Flow) Validate(raw string) (string, error) {
	return phone.Validate(raw)
}

// SetPhone replaces the number to be charged. Only allowed while idle.
func (f *Flow) SetPhone(raw string) error {
	normalized, err := phone.Validate(raw)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.attempt.Status != payment.StatusIdle {
		return fmt.Errorf("%w: set phone while %s", ErrInvalidTransition, f.attempt.Status)
	}

	f.attempt.Phone = normalized
	return nil
}

// Initiate sends the payment push and, once the backend hands back a payment
// id, starts polling for confirmation. Local rejections (bad phone, missing
// reference, wrong state) are returned and leave the flow idle. Remote
// failures are not returned: they move the flow to failed.
func (f *Flow) Initiate(ctx context.Context) error {
	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.attempt.Status != payment.StatusIdle {
		status := f.attempt.Status
		f.mu.Unlock()
		return fmt.Errorf("%w: initiate while %s", ErrInvalidTransition, status)
	}

	normalized, err := phone.Validate(f.attempt.Phone)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.attempt.Ref.Valid() {
		f.mu.Unlock()
		return ErrMissingReference
	}
	f.attempt.Phone = normalized

	if f.credential == "" {
		evt := f.failLocked(MsgNotAuthenticated, false)
		f.mu.Unlock()
		f.metrics.IncInitiationFailed()
		f.emit(evt)
		return nil
	}

	f.setStatusLocked(payment.StatusInitiating)
	gen := f.generation
	req := payment.InitiateRequest{Ref: f.attempt.Ref, Phone: normalized}
	attemptID := f.attempt.ID
	f.mu.Unlock()

	f.logger.Info("initiating payment", map[string]any{
		"session-id": f.sessionID,
		"attempt-id": attemptID,
		"ref":        req.Ref.String(),
	})

	res, err := f.gateway.Initiate(ctx, f.credential, req)
	if err == nil && res.PaymentID == "" {
		err = &payment.InitiationError{Err: errors.New("response carried no payment id")}
	}

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		f.logger.Debug("dropping initiation response for superseded attempt", map[string]any{
			"session-id": f.sessionID,
			"attempt-id": attemptID,
		})
		return nil
	}

	if err != nil {
		evt := f.failLocked(initiationMessage(err), false)
		f.mu.Unlock()

		f.metrics.IncInitiationFailed()
		f.logger.Error("payment initiation failed", map[string]any{
			"session-id": f.sessionID,
			"attempt-id": attemptID,
			"error":      err.Error(),
		})
		f.emit(evt)
		return nil
	}

	f.attempt.PaymentID = res.PaymentID
	f.attempt.AttemptsMade = 0
	f.setStatusLocked(payment.StatusAwaitingConfirmation)
	f.saveHistoryLocked()
	launch := f.startPollLocked(gen, res.PaymentID)
	evt := event.Event{
		Type: event.PaymentInitiated,
		Payload: event.PaymentInitiatedPayload{
			SessionID: f.sessionID,
			Owner:     f.owner,
			AttemptID: attemptID,
			PaymentID: res.PaymentID,
			Ref:       f.attempt.Ref,
		},
	}
	f.mu.Unlock()

	f.metrics.IncInitiated()
	f.logger.Info("payment initiated, awaiting confirmation", map[string]any{
		"session-id": f.sessionID,
		"attempt-id": attemptID,
		"payment-id": res.PaymentID,
	})

	// the initiated event goes out before any poll result can
	f.emit(&evt)
	launch()

	return nil
}

// Retry abandons the current attempt and returns to idle with a fresh one.
// It is refused while the initiation request is outstanding and after
// success. An optional phone number replaces the one used before. Retry
// waits for the previous poller to exit before returning.
func (f *Flow) Retry(newPhone ...string) error {
	var normalized string
	if len(newPhone) > 0 && newPhone[0] != "" {
		var err error
		if normalized, err = phone.Validate(newPhone[0]); err != nil {
			return err
		}
	}

	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	switch f.attempt.Status {
	case payment.StatusSucceeded:
		f.mu.Unlock()
		return fmt.Errorf("%w: retry after success", ErrInvalidTransition)
	case payment.StatusInitiating:
		// the push may already be on its way to the phone
		f.mu.Unlock()
		return fmt.Errorf("%w: retry while initiating", ErrInvalidTransition)
	}

	f.generation++
	done := f.stopPollLocked()

	ph := f.attempt.Phone
	if normalized != "" {
		ph = normalized
	}
	previous := f.attempt.ID
	f.attempt = f.newAttempt(f.attempt.Ref, ph)
	f.settleLocked()
	f.settled = make(chan struct{})
	f.mu.Unlock()

	if done != nil {
		<-done
	}

	f.logger.Info("payment attempt reset", map[string]any{
		"session-id":       f.sessionID,
		"previous-attempt": previous,
	})

	return nil
}

// Close dismisses the flow. It is refused while a request or poll is in flight.
func (f *Flow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	if f.attempt.Status.Busy() {
		return ErrDismissBlocked
	}

	f.closed = true
	f.stopPollLocked()
	f.settleLocked()
	return nil
}

// ForceClose dismisses the flow whatever its state, as when the host navigates
// away. Any poller is stopped before ForceClose returns and any in-flight
// response is dropped.
func (f *Flow) ForceClose() {
	f.mu.Lock()
	if f.closed && f.pollDone == nil {
		f.mu.Unlock()
		return
	}

	f.closed = true
	f.generation++
	done := f.stopPollLocked()
	f.pollDone = nil
	f.settleLocked()
	status := f.attempt.Status
	f.mu.Unlock()

	if done != nil {
		<-done
	}

	f.logger.Info("checkout force closed", map[string]any{
		"session-id": f.sessionID,
		"status":     string(status),
	})
}

// startPollLocked prepares the poller for the current attempt and returns the
// function that launches it. The new poller does not start ticking until the
// previous one has exited, so two pollers never run at once.
func (f *Flow) startPollLocked(gen uint64, paymentID string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	prev := f.pollDone
	done := make(chan struct{})

	f.cancelPoll = cancel
	f.pollDone = done

	return func() {
		go f.poll(ctx, prev, done, gen, paymentID)
	}
}

// stopPollLocked cancels the running poller, if any, and returns the channel
// closed when it exits.
func (f *Flow) stopPollLocked() <-chan struct{} {
	if f.cancelPoll != nil {
		f.cancelPoll()
		f.cancelPoll = nil
	}
	return f.pollDone
}

func (f *Flow) poll(ctx context.Context, prev <-chan struct{}, done chan struct{}, gen uint64, paymentID string) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	poller := &worker.StatusPoller{
		Interval:    f.cfg.PollInterval,
		MaxAttempts: f.cfg.MaxPolls,
		Logger:      f.logger,
	}

	outcome := poller.Run(ctx, f.checkStatus(gen, paymentID))
	if outcome != worker.OutcomeExhausted {
		return
	}

	f.mu.Lock()
	if gen != f.generation || f.attempt.Status != payment.StatusAwaitingConfirmation {
		f.mu.Unlock()
		return
	}
	evt := f.failLocked(MsgTimedOut, true)
	polls := f.attempt.AttemptsMade
	f.mu.Unlock()

	f.metrics.IncTimedOut()
	f.logger.Warn("payment confirmation timed out", map[string]any{
		"session-id": f.sessionID,
		"payment-id": paymentID,
		"polls":      polls,
	})
	f.emit(evt)
}

func (f *Flow) checkStatus(gen uint64, paymentID string) worker.CheckFunc {
	return func(ctx context.Context, n int) bool {
		f.mu.Lock()
		if gen != f.generation || f.attempt.Status != payment.StatusAwaitingConfirmation {
			f.mu.Unlock()
			return true
		}
		f.attempt.AttemptsMade = n
		f.mu.Unlock()

		f.metrics.IncPolls()
		res, err := f.gateway.Status(ctx, f.credential, paymentID)

		f.mu.Lock()
		if gen != f.generation || f.attempt.Status != payment.StatusAwaitingConfirmation {
			f.mu.Unlock()
			return true
		}

		if err != nil {
			f.mu.Unlock()
			if ctx.Err() == nil {
				f.metrics.IncPollErrors()
				f.logger.Warn("payment status check failed", map[string]any{
					"session-id": f.sessionID,
					"payment-id": paymentID,
					"poll":       n,
					"error":      err.Error(),
				})
			}
			return false
		}

		switch res.Status {
		case payment.RemoteCompleted:
			evt := f.succeedLocked()
			f.mu.Unlock()

			f.metrics.IncSucceeded()
			f.logger.Info("payment confirmed", map[string]any{
				"session-id": f.sessionID,
				"payment-id": paymentID,
				"poll":       n,
			})
			f.emit(evt)
			return true

		case payment.RemoteFailed:
			reason := res.FailureReason
			if reason == "" {
				reason = MsgPaymentFailed
			}
			evt := f.failLocked(reason, false)
			f.mu.Unlock()

			f.metrics.IncFailed()
			f.logger.Info("payment rejected", map[string]any{
				"session-id": f.sessionID,
				"payment-id": paymentID,
				"reason":     reason,
			})
			f.emit(evt)
			return true
		}

		f.mu.Unlock()
		return false
	}
}

func (f *Flow) succeedLocked() *event.Event {
	f.setStatusLocked(payment.StatusSucceeded)
	f.attempt.ErrorMessage = ""
	f.releasePollLocked()
	f.updateHistoryLocked()
	f.settleLocked()

	return &event.Event{
		Type: event.PaymentSucceeded,
		Payload: event.PaymentSucceededPayload{
			SessionID: f.sessionID,
			Owner:     f.owner,
			AttemptID: f.attempt.ID,
			PaymentID: f.attempt.PaymentID,
			Ref:       f.attempt.Ref,
		},
	}
}

func (f *Flow) failLocked(msg string, timedOut bool) *event.Event {
	status, typ := payment.StatusFailed, event.PaymentFailed
	if timedOut {
		status, typ = payment.StatusTimedOut, event.PaymentTimedOut
	}

	f.setStatusLocked(status)
	f.attempt.ErrorMessage = msg
	f.releasePollLocked()
	f.updateHistoryLocked()
	f.settleLocked()

	return &event.Event{
		Type: typ,
		Payload: event.PaymentFailedPayload{
			SessionID: f.sessionID,
			Owner:     f.owner,
			AttemptID: f.attempt.ID,
			PaymentID: f.attempt.PaymentID,
			Ref:       f.attempt.Ref,
			Reason:    msg,
			TimedOut:  timedOut,
		},
	}
}

// releasePollLocked cancels the poll context without forgetting the done
// channel; it runs on the poller's own goroutine, which must not wait on it.
func (f *Flow) releasePollLocked() {
	if f.cancelPoll != nil {
		f.cancelPoll()
		f.cancelPoll = nil
	}
}

func (f *Flow) settleLocked() {
	select {
	case <-f.settled:
	default:
		close(f.settled)
	}
}

func (f *Flow) setStatusLocked(s payment.Status) {
	f.attempt.Status = s
	f.attempt.UpdatedAt = time.Now().UTC()
}

func (f *Flow) newAttempt(ref payment.Ref, ph string) payment.Attempt {
	now := time.Now().UTC()
	return payment.Attempt{
		ID:        uuid.NewString(),
		Ref:       ref,
		Phone:     ph,
		Status:    payment.StatusIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (f *Flow) saveHistoryLocked() {
	if f.history == nil {
		return
	}

	rec := &payment.Record{
		PaymentID: f.attempt.PaymentID,
		AttemptID: f.attempt.ID,
		Owner:     f.owner,
		Ref:       f.attempt.Ref,
		Phone:     f.attempt.Phone,
		Status:    f.attempt.Status,
		CreatedAt: f.attempt.UpdatedAt,
		UpdatedAt: f.attempt.UpdatedAt,
	}
	if err := f.history.Save(rec); err != nil {
		f.logger.Error("saving payment history failed", map[string]any{
			"payment-id": f.attempt.PaymentID,
			"error":      err.Error(),
		})
	}
}

func (f *Flow) updateHistoryLocked() {
	if f.history == nil || f.attempt.PaymentID == "" {
		return
	}

	err := f.history.UpdateStatus(f.attempt.PaymentID, f.attempt.Status, f.attempt.ErrorMessage, f.attempt.AttemptsMade)
	if err != nil {
		f.logger.Error("updating payment history failed", map[string]any{
			"payment-id": f.attempt.PaymentID,
			"error":      err.Error(),
		})
	}
}

func (f *Flow) emit(evt *event.Event) {
	if f.recorder == nil || evt == nil {
		return
	}
	if err := f.recorder.Record(*evt); err != nil {
		f.logger.Error("recording checkout event failed", map[string]any{
			"session-id": f.sessionID,
			"event":      string(evt.Type),
			"error":      err.Error(),
		})
	}
}

func initiationMessage(err error) string {
	var iErr *payment.InitiationError
	if errors.As(err, &iErr) && iErr.Message != "" {
		return iErr.Message
	}
	return MsgInitiateFailed
}
