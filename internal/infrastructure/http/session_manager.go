package httpapi

import (
	"errors"
	"sync"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
)

var (
	ErrSessionBusy = errors.New("a payment is already in progress")
	ErrNoSession   = errors.New("no checkout session")
)

type FlowFactory func(checkout.Params) (*checkout.Flow, error)

type session struct {
	flow       *checkout.Flow
	credential string
}

// SessionManager keeps at most one live checkout flow per owner.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]session
	newFlow  FlowFactory
	logger   logging.Logger
}

func NewSessionManager(newFlow FlowFactory, logger logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &SessionManager{
		sessions: make(map[string]session),
		newFlow:  newFlow,
		logger:   logger,
	}
}

// Start opens a new flow for the owner. A previous flow that is not in flight
// is force closed and replaced.
func (m *SessionManager) Start(p checkout.Params) (*checkout.Flow, error) {
	m.mu.Lock()

	prev, ok := m.sessions[p.Owner]
	if ok && !prev.flow.Closed() && prev.flow.Snapshot().Status.Busy() {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}

	flow, err := m.newFlow(p)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[p.Owner] = session{flow: flow, credential: p.Credential}
	m.mu.Unlock()

	// outside the lock: the old poller may still be delivering events that
	// call back into the manager
	if ok {
		prev.flow.ForceClose()
	}

	m.logger.Info("checkout session started", map[string]any{
		"owner":      p.Owner,
		"session-id": flow.SessionID(),
	})

	return flow, nil
}

// Detached builds a flow that is not registered under any owner. It serves
// requests that carry no credential, which fail without reaching the backend.
func (m *SessionManager) Detached(p checkout.Params) (*checkout.Flow, error) {
	return m.newFlow(p)
}

func (m *SessionManager) Get(owner string) (*checkout.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[owner]
	if !ok {
		return nil, ErrNoSession
	}
	return s.flow, nil
}

// Close dismisses the owner's flow. With force set the flow is closed even
// while a payment is in flight.
func (m *SessionManager) Close(owner string, force bool) error {
	m.mu.Lock()
	s, ok := m.sessions[owner]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}

	if !force {
		if err := s.flow.Close(); err != nil {
			m.mu.Unlock()
			return err
		}
		delete(m.sessions, owner)
		m.mu.Unlock()
		return nil
	}

	delete(m.sessions, owner)
	m.mu.Unlock()

	s.flow.ForceClose()
	return nil
}

// Credential implements subscription.CredentialSource.
func (m *SessionManager) Credential(owner string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[owner]
	if !ok || s.credential == "" {
		return "", false
	}
	return s.credential, true
}

// HandleDismissed closes the session named by a CheckoutDismissed event. A
// dismissal for a session that has since been replaced is ignored.
func (m *SessionManager) HandleDismissed(evt event.Event) error {
	if evt.Type != event.CheckoutDismissed {
		return nil
	}

	payload, ok := evt.Payload.(event.CheckoutDismissedPayload)
	if !ok {
		return errors.New("invalid payload for CheckoutDismissed")
	}

	m.mu.Lock()
	s, ok := m.sessions[payload.Owner]
	if !ok || s.flow.SessionID() != payload.SessionID {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, payload.Owner)
	m.mu.Unlock()

	s.flow.ForceClose()

	m.logger.Info("checkout dismissed", map[string]any{
		"owner":      payload.Owner,
		"session-id": payload.SessionID,
	})
	return nil
}

// Shutdown force closes every session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	flows := make([]*checkout.Flow, 0, len(m.sessions))
	for owner, s := range m.sessions {
		flows = append(flows, s.flow)
		delete(m.sessions, owner)
	}
	m.mu.Unlock()

	for _, f := range flows {
		f.ForceClose()
	}
}
