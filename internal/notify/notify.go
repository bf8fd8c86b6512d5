// Package notify delivers structured entitlement events to the host UI.
// Delivery is fire-and-forget from the engine's perspective.
package notify

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Kind classifies an entitlement event.
type Kind string

const (
	KindTrialEnded       Kind = "trial_ended"
	KindPaymentIssue     Kind = "payment_issue"
	KindDowngraded       Kind = "downgraded"
	KindLicenseActivated Kind = "license_activated"
)

// Event is a single notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Sink accepts entitlement events.
type Sink interface {
	Emit(kind Kind, title, body string)
}

const historyLimit = 100

// Manager is the in-process Sink. It keeps a bounded history for the UI to
// replay and forwards each event to an optional subscriber.
type Manager struct {
	mu         sync.Mutex
	history    []Event
	subscriber func(Event)
}

// NewManager creates an empty notification manager.
func NewManager() *Manager {
	return &Manager{history: make([]Event, 0, historyLimit)}
}

// Subscribe registers a callback invoked for every emitted event. Only one
// subscriber is supported; registering again replaces it.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriber = fn
}

// Emit records and forwards an event.
func (m *Manager) Emit(kind Kind, title, body string) {
	event := Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Title:     title,
		Body:      body,
		EmittedAt: time.Now(),
	}

	m.mu.Lock()
	m.history = append(m.history, event)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
	subscriber := m.subscriber
	m.mu.Unlock()

	log.Info().
		Str("kind", string(kind)).
		Str("title", title).
		Msg("Entitlement notification emitted")

	if subscriber != nil {
		subscriber(event)
	}
}

// Recent returns a copy of the retained event history, oldest first.
func (m *Manager) Recent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.history...)
}
