package session

import (
	"context"
	"sync"
)

// Manager sequences the single active session of an embedding client. On
// every identity change the old session is fully torn down before the new
// one opens, so no duplicate-delivery window exists.
type Manager struct {
	factory *Factory
	client  Client

	mu     sync.Mutex
	active *Session
}

// NewManager constructs a Manager opening sessions through factory for the
// given presentation client.
func NewManager(factory *Factory, client Client) *Manager {
	return &Manager{factory: factory, client: client}
}

// SetIdentity switches the active session to userID. An empty identifier
// just closes whatever was active, leaving no session.
func (m *Manager) SetIdentity(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
	if userID == "" {
		return nil
	}

	opened, err := m.factory.Open(ctx, userID, m.client)
	if err != nil {
		return err
	}
	m.active = opened
	return nil
}

// Active returns the current session, or nil when no identity is set.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close tears down any active session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}
