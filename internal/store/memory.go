package store

import (
	"sync"

	"refgate-bot/internal/models"
)

// Memory is an in-memory Store used by tests and as a building block for
// the ledger's test fixtures.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]models.User
	channels  map[string]models.Channel
	referrals map[int64]models.Referral
	pending   map[int64]models.PendingReferral
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[int64]models.User),
		channels:  make(map[string]models.Channel),
		referrals: make(map[int64]models.Referral),
		pending:   make(map[int64]models.PendingReferral),
	}
}

func (m *Memory) LoadUsers() ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u.Clone())
	}
	return out, nil
}

func (m *Memory) SaveUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u.Clone()
	return nil
}

func (m *Memory) LoadChannels() ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (m *Memory) SaveChannel(ch models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ChatID] = ch
	return nil
}

func (m *Memory) LoadReferrals() ([]models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Referral, 0, len(m.referrals))
	for _, r := range m.referrals {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) SaveReferral(r models.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals[r.ReferredID] = r
	return nil
}

func (m *Memory) LoadPending() ([]models.PendingReferral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingReferral, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) SavePending(p models.PendingReferral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.ReferredID] = p
	return nil
}

func (m *Memory) DeletePending(referredID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, referredID)
	return nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error { return nil }
