package token

import (
	"context"
	"sync"
	"time"
)

// MemoryDenyList is an in-process DenyList. Entries are pruned once expired.
type MemoryDenyList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryDenyList returns an empty deny-list.
func NewMemoryDenyList() *MemoryDenyList {
	return &MemoryDenyList{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryDenyList) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = until
	return nil
}

func (m *MemoryDenyList) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !until.After(m.now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}

// Prune drops expired entries and returns how many were removed.
func (m *MemoryDenyList) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for jti, until := range m.revoked {
		if !until.After(now) {
			delete(m.revoked, jti)
			n++
		}
	}
	return n
}

// Run prunes every interval until ctx is done.
func (m *MemoryDenyList) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Prune()
		}
	}
}
