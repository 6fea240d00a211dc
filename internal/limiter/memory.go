package limiter

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	fails        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// Memory is a process-local limiter for single-instance deployments.
type Memory struct {
	mu     sync.Mutex
	policy Policy
	state  map[string]*attempts
	now    func() time.Time
}

// NewMemory returns an empty in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, state: make(map[string]*attempts), now: time.Now}
}

func key(subject string, ipHash []byte) string { return subject + "\x00" + string(ipHash) }

func (m *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state[key(subject, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if wait := a.blockedUntil.Sub(m.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key(subject, ipHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key(subject, ipHash)
	a, ok := m.state[k]
	if !ok || now.Sub(a.lastFailure) > m.policy.Window {
		a = &attempts{}
		m.state[k] = a
	}
	a.fails++
	a.lastFailure = now
	if a.fails < m.policy.MaxFails {
		return false, 0, nil
	}
	a.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}
