package store

import (
	"context"
	"sync"
)

// Memory is a process-local Store, used by tests and the "memory" driver
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]MessageRecord
	checks   []StatusCheck
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]MessageRecord)}
}

func (m *Memory) AppendMessage(ctx context.Context, rec MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[rec.SessionID] = append(m.messages[rec.SessionID], rec)
	return nil
}

func (m *Memory) History(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]MessageRecord, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) AddStatusCheck(ctx context.Context, check StatusCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, check)
	return nil
}

func (m *Memory) StatusChecks(ctx context.Context, limit int) ([]StatusCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.checks
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]StatusCheck, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error  { return nil }
func (m *Memory) Close(ctx context.Context) error { return nil }
