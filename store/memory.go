package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Records expire after ttl; zero keeps
// them forever.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, records: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) Save(_ context.Context, rec Record) error {
	e := memoryEntry{rec: rec}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.records[rec.SessionID] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, sessionID string) (Record, error) {
	m.mu.RLock()
	e, ok := m.records[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.records, sessionID)
		m.mu.Unlock()
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.records = map[string]memoryEntry{}
	m.mu.Unlock()
	return nil
}
