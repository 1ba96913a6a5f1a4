package callstate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used for tests and single-node development.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]Record
	transcripts map[string][]Utterance
	bySID       map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]Record),
		transcripts: make(map[string][]Utterance),
		bySID:       make(map[string]string),
	}
}

func (m *MemoryStore) Register(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.CallID) == "" {
		return ErrNotFound
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CallID] = rec
	if rec.CallSID != "" {
		m.bySID[rec.CallSID] = rec.CallID
	}
	return nil
}

// Lookup resolves either a call id or a provider call sid.
func (m *MemoryStore) Lookup(_ context.Context, callID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := m.resolveLocked(callID)
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *MemoryStore) AppendTranscript(_ context.Context, callID string, u Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.resolveLocked(callID)
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	m.transcripts[id] = append(m.transcripts[id], u)
	return nil
}

func (m *MemoryStore) Transcript(_ context.Context, callID string) ([]Utterance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := m.resolveLocked(callID)
	return append([]Utterance(nil), m.transcripts[id]...), nil
}

func (m *MemoryStore) Finalize(_ context.Context, callID string, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.resolveLocked(callID)
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if out.Status != "" {
		rec.Status = out.Status
	}
	if out.Summary != "" {
		rec.Summary = out.Summary
	}
	if !out.EndedAt.IsZero() {
		rec.EndedAt = out.EndedAt
	}
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) resolveLocked(id string) string {
	if _, ok := m.records[id]; ok {
		return id
	}
	if mapped, ok := m.bySID[id]; ok {
		return mapped
	}
	return id
}
