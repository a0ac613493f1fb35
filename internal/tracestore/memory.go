package tracestore

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	traces      map[string]*Trace
	idempotency map[string]IdempotencyRecord
	convs       map[string]ConversationState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces:      make(map[string]*Trace),
		idempotency: make(map[string]IdempotencyRecord),
		convs:       make(map[string]ConversationState),
	}
}

func (s *MemoryStore) SaveTrace(_ context.Context, t *Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putTrace(t)
	return nil
}

// putTrace requires s.mu held for writing.
func (s *MemoryStore) putTrace(t *Trace) {
	s.traces[t.TraceID] = t.Clone()
	if rec, ok := t.Idempotency(); ok {
		s.idempotency[rec.MessageID] = rec
	}
}

func (s *MemoryStore) GetTrace(_ context.Context, traceID string) (*Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[traceID]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetIdempotency(_ context.Context, messageID string) (*IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[messageID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) SaveIdempotency(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[rec.MessageID] = rec
	return nil
}

func (s *MemoryStore) GetConversationState(_ context.Context, senderKey string) (*ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.convs[senderKey]
	if !ok {
		return nil, nil
	}
	return cloneState(st), nil
}

func (s *MemoryStore) SaveConversationState(_ context.Context, senderKey string, state ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[senderKey] = *cloneState(state)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneState(st ConversationState) *ConversationState {
	if st.LastLocation != nil {
		loc := *st.LastLocation
		st.LastLocation = &loc
	}
	return &st
}
