package agent

import (
	"context"
	"time"

	"github.com/scalytics/skytext/internal/tracestore"
	"github.com/scalytics/skytext/internal/weather"
)

// Memory remembers the last explicitly requested location per sender.
// Senders are keyed by their hash. A zero ttl never expires an entry.
type Memory struct {
	store tracestore.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory creates a Memory over store.
func NewMemory(store tracestore.Store, ttl time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{store: store, ttl: ttl, now: now}
}

// Recall returns the remembered location, or nil when there is none or it
// has lapsed.
func (m *Memory) Recall(ctx context.Context, senderKey string) (*weather.Location, error) {
	if senderKey == "" {
		return nil, nil
	}
	st, err := m.store.GetConversationState(ctx, senderKey)
	if err != nil || st == nil || st.LastLocation == nil {
		return nil, err
	}
	if m.ttl > 0 && m.now().Sub(st.UpdatedAt) > m.ttl {
		return nil, nil
	}
	return st.LastLocation, nil
}

// Remember overwrites the sender's last location.
func (m *Memory) Remember(ctx context.Context, senderKey string, loc weather.Location) error {
	if senderKey == "" {
		return nil
	}
	return m.store.SaveConversationState(ctx, senderKey, tracestore.ConversationState{
		LastLocation: &loc,
		UpdatedAt:    m.now().UTC(),
	})
}
