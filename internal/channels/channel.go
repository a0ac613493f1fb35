// Package channels adapts inbound messaging webhooks to the agent pipeline.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/scalytics/skytext/internal/agent"
)

// Responder produces the reply for one inbound message.
type Responder interface {
	Handle(ctx context.Context, in agent.Input) (agent.Reply, error)
}

// Stats counts webhook traffic.
type Stats struct {
	requests atomic.Int64
	errors   atomic.Int64
}

func (s *Stats) request() {
	if s != nil {
		s.requests.Add(1)
	}
}

func (s *Stats) failure() {
	if s != nil {
		s.errors.Add(1)
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() (requests, errors int64) {
	if s == nil {
		return 0, 0
	}
	return s.requests.Load(), s.errors.Load()
}
