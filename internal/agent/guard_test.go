package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scalytics/skytext/internal/tracestore"
)

func TestGuardReturnsCachedReplyForRedelivery(t *testing.T) {
	ctx := context.Background()
	store := tracestore.NewMemoryStore()
	exec, _, prov := newTestExecutor(t, store, Options{})
	g := NewGuard(store, exec, GuardOptions{})

	in := Input{From: "+15555550010", Body: "Weather in Seattle today?", MessageID: "SM-dup"}
	first, err := g.Handle(ctx, in)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Cached {
		t.Fatal("first delivery must not be cached")
	}
	second, err := g.Handle(ctx, in)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.Cached || second.ResponseText != first.ResponseText || second.TraceID != first.TraceID {
		t.Fatalf("expected identical cached reply, first=%+v second=%+v", first, second)
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("expected one weather call, got %d", got)
	}

	rec, err := store.GetIdempotency(ctx, "SM-dup")
	if err != nil || rec == nil {
		t.Fatalf("expected idempotency record, err=%v", err)
	}
	if rec.SenderHash != HashSender("+15555550010") || rec.TraceID != first.TraceID {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestGuardCachesFallbackReplies(t *testing.T) {
	ctx := context.Background()
	store := tracestore.NewMemoryStore()
	exec, _, _ := newTestExecutor(t, store, Options{})
	g := NewGuard(store, exec, GuardOptions{})

	in := Input{Body: "weather in Atlantis", MessageID: "SM-fail"}
	first, err := g.Handle(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Handle(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.ResponseText != FallbackText || second.ResponseText != FallbackText || !second.Cached {
		t.Fatalf("unexpected replies %+v %+v", first, second)
	}
}

func TestGuardCollapsesConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	store := tracestore.NewMemoryStore()
	exec, _, prov := newTestExecutor(t, store, Options{})
	prov.gate = make(chan struct{})
	g := NewGuard(store, exec, GuardOptions{})

	const deliveries = 8
	replies := make([]Reply, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i], errs[i] = g.Handle(ctx, Input{From: "+15555550011", Body: "weather in Boston", MessageID: "SM-race"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(prov.gate)
	wg.Wait()

	for i := range deliveries {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if replies[i].ResponseText != replies[0].ResponseText {
			t.Fatalf("delivery %d got a different reply", i)
		}
	}
	if got := prov.calls.Load(); got != 1 {
		t.Fatalf("expected one pipeline run, got %d weather calls", got)
	}
}

// claimStore simulates another process holding the claim and finishing
// shortly after.
type claimStore struct {
	*tracestore.MemoryStore
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func (s *claimStore) Claim(_ context.Context, id string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *claimStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	s.released = append(s.released, id)
	return nil
}

func TestGuardWaitsForClaimHolder(t *testing.T) {
	ctx := context.Background()
	store := &claimStore{MemoryStore: tracestore.NewMemoryStore(), claimed: map[string]bool{"SM-remote": true}}
	exec, _, prov := newTestExecutor(t, store, Options{})
	g := NewGuard(store, exec, GuardOptions{PollInterval: 5 * time.Millisecond, PollTimeout: time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.SaveIdempotency(ctx, tracestore.IdempotencyRecord{MessageID: "SM-remote", ResponseText: "from elsewhere", TraceID: "trace_remote"})
	}()

	reply, err := g.Handle(ctx, Input{Body: "weather in Boston", MessageID: "SM-remote"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ResponseText != "from elsewhere" || !reply.Cached {
		t.Fatalf("expected the claim holder's reply, got %+v", reply)
	}
	if prov.calls.Load() != 0 {
		t.Fatal("pipeline must not run while another process holds the claim")
	}
}

func TestGuardRunsAfterClaimTimeout(t *testing.T) {
	ctx := context.Background()
	store := &claimStore{MemoryStore: tracestore.NewMemoryStore(), claimed: map[string]bool{"SM-stuck": true}}
	exec, _, prov := newTestExecutor(t, store, Options{})
	g := NewGuard(store, exec, GuardOptions{PollInterval: 5 * time.Millisecond, PollTimeout: 30 * time.Millisecond})

	reply, err := g.Handle(ctx, Input{Body: "weather in Boston", MessageID: "SM-stuck"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Cached || prov.calls.Load() != 1 {
		t.Fatalf("expected a fresh run, got %+v calls=%d", reply, prov.calls.Load())
	}
}

func TestGuardReleasesClaim(t *testing.T) {
	store := &claimStore{MemoryStore: tracestore.NewMemoryStore(), claimed: map[string]bool{}}
	exec, _, _ := newTestExecutor(t, store, Options{})
	g := NewGuard(store, exec, GuardOptions{})

	if _, err := g.Handle(context.Background(), Input{Body: "weather in Boston", MessageID: "SM-own"}); err != nil {
		t.Fatal(err)
	}
	if len(store.released) != 1 || store.released[0] != "SM-own" {
		t.Fatalf("expected claim release, got %v", store.released)
	}
}
