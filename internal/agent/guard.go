package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scalytics/skytext/internal/tracestore"
)

// Reply is what the guard hands back to the transport.
type Reply struct {
	ResponseText string
	TraceID      string
	// Cached is set when the reply came from an earlier delivery.
	Cached bool
}

// GuardOptions tunes cross-process claims.
type GuardOptions struct {
	// ClaimTTL bounds how long a claim blocks other processes.
	ClaimTTL time.Duration
	// PollInterval and PollTimeout control how long a delivery that lost a
	// claim waits for the winner's record before running anyway.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultGuardOptions returns the production settings.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		ClaimTTL:     30 * time.Second,
		PollInterval: 100 * time.Millisecond,
		PollTimeout:  10 * time.Second,
	}
}

// Guard deduplicates deliveries by message id. Concurrent deliveries inside
// one process share a single run; across processes a store implementing
// tracestore.Claimer serializes them.
type Guard struct {
	store  tracestore.Store
	runner Runner
	opts   GuardOptions
	flight singleflight.Group
}

// NewGuard wraps runner. Zero option fields take their defaults.
func NewGuard(store tracestore.Store, runner Runner, opts GuardOptions) *Guard {
	def := DefaultGuardOptions()
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = def.ClaimTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	return &Guard{store: store, runner: runner, opts: opts}
}

// Handle returns the cached reply for a redelivered message, or runs the
// pipeline and records the reply under the message id.
func (g *Guard) Handle(ctx context.Context, in Input) (Reply, error) {
	if rec, err := g.store.GetIdempotency(ctx, in.MessageID); err != nil {
		return Reply{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if rec != nil {
		slog.Info("Dedup hit: returning cached result", "message_id", in.MessageID, "trace_id", rec.TraceID)
		return Reply{ResponseText: rec.ResponseText, TraceID: rec.TraceID, Cached: true}, nil
	}

	v, err, _ := g.flight.Do(in.MessageID, func() (any, error) {
		return g.handleOnce(context.WithoutCancel(ctx), in)
	})
	if err != nil {
		return Reply{}, err
	}
	return v.(Reply), nil
}

func (g *Guard) handleOnce(ctx context.Context, in Input) (Reply, error) {
	// A flight that just finished may have stored the record.
	if rec, err := g.store.GetIdempotency(ctx, in.MessageID); err != nil {
		return Reply{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if rec != nil {
		return Reply{ResponseText: rec.ResponseText, TraceID: rec.TraceID, Cached: true}, nil
	}

	if claimer, ok := g.store.(tracestore.Claimer); ok {
		won, err := claimer.Claim(ctx, in.MessageID, g.opts.ClaimTTL)
		if err != nil {
			slog.Warn("Message claim failed, running unclaimed", "message_id", in.MessageID, "error", err)
		} else if !won {
			if rec := g.awaitRecord(ctx, in.MessageID); rec != nil {
				slog.Info("Dedup hit: returning result of concurrent delivery", "message_id", in.MessageID, "trace_id", rec.TraceID)
				return Reply{ResponseText: rec.ResponseText, TraceID: rec.TraceID, Cached: true}, nil
			}
			slog.Warn("Claimed delivery did not finish in time, running", "message_id", in.MessageID)
		} else {
			defer func() {
				if err := claimer.Release(ctx, in.MessageID); err != nil {
					slog.Warn("Message claim release failed", "message_id", in.MessageID, "error", err)
				}
			}()
		}
	}

	res, err := g.runner.Run(ctx, in, RunOptions{})
	if err != nil {
		return Reply{}, err
	}
	rec := tracestore.IdempotencyRecord{
		MessageID:    in.MessageID,
		ResponseText: res.ResponseText,
		TraceID:      res.Trace.TraceID,
		SenderHash:   res.Trace.Input.FromHash,
	}
	if err := g.store.SaveIdempotency(ctx, rec); err != nil {
		return Reply{}, fmt.Errorf("save idempotency record: %w", err)
	}
	return Reply{ResponseText: res.ResponseText, TraceID: res.Trace.TraceID}, nil
}

func (g *Guard) awaitRecord(ctx context.Context, messageID string) *tracestore.IdempotencyRecord {
	deadline := time.NewTimer(g.opts.PollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(g.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-deadline.C:
			return nil
		case <-tick.C:
			rec, err := g.store.GetIdempotency(ctx, messageID)
			if err != nil {
				slog.Warn("Idempotency poll failed", "message_id", messageID, "error", err)
				continue
			}
			if rec != nil {
				return rec
			}
		}
	}
}
