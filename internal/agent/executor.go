// Package agent runs the SMS weather pipeline and records a trace of every
// step it takes.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/scalytics/skytext/internal/advice"
	"github.com/scalytics/skytext/internal/intent"
	"github.com/scalytics/skytext/internal/tracestore"
	"github.com/scalytics/skytext/internal/weather"
)

// FallbackText is sent whenever a step fails.
const FallbackText = "Sorry, I could not retrieve the forecast right now. Please try again soon."

// DefaultMaxInputChars bounds the message body before parsing.
const DefaultMaxInputChars = 400

const notifyTimeout = 5 * time.Second

// Location sources recorded on the resolveLocation step.
const (
	SourceMessage = "message"
	SourceMemory  = "memory"
	SourceDefault = "default"
)

// Options configures an Executor.
type Options struct {
	// DefaultLocation is resolved when neither the message nor memory names a place.
	DefaultLocation string
	MaxInputChars   int
	IncludeRefID    bool
	// MaxMessageChars caps the reply; zero uses advice.DefaultMaxChars.
	MaxMessageChars int
	// MemoryTTL lapses remembered locations; zero keeps them forever.
	MemoryTTL time.Duration
	Notifier  FailureNotifier
	Now       func() time.Time
}

// Input is one inbound message.
type Input struct {
	// From is the raw sender. It is hashed and redacted before it is stored.
	From       string
	Body       string
	MessageID  string
	ReceivedAt time.Time
}

// RunOptions alters a single run.
type RunOptions struct {
	// RecordedWeather replaces the live forecast when UseRecorded is set.
	RecordedWeather *weather.Snapshot
	UseRecorded     bool
}

// Result is what a run produced. Weather is nil on the fallback path.
type Result struct {
	ResponseText string
	Weather      *weather.Snapshot
	Trace        *tracestore.Trace
}

// Runner executes the pipeline for one input.
type Runner interface {
	Run(ctx context.Context, in Input, opts RunOptions) (Result, error)
}

// Executor runs parseIntent, resolveLocation, fetchWeather and
// generateRecommendation in order and persists one trace per run.
type Executor struct {
	store    tracestore.Store
	resolver weather.Resolver
	provider weather.Provider
	memory   *Memory
	opts     Options

	notifications sync.WaitGroup
}

// NewExecutor wires the pipeline collaborators.
func NewExecutor(store tracestore.Store, resolver weather.Resolver, provider weather.Provider, opts Options) *Executor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	return &Executor{
		store:    store,
		resolver: resolver,
		provider: provider,
		memory:   NewMemory(store, opts.MemoryTTL, opts.Now),
		opts:     opts,
	}
}

// Store returns the trace store the executor persists to.
func (e *Executor) Store() tracestore.Store { return e.store }

// Run executes the pipeline. Step failures produce FallbackText and a nil
// error; only a failure to persist the trace is returned as an error.
func (e *Executor) Run(ctx context.Context, in Input, opts RunOptions) (Result, error) {
	traceID := NewTraceID()
	logger := slog.With("trace_id", traceID)

	sender := strings.TrimSpace(in.From)
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.opts.Now()
	}
	tr := &tracestore.Trace{
		TraceID:   traceID,
		CreatedAt: e.opts.Now().UTC(),
		Input: tracestore.Input{
			FromHash:     HashSender(sender),
			FromRedacted: RedactSender(sender),
			Body:         truncateRunes(in.Body, e.opts.MaxInputChars),
			MessageID:    in.MessageID,
			ReceivedAt:   receivedAt.UTC(),
		},
		Events:         []tracestore.Event{},
		IdempotencyKey: in.MessageID,
	}
	r := &run{
		trace:  tr,
		logger: logger,
		tracer: otel.Tracer("github.com/scalytics/skytext/internal/agent"),
		now:    e.opts.Now,
	}

	text, snap, runErr := e.pipeline(ctx, r, opts)
	if runErr != nil {
		text, snap = FallbackText, nil
	}
	out := tracestore.Output{ResponseText: text}
	if snap != nil {
		out.WeatherSnapshot = snap
	}
	if err := tr.SetOutput(out); err != nil {
		return Result{Trace: tr}, err
	}

	// The trace is persisted even when the caller has gone away.
	if err := e.store.SaveTrace(context.WithoutCancel(ctx), tr); err != nil {
		logger.Error("Failed to persist trace", "error", err)
		return Result{Trace: tr}, fmt.Errorf("persist trace %s: %w", traceID, err)
	}
	if runErr != nil {
		e.notifyFailure(ctx, tr.Clone())
	}
	logger.Info("run_completed", "message_id", in.MessageID, "fallback", snap == nil, "events", len(tr.Events))
	return Result{ResponseText: text, Weather: snap, Trace: tr}, nil
}

func (e *Executor) pipeline(ctx context.Context, r *run, opts RunOptions) (string, *weather.Snapshot, error) {
	body := r.trace.Input.Body
	senderKey := r.trace.Input.FromHash
	now := e.opts.Now()

	in, err := step(ctx, r, StepParseIntent, tracestore.Fields{"body": body},
		func(context.Context) (intent.Intent, error) {
			return intent.Parse(body, now), nil
		}, intentFields)
	if err != nil {
		return "", nil, err
	}

	var remembered *weather.Location
	var recallErr error
	if in.LocationText == "" {
		remembered, recallErr = e.memory.Recall(ctx, senderKey)
	}
	query, source := e.opts.DefaultLocation, SourceDefault
	switch {
	case in.LocationText != "":
		query, source = in.LocationText, SourceMessage
	case remembered != nil:
		query, source = remembered.Name, SourceMemory
	}
	loc, err := step(ctx, r, StepResolveLocation, tracestore.Fields{"query": query, "source": source},
		func(ctx context.Context) (weather.Location, error) {
			if recallErr != nil {
				return weather.Location{}, fmt.Errorf("recall conversation state: %w", recallErr)
			}
			if source == SourceMemory {
				return *remembered, nil
			}
			loc, err := e.resolver.Resolve(ctx, query)
			if err != nil {
				return weather.Location{}, err
			}
			if source == SourceMessage {
				if err := e.memory.Remember(ctx, senderKey, loc); err != nil {
					return loc, fmt.Errorf("remember location: %w", err)
				}
			}
			return loc, nil
		}, locationFields)
	if err != nil {
		return "", nil, err
	}

	recorded := opts.UseRecorded && opts.RecordedWeather != nil
	providerName := e.provider.Name()
	if recorded {
		providerName = "recorded"
	}
	snap, err := step(ctx, r, StepFetchWeather,
		tracestore.Fields{"location": loc.Name, "date": in.Date, "provider": providerName},
		func(ctx context.Context) (weather.Snapshot, error) {
			if recorded {
				return *opts.RecordedWeather, nil
			}
			return e.provider.Forecast(ctx, loc, in.Date)
		}, snapshotFields)
	if err != nil {
		return "", nil, err
	}

	text, err := step(ctx, r, StepGenerateRecommendation, nil,
		func(context.Context) (string, error) {
			return advice.Compose(in, snap, advice.Options{
				IncludeRefID: e.opts.IncludeRefID,
				TraceID:      r.trace.TraceID,
				MaxChars:     e.opts.MaxMessageChars,
			}), nil
		}, textFields)
	if err != nil {
		return "", nil, err
	}
	return text, &snap, nil
}

func (e *Executor) notifyFailure(ctx context.Context, tr *tracestore.Trace) {
	if e.opts.Notifier == nil {
		return
	}
	var failed tracestore.Event
	for _, ev := range tr.Events {
		if ev.Type == tracestore.StepFailed {
			failed = ev
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		defer cancel()
		if err := e.opts.Notifier.NotifyFailure(ctx, tr, failed); err != nil {
			slog.Warn("Failure notification not delivered", "trace_id", tr.TraceID, "error", err)
		}
	}()
}

// Wait blocks until pending failure notifications finish.
func (e *Executor) Wait() { e.notifications.Wait() }

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
