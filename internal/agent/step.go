package agent

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/scalytics/skytext/internal/tracestore"
)

// Pipeline step names, in execution order.
const (
	StepParseIntent            = "parseIntent"
	StepResolveLocation        = "resolveLocation"
	StepFetchWeather           = "fetchWeather"
	StepGenerateRecommendation = "generateRecommendation"
)

// Steps lists the pipeline stages in order.
var Steps = []string{StepParseIntent, StepResolveLocation, StepFetchWeather, StepGenerateRecommendation}

// run is the state of one pipeline execution. It is owned by a single
// goroutine.
type run struct {
	trace  *tracestore.Trace
	logger *slog.Logger
	tracer oteltrace.Tracer
	now    func() time.Time
}

// step records step_started, invokes fn, then records exactly one terminal
// event. A failure is returned unchanged so the caller can unwind.
func step[T any](ctx context.Context, r *run, name string, in tracestore.Fields, fn func(context.Context) (T, error), project func(T) tracestore.Fields) (T, error) {
	ctx, span := r.tracer.Start(ctx, "step."+name, oteltrace.WithAttributes(
		attribute.String("skytext.trace_id", r.trace.TraceID),
		attribute.String("skytext.step", name),
	))
	defer span.End()

	started := r.now()
	r.trace.Append(tracestore.Event{
		Type:      tracestore.StepStarted,
		Step:      name,
		Timestamp: started.UTC(),
		Input:     in,
	})

	result, err := fn(ctx)
	ended := r.now()
	elapsed := ended.Sub(started).Milliseconds()
	if err != nil {
		r.trace.Append(tracestore.Event{
			Type:       tracestore.StepFailed,
			Step:       name,
			Timestamp:  ended.UTC(),
			DurationMS: &elapsed,
			Error:      errorMessage(err),
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("step_failed", "step", name, "error", err)
		return result, err
	}

	ev := tracestore.Event{
		Type:       tracestore.StepSucceeded,
		Step:       name,
		Timestamp:  ended.UTC(),
		DurationMS: &elapsed,
	}
	if project != nil {
		ev.Output = project(result)
	}
	r.trace.Append(ev)
	r.logger.Debug("step_succeeded", "step", name, "duration_ms", elapsed)
	return result, nil
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
