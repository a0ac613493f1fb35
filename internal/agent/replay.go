package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrTraceNotFound is returned when a replay names an unknown trace.
var ErrTraceNotFound = errors.New("trace not found")

// ReplayPrefix marks the message id of a replayed run.
const ReplayPrefix = "REPLAY_"

// Replay re-runs a stored trace's input. Intent parsing and location
// resolution run live. The recorded forecast is used unless live is set or
// the trace has none.
func (e *Executor) Replay(ctx context.Context, traceID string, live bool) (Result, error) {
	orig, err := e.store.GetTrace(ctx, traceID)
	if err != nil {
		return Result{}, fmt.Errorf("load trace: %w", err)
	}
	if orig == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}

	opts := RunOptions{UseRecorded: !live}
	if orig.Output != nil {
		opts.RecordedWeather = orig.Output.WeatherSnapshot
	}
	return e.Run(ctx, Input{
		From:       orig.Input.FromRedacted,
		Body:       orig.Input.Body,
		MessageID:  ReplayPrefix + traceID,
		ReceivedAt: e.opts.Now(),
	}, opts)
}
