// Package tracestore persists pipeline traces, idempotency records and
// per-sender conversation state behind a single Store interface.
package tracestore

import (
	"errors"
	"maps"
	"time"

	"github.com/scalytics/skytext/internal/weather"
)

// EventType is the kind of a trace event.
type EventType string

const (
	StepStarted   EventType = "step_started"
	StepSucceeded EventType = "step_succeeded"
	StepFailed    EventType = "step_failed"
)

// Terminal reports whether the event closes a step.
func (t EventType) Terminal() bool {
	return t == StepSucceeded || t == StepFailed
}

// ErrOutputSet is returned when a trace output is assigned twice.
var ErrOutputSet = errors.New("trace output already set")

// Fields is a flat, loggable projection of a step's arguments or result.
type Fields map[string]string

// Event is one entry in a trace timeline. Events are never modified after
// they are appended.
type Event struct {
	Type       EventType `json:"type"`
	Step       string    `json:"step"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS *int64    `json:"duration_ms,omitempty"`
	Input      Fields    `json:"input,omitempty"`
	Output     Fields    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Input is the inbound message as recorded. The raw sender is never stored.
type Input struct {
	FromHash     string    `json:"from_hash,omitempty"`
	FromRedacted string    `json:"from_redacted,omitempty"`
	Body         string    `json:"body"`
	MessageID    string    `json:"message_id"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Output is the terminal result of a run.
type Output struct {
	ResponseText    string            `json:"response_text"`
	WeatherSnapshot *weather.Snapshot `json:"weather_snapshot,omitempty"`
}

// Trace is the durable record of one pipeline execution.
type Trace struct {
	TraceID        string    `json:"trace_id"`
	CreatedAt      time.Time `json:"created_at"`
	Input          Input     `json:"input"`
	Events         []Event   `json:"events"`
	Output         *Output   `json:"output,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Append adds an event to the timeline.
func (t *Trace) Append(ev Event) {
	t.Events = append(t.Events, ev)
}

// SetOutput assigns the output once.
func (t *Trace) SetOutput(out Output) error {
	if t.Output != nil {
		return ErrOutputSet
	}
	t.Output = &out
	return nil
}

// Clone returns a deep copy.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	c := *t
	c.Events = make([]Event, len(t.Events))
	for i, ev := range t.Events {
		ev.Input = maps.Clone(ev.Input)
		ev.Output = maps.Clone(ev.Output)
		if ev.DurationMS != nil {
			d := *ev.DurationMS
			ev.DurationMS = &d
		}
		c.Events[i] = ev
	}
	if t.Output != nil {
		out := *t.Output
		if out.WeatherSnapshot != nil {
			snap := *out.WeatherSnapshot
			if snap.WindKph != nil {
				w := *snap.WindKph
				snap.WindKph = &w
			}
			snap.Alerts = append([]string(nil), snap.Alerts...)
			out.WeatherSnapshot = &snap
		}
		c.Output = &out
	}
	return &c
}

// Idempotency derives the record that makes this trace's response
// discoverable by message id. It reports false when there is no response.
func (t *Trace) Idempotency() (IdempotencyRecord, bool) {
	if t.Output == nil || t.Output.ResponseText == "" || t.IdempotencyKey == "" {
		return IdempotencyRecord{}, false
	}
	return IdempotencyRecord{
		MessageID:    t.IdempotencyKey,
		ResponseText: t.Output.ResponseText,
		TraceID:      t.TraceID,
		SenderHash:   t.Input.FromHash,
	}, true
}

// IdempotencyRecord caches the reply sent for a message id.
type IdempotencyRecord struct {
	MessageID    string `json:"message_id"`
	ResponseText string `json:"response_text"`
	TraceID      string `json:"trace_id"`
	SenderHash   string `json:"sender_hash,omitempty"`
}

// ConversationState is the per-sender memory.
type ConversationState struct {
	LastLocation *weather.Location `json:"last_location,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
