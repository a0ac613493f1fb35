package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnvelopeTrace is the envelope type for mirrored traces.
const EnvelopeTrace = "trace"

// Envelope wraps a mirrored record on the wire.
type Envelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload"`
}

// Publisher delivers a keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaPublisher produces to a single topic.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher creates a synchronous writer that keys by trace id so a
// trace and its replays land on the same partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Mirror decorates a Store and publishes every saved trace. Publishing is
// best effort: failures are logged and never fail the save.
type Mirror struct {
	Store
	pub     Publisher
	timeout time.Duration
	now     func() time.Time
}

// NewMirror wraps store.
func NewMirror(store Store, pub Publisher) *Mirror {
	return &Mirror{Store: store, pub: pub, timeout: 5 * time.Second, now: time.Now}
}

func (m *Mirror) SaveTrace(ctx context.Context, t *Trace) error {
	if err := m.Store.SaveTrace(ctx, t); err != nil {
		return err
	}
	if err := m.publish(ctx, t); err != nil {
		slog.Warn("Trace mirror publish failed", "trace_id", t.TraceID, "error", err)
	}
	return nil
}

func (m *Mirror) publish(ctx context.Context, t *Trace) error {
	data, err := json.Marshal(Envelope{
		Type:          EnvelopeTrace,
		CorrelationID: t.TraceID,
		Timestamp:     m.now().UTC(),
		Payload:       t,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.pub.Publish(ctx, t.TraceID, data)
}

// Claim forwards to the wrapped store when it supports claims.
func (m *Mirror) Claim(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	if c, ok := m.Store.(Claimer); ok {
		return c.Claim(ctx, messageID, ttl)
	}
	return true, nil
}

// Release forwards to the wrapped store when it supports claims.
func (m *Mirror) Release(ctx context.Context, messageID string) error {
	if c, ok := m.Store.(Claimer); ok {
		return c.Release(ctx, messageID)
	}
	return nil
}

func (m *Mirror) Close() error {
	pubErr := m.pub.Close()
	if err := m.Store.Close(); err != nil {
		return err
	}
	return pubErr
}
