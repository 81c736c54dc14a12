// Package events publishes audit events to Kafka so downstream consumers
// (SIEM pipelines, reporting) can follow incident activity.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Event types carried on the audit topic.
const (
	EventIncidentCreated = "incident.created"
	EventIncidentUpdated = "incident.updated"
	EventUserLogin       = "user.login"
	EventUserSignout     = "user.signout"
)

// Envelope is the common wrapper for all audit events.
type Envelope struct {
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	Occurred  time.Time       `json:"occurredAt"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
}

// Producer wraps the franz-go Kafka client. A nil Producer is valid and
// drops events, so deployments without a broker need no special casing.
type Producer struct {
	client *kgo.Client
	topic  string
}

// New creates a Producer. An empty broker list returns nil; callers keep
// the nil and publishing becomes a no-op.
func New(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, topic: topic}, nil
}

// Publish emits one event, keyed by actor so per-user ordering holds.
// Delivery is asynchronous; failures are logged, never surfaced to the
// request path.
func (p *Producer) Publish(ctx context.Context, eventType, eventID, actor string, payload any) {
	if p == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		return
	}
	value, err := json.Marshal(Envelope{
		EventType: eventType,
		EventID:   eventID,
		Occurred:  time.Now().UTC(),
		Actor:     actor,
		Payload:   body,
	})
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("marshal event envelope")
		return
	}

	record := &kgo.Record{Topic: p.topic, Key: []byte(actor), Value: value}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			log.Error().Err(err).
				Str("event_type", eventType).
				Str("event_id", eventID).
				Msg("kafka produce error")
		}
	})
}

// Close flushes pending records and releases the client.
func (p *Producer) Close(ctx context.Context) {
	if p == nil {
		return
	}
	if err := p.client.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("kafka flush error")
	}
	p.client.Close()
}
