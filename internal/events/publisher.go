// Package events publishes transcript events to Kafka. Publishing is
// supplemental observability of results; failures are logged and never
// affect a session or request.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"whisper-transcription-service/internal/observability/metrics"
)

// Event kinds, one Kafka topic each. The kind also labels publish metrics
// and rides on the message as the eventType header.
const (
	kindStreamed = "streamed"
	kindFinal    = "final"
)

// Publisher publishes transcript events: incremental streaming transcripts
// and final results (session finalization and file uploads).
type Publisher struct {
	writers   map[string]*kafka.Writer
	topics    map[string]string
	principal string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers     []string
	TopicStream string
	TopicFinal  string
	Principal   string
	Enabled     bool
}

// New creates a Kafka event publisher. With Enabled false or no brokers the
// publisher runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	p := &Publisher{
		topics: map[string]string{
			kindStreamed: cfg.TopicStream,
			kindFinal:    cfg.TopicFinal,
		},
		principal: cfg.Principal,
		metrics:   m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writers = make(map[string]*kafka.Writer, len(p.topics))
	for kind, topic := range p.topics {
		p.writers[kind] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicStream", cfg.TopicStream).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// PublishStreamed publishes an incremental transcript event, keyed by
// session.
func (p *Publisher) PublishStreamed(ctx context.Context, key string, event any) error {
	return p.publish(ctx, kindStreamed, key, event)
}

// PublishFinal publishes a final transcript event, keyed by session or
// request.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, kindFinal, key, event)
}

func (p *Publisher) publish(ctx context.Context, kind, key string, event any) error {
	start := time.Now()
	topic := p.topics[kind]

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	writer := p.writers[kind]
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, kind, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(kind)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, kind, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, kind, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for kind, w := range p.writers {
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("kind", kind).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
