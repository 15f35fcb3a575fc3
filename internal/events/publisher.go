// Package events publishes finalized-session results to Kafka: one verdict
// event per finalize and a quality alert when a session's sensor coverage is
// poor. Downstream consumers (dashboards, notification bots) subscribe to
// these topics instead of polling the API.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"playtest-telemetry-service/internal/models"
	"playtest-telemetry-service/internal/observability/metrics"
)

// SessionFinalized is the payload published when a session completes
// scoring.
type SessionFinalized struct {
	EventType   string           `json:"eventType"`
	ProjectID   string           `json:"projectId"`
	SessionID   string           `json:"sessionId"`
	Timestamp   int64            `json:"timestamp"`
	DurationSec int              `json:"durationSec"`
	Score       models.SessionScore `json:"score"`
	Verdicts    []models.Verdict `json:"verdicts"`
}

// QualityAlert is the payload published when a finalized session's timeline
// is dominated by partial or missing rows.
type QualityAlert struct {
	EventType    string  `json:"eventType"`
	ProjectID    string  `json:"projectId"`
	SessionID    string  `json:"sessionId"`
	Timestamp    int64   `json:"timestamp"`
	MissingRatio float64 `json:"missingRatio"`
	PartialRatio float64 `json:"partialRatio"`
}

// Publisher publishes session events to separate Kafka topics.
type Publisher struct {
	writerVerdicts *kafka.Writer
	writerQuality  *kafka.Writer
	principal      string
	topicVerdicts  string
	topicQuality   string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicVerdicts string
	TopicQuality  string
	Principal     string
	Enabled       bool
}

// New creates a new Kafka event publisher with separate topics for verdict
// events and quality alerts.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicVerdicts: cfg.TopicVerdicts,
			topicQuality:  cfg.TopicQuality,
			enabled:       false,
			metrics:       m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerVerdicts := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicVerdicts,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerQuality := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicQuality,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicVerdicts", cfg.TopicVerdicts).
		Str("topicQuality", cfg.TopicQuality).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerVerdicts: writerVerdicts,
		writerQuality:  writerQuality,
		principal:      cfg.Principal,
		topicVerdicts:  cfg.TopicVerdicts,
		topicQuality:   cfg.TopicQuality,
		enabled:        true,
		metrics:        m,
	}
}

// PublishFinalized publishes a session-finalized event keyed by session ID.
func (p *Publisher) PublishFinalized(ctx context.Context, event SessionFinalized) error {
	return p.publish(ctx, p.writerVerdicts, p.topicVerdicts, "verdicts", event.SessionID, event)
}

// PublishQualityAlert publishes a data-quality alert keyed by session ID.
func (p *Publisher) PublishQualityAlert(ctx context.Context, event QualityAlert) error {
	return p.publish(ctx, p.writerQuality, p.topicQuality, "quality", event.SessionID, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, kind, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		p.metrics.KafkaPublishErrors.WithLabelValues(kind).Inc()
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	p.metrics.KafkaPublishTotal.WithLabelValues(kind).Inc()

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.KafkaPublishLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.KafkaPublishErrors.WithLabelValues(kind).Inc()
		return err
	}

	p.metrics.KafkaPublishLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerVerdicts != nil {
		if e := p.writerVerdicts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing verdicts writer")
			err = e
		}
	}
	if p.writerQuality != nil {
		if e := p.writerQuality.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing quality writer")
			err = e
		}
	}
	return err
}
