package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes resolution analytics events. It satisfies
// observability.EventWriter.
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

func NewProducer(cfg config.EventsConfig, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxRetries,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logger.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))

	return &Producer{
		writer: w,
		logger: logger,
	}
}

func (p *Producer) WriteResolutionEvent(ctx context.Context, event *models.ResolutionEvent) error {
	msg, err := resolutionMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing resolution event: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Events for the same query hash share a key so they land on one partition.
func resolutionMessage(event *models.ResolutionEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling resolution event: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return kafka.Message{
		Key:   []byte(event.QueryHash),
		Value: data,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "status", Value: []byte(event.Status)},
			{Key: "origin", Value: []byte(event.Origin)},
		},
	}, nil
}
