package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/georgelake2/plcaudit/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts to one topic, keyed by scenario so a
// scenario's alerts stay ordered within a partition.
type KafkaPublisher struct {
	cfg    config.KafkaConfig
	writer messageWriter
}

// NewKafkaPublisher builds a synchronous writer. No connection is made
// until the first publish.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		cfg:    cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Name() string {
	return "kafka://" + strings.Join(p.cfg.Brokers, ",") + "/" + p.cfg.Topic
}

func (p *KafkaPublisher) Publish(ctx context.Context, a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(a.Scenario),
		Value:   value,
		Time:    time.Now(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
