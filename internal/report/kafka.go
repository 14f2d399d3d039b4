// internal/report/kafka.go
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"gitlab-stats/internal/syncer"
)

// DefaultTopic receives one message per project result.
const DefaultTopic = "gitstats.sync-results"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// resultMessage is the payload of a published project result.
type resultMessage struct {
	RunID         string    `json:"run_id"`
	RunStartedAt  time.Time `json:"run_started_at"`
	RunFinishedAt time.Time `json:"run_finished_at"`
	syncer.ProjectResult
}

// KafkaPublisher publishes run reports to a Kafka topic, keyed by project name.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.With("topic", topic),
	}
}

// Publish sends one message per project result of the report.
func (p *KafkaPublisher) Publish(ctx context.Context, report *syncer.RunReport) error {
	if len(report.Projects) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(report.Projects))
	for _, result := range report.Projects {
		value, err := json.Marshal(resultMessage{
			RunID:         report.ID,
			RunStartedAt:  report.StartedAt,
			RunFinishedAt: report.FinishedAt,
			ProjectResult: result,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(result.Project),
			Value: value,
			Time:  report.FinishedAt,
			Headers: []kafka.Header{
				{Key: "source", Value: []byte("gitstats")},
				{Key: "run_id", Value: []byte(report.ID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	p.logger.Debug("Published run report", "messages", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
