package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes entries keyed by id, so replays land on the same
// partition and consumers can drop duplicates by key.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, e translog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ID),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("audit: kafka publish: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
