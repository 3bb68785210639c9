package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wattwatch/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher streams finished jobs to a Kafka topic keyed by device id
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           100 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Notify publishes finished events only; started events carry no job.
func (k *KafkaPublisher) Notify(ctx context.Context, event models.DeviceEvent) error {
	if event.Kind != models.EventFinished || event.Job == nil {
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Device.ID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write job event: %w", err)
	}

	k.logger.Debug("Published job to Kafka",
		zap.String("device_id", event.Device.ID),
		zap.String("job_id", event.Job.ID),
		zap.String("topic", k.writer.Topic))
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
