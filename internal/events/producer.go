// Package events moves raffle events and relayed payment notifications
// through Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"rifas_pix/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	logger *log.Logger
}

func NewProducer(logger *log.Logger, brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           5 * time.Second,
		},
		logger: logger,
	}
}

// Publish keys messages by raffle so one raffle's events stay ordered.
func (p *Producer) Publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := event.RaffleID
	if key == "" {
		key = event.ReservationID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
