package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// PaymentMessage is a payment notification relayed by another ingress. It
// carries the same fields as the normalized webhook body.
type PaymentMessage struct {
	ReservationID    string `json:"reservation_id"`
	ProviderChargeID string `json:"provider_charge_id"`
	Status           string `json:"status"`
}

// PaymentHandler returns an error to leave the message uncommitted so it is
// delivered again.
type PaymentHandler func(ctx context.Context, msg PaymentMessage) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	handler PaymentHandler
	logger  *log.Logger
	retry   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(logger *log.Logger, brokers []string, topic, groupID string, handler PaymentHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		handler: handler,
		logger:  logger,
		retry:   time.Second,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()
	c.logger.Println("Payment relay consumer started")
}

func (c *Consumer) consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("Payment relay: failed to fetch message: %v", err)
			if !sleepCtx(ctx, c.retry) {
				return
			}
			continue
		}

		// The reader hands out the next offset regardless of commits, so a
		// failing message is retried in place until it succeeds.
		for {
			err := c.handle(ctx, m)
			if err == nil {
				break
			}
			c.logger.Printf("Payment relay: offset %d not committed: %v", m.Offset, err)
			if !sleepCtx(ctx, c.retry) {
				return
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Printf("Payment relay: failed to commit offset %d: %v", m.Offset, err)
		}
	}
}

var errMalformed = errors.New("malformed payment message")

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	var msg PaymentMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.Status == "" || (msg.ReservationID == "" && msg.ProviderChargeID == "") {
		// Poison messages are committed and skipped.
		c.logger.Printf("Payment relay: dropping offset %d: %v", m.Offset, errMalformed)
		return nil
	}
	if err := c.handler(ctx, msg); err != nil {
		return fmt.Errorf("handle payment %s/%s: %w", msg.ReservationID, msg.ProviderChargeID, err)
	}
	return nil
}

// Stop cancels consumption and waits for the worker to exit.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Println("Payment relay consumer stopped")
	return c.reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
