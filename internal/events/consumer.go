package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartForgetter drops an identity's in-memory cart so the next access reloads it.
type CartForgetter interface {
	Forget(key string)
}

// Consumer clears the buyer's persisted client state once their order succeeded.
type Consumer struct {
	reader MessageReader
	state  persist.Store
	carts  CartForgetter
	log    *zap.Logger
}

func NewConsumer(state persist.Store, carts CartForgetter, log *zap.Logger, topic string, brokers ...string) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "storefront",
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, state, carts, log)
}

func newConsumer(reader MessageReader, state persist.Store, carts CartForgetter, log *zap.Logger) *Consumer {
	return &Consumer{reader: reader, state: state, carts: carts, log: log.Named("consumer")}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Warn("error reading message", zap.Error(err))
		return
	}

	if err := c.handle(ctx, m); err != nil {
		c.log.Error("failed to handle checkout event", zap.String("key", string(m.Key)), zap.Error(err))
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != checkout.EventCheckoutSucceeded {
		return nil
	}

	var event checkout.OutcomeEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	if event.IdentityKey == "" {
		return errors.New("event without identity key")
	}

	var errs []error
	for _, name := range []persist.Name{persist.CartStorage, persist.OrderStorage} {
		if err := c.state.Delete(ctx, name, event.IdentityKey); err != nil && !errors.Is(err, persist.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	c.carts.Forget(event.IdentityKey)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.log.Info("cleared state after order", zap.String("identity", event.IdentityKey), zap.String("order_id", event.OrderID))
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
