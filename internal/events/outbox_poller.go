// Package events publishes checkout outcomes from the ledger outbox to Kafka and reacts to
// them by clearing the buyer's persisted cart and checkout state.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "checkout-outcomes"

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*ledger.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	GetStaleAttempts(ctx context.Context, before time.Time, terminal ...string) ([]*ledger.Attempt, error)
	CompleteAttempt(ctx context.Context, id string, out ledger.Outcome) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout      time.Duration
	eventTick    time.Duration
	recoveryTick time.Duration
	staleAfter   time.Duration
	repo         OutboxRepository
	writer       MessageWriter
	log          *zap.Logger
	now          func() time.Time
}

func NewOutboxPoller(repo OutboxRepository, log *zap.Logger, topic string, brokers ...string) *OutboxPoller {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(repo, w, log)
}

func newOutboxPoller(repo OutboxRepository, w MessageWriter, log *zap.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:      5 * time.Second,
		eventTick:    time.Second,
		recoveryTick: 30 * time.Second,
		staleAfter:   30 * time.Minute,
		repo:         repo,
		writer:       w,
		log:          log.Named("outbox"),
		now:          time.Now,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStaleAttempts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, 100)
	if err != nil {
		p.log.Error("failed to fetch events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.log.Warn("failed to publish event", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error("failed to mark event as processed", zap.Int64("event_id", event.ID), zap.Error(err))
		}
	}
}

// recoverStaleAttempts fails attempts that never reached an outcome, e.g. because the buyer
// closed the page before the payment widget answered.
func (p *OutboxPoller) recoverStaleAttempts(ctx context.Context) {
	before := p.now().Add(-p.staleAfter)
	attempts, err := p.repo.GetStaleAttempts(ctx, before,
		checkout.StatusOrderSucceeded.String(), checkout.StatusOrderFailed.String())
	if err != nil {
		p.log.Error("failed to get stale attempts", zap.Error(err))
		return
	}

	for _, a := range attempts {
		msg := "checkout abandoned before an order outcome was recorded"
		payload, err := json.Marshal(checkout.OutcomeEvent{
			AttemptID:   a.ID,
			IdentityKey: a.IdentityKey,
			Status:      checkout.StatusOrderFailed.String(),
			Message:     msg,
			OccurredAt:  p.now().UTC(),
		})
		if err != nil {
			p.log.Error("failed to marshal recovery payload", zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}

		err = p.repo.CompleteAttempt(ctx, a.ID, ledger.Outcome{
			Status:    checkout.StatusOrderFailed.String(),
			Message:   msg,
			EventType: checkout.EventCheckoutAbandoned,
			Payload:   payload,
		})
		if err != nil {
			p.log.Error("failed to recover attempt", zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}
		p.log.Info("stale attempt recovered", zap.String("attempt_id", a.ID), zap.String("was", a.Status))
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *ledger.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
