package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"
	// ReadBackoff is the pause after a failed read.
	ReadBackoff = time.Second
)

var ErrMissingSession = errors.New("missing or invalid session_id")

// OrderCompleter empties the cart once its order has been placed.
type OrderCompleter interface {
	CompleteOrder(ctx context.Context, sessionID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller consumes order-completed events and clears the matching carts.
type Poller struct {
	reader  messageReader
	carts   OrderCompleter
	log     *slog.Logger
	backoff time.Duration
}

func NewPoller(carts OrderCompleter, log *slog.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(reader, carts, log)
}

func newPoller(reader messageReader, carts OrderCompleter, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{reader: reader, carts: carts, log: log.With("component", "poller"), backoff: ReadBackoff}
}

// Run reads until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.getMessageAndEmptyCart(ctx); err != nil {
			p.wait(ctx)
		}
	}
}

func (p *Poller) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", "error", err)
	}
}

// getMessageAndEmptyCart returns only read errors; a message that cannot be
// applied is logged and skipped.
func (p *Poller) getMessageAndEmptyCart(ctx context.Context) error {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.ErrorContext(ctx, "error reading message", "error", err)
		}
		return err
	}

	if errHandle := p.handleMessage(ctx, m.Value); errHandle != nil {
		p.log.WarnContext(ctx, "order event not applied",
			"offset", m.Offset, "partition", m.Partition, "error", errHandle)
	}
	return nil
}

// handleMessage clears the cart named by an order event. Older producers
// send user_id instead of session_id.
func (p *Poller) handleMessage(ctx context.Context, value []byte) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}

	sessionID, _ := payload["session_id"].(string)
	if sessionID == "" {
		sessionID, _ = payload["user_id"].(string)
	}
	if sessionID == "" {
		return ErrMissingSession
	}

	if err := p.carts.CompleteOrder(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear cart %s: %w", sessionID, err)
	}
	p.log.InfoContext(ctx, "cart cleared after order", "session_id", sessionID)
	return nil
}
