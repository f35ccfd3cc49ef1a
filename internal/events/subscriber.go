package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw payloads published on topic. The returned cancel
	// function unsubscribes and closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// HandlerFunc processes one inbound payload.
type HandlerFunc func(ctx context.Context, raw []byte) error

// Decode unmarshals an inbound payload into a typed event.
func Decode[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// Consume feeds every payload on topic to handle until ctx is cancelled or
// the subscription closes. A payload that handle rejects is logged and
// dropped; the bus does not redeliver.
func Consume(ctx context.Context, sub Subscriber, topic string, handle HandlerFunc, logger *slog.Logger) error {
	ch, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer cancel()

	logger = logger.With("subject", topic)
	logger.Info("subscriber started")

	var handled, rejected int
	defer func() {
		logger.Info("subscriber stopped", "handled", handled, "rejected", rejected)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handle(ctx, raw); err != nil {
				rejected++
				logger.Warn("event rejected", "err", err)
				continue
			}
			handled++
		}
	}
}
