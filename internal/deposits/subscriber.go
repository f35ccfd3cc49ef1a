package deposits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
)

// Handler applies deposit reports pushed on the event bus.
type Handler struct {
	applier Applier
	logger  *slog.Logger
}

// NewHandler creates a push handler.
func NewHandler(a Applier, logger *slog.Logger) *Handler {
	return &Handler{applier: a, logger: logger}
}

// Handle applies one raw report payload.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	r, err := events.Decode[events.DepositReport](raw)
	if err != nil {
		return fmt.Errorf("bad deposit report: %w", err)
	}
	if r.VaultID == "" {
		return errors.New("bad deposit report: vault_id is required")
	}
	_, err = h.applier.ApplyDeposit(ctx, r.VaultID, lifecycle.DepositReport{
		Total:         r.Total,
		Depositor:     r.Depositor,
		RefundAddress: r.RefundAddress,
	})
	return err
}

// StartSubscriber listens for deposit reports on the event bus. It blocks
// until ctx is cancelled or the subscription closes.
func (h *Handler) StartSubscriber(ctx context.Context, sub events.Subscriber) error {
	if err := events.Consume(ctx, sub, events.TopicDepositReported, h.Handle, h.logger.With("component", "deposits")); err != nil {
		return fmt.Errorf("deposits: %w", err)
	}
	return nil
}
