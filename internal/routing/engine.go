// Package routing turns an approved split into per-recipient payouts: exact
// allocation of the vault balance, then one transfer per recipient, either
// direct or through the swap provider with bounded retries.
package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
)

// Plan is one unlock run to execute.
type Plan struct {
	VaultID     string
	ProposalID  string
	Generation  int64
	SourceAsset string
	Records     []model.RecipientRecord
}

// ApplyFunc persists a record update. It returns model.ErrExpiryRace when
// the run it belongs to has been superseded, which stops routing for that
// recipient without further provider calls.
type ApplyFunc func(ctx context.Context, generation int64, rec model.RecipientRecord) error

// Engine executes unlock plans against a swap provider.
type Engine struct {
	provider    swap.Provider
	backoff     Backoff
	callTimeout time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBackoff sets the retry policy for swap calls.
func WithBackoff(b Backoff) Option { return func(e *Engine) { e.backoff = b } }

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) Option { return func(e *Engine) { e.callTimeout = d } }

// WithConcurrency limits how many recipients are routed at once.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates a routing engine.
func NewEngine(p swap.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:    p,
		backoff:     DefaultBackoff,
		callTimeout: 15 * time.Second,
		concurrency: 8,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	if e.backoff.MaxAttempts < 1 {
		e.backoff.MaxAttempts = 1
	}
	return e
}

// Provider returns the swap provider the engine routes through.
func (e *Engine) Provider() swap.Provider { return e.provider }

// KindFor reports how a recipient asking for targetAsset is paid out of a
// vault holding sourceAsset.
func KindFor(sourceAsset, targetAsset string) model.TransferKind {
	if strings.EqualFold(sourceAsset, targetAsset) {
		return model.TransferDirect
	}
	return model.TransferSwap
}

// Reference is the idempotency key sent to the provider for one payout.
func Reference(runID, recipientID string) string {
	return runID + ":" + recipientID
}

// Execute routes every non-terminal record in plan and returns the final
// state of each, in plan order. Direct and zero-amount records are marked
// submitted without calling the provider. Recipients are routed independently: one
// failing or being fenced does not affect the others. Records left pending
// (context cancelled or fenced) can be resumed by a later Execute.
func (e *Engine) Execute(ctx context.Context, plan Plan, apply ApplyFunc) []model.RecipientRecord {
	out := make([]model.RecipientRecord, len(plan.Records))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, rec := range plan.Records {
		if rec.IsTerminal() {
			out[i] = rec
			continue
		}
		g.Go(func() error {
			out[i] = e.route(ctx, plan, rec, apply)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) route(ctx context.Context, plan Plan, rec model.RecipientRecord, apply ApplyFunc) model.RecipientRecord {
	log := e.logger.With("vault", plan.VaultID, "recipient", rec.RecipientID, "generation", plan.Generation)

	// Nothing is owed on a zero allocation, so there is nothing to swap.
	if rec.Kind == model.TransferDirect || rec.Amount.IsZero() {
		rec.Status = model.RecordSubmitted
		rec.UpdatedAt = e.now()
		if err := apply(ctx, plan.Generation, rec); err != nil {
			e.logApplyError(log, err)
		}
		return rec
	}

	runID := plan.ProposalID
	if runID == "" {
		runID = plan.VaultID
	}
	req := swap.ShiftRequest{
		FromAsset:          plan.SourceAsset,
		ToAsset:            rec.TargetAsset,
		Amount:             rec.Amount,
		DestinationAddress: rec.Address,
		Reference:          Reference(runID, rec.RecipientID),
	}

	for rec.Attempts < e.backoff.MaxAttempts {
		if ctx.Err() != nil {
			return rec
		}
		rec.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		sh, err := e.provider.CreateShift(callCtx, req)
		cancel()
		rec.UpdatedAt = e.now()

		if err == nil {
			rec.Status = model.RecordSubmitted
			rec.ShiftID = sh.ID
			rec.Degraded = sh.Degraded
			rec.LastError = ""
			if err := apply(ctx, plan.Generation, rec); err != nil {
				e.logApplyError(log, err)
			}
			log.Info("swap submitted", "shift", sh.ID, "attempts", rec.Attempts, "degraded", sh.Degraded)
			return rec
		}

		rec.LastError = err.Error()
		if rec.Attempts >= e.backoff.MaxAttempts {
			rec.Status = model.RecordFailed
			if err := apply(ctx, plan.Generation, rec); err != nil {
				e.logApplyError(log, err)
			}
			log.Error("swap failed, retries exhausted", "attempts", rec.Attempts, "err", err)
			return rec
		}

		if err := apply(ctx, plan.Generation, rec); err != nil {
			e.logApplyError(log, err)
			return rec
		}
		delay := e.backoff.Delay(rec.Attempts)
		log.Warn("swap attempt failed, retrying", "attempt", rec.Attempts, "delay", delay, "err", err)
		if err := e.sleep(ctx, delay); err != nil {
			return rec
		}
	}
	return rec
}

func (e *Engine) logApplyError(log *slog.Logger, err error) {
	if errors.Is(err, model.ErrExpiryRace) {
		log.Info("unlock run superseded, stopping")
		return
	}
	log.Error("failed to persist recipient record", "err", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
