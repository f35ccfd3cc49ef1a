package deposits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// Applier is what the poller and the subscriber hand reports to.
type Applier interface {
	ListVaults(ctx context.Context, filter model.VaultFilter) ([]*model.Vault, error)
	ApplyDeposit(ctx context.Context, vaultID string, report lifecycle.DepositReport) (*model.Vault, error)
}

// Poller periodically asks a Source for the total of every vault that can
// still receive funds.
type Poller struct {
	source   Source
	applier  Applier
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller.
func NewPoller(src Source, a Applier, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{source: src, applier: a, interval: interval, logger: logger}
}

// Start begins polling. The first poll runs immediately.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.PollOnce(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop cancels polling and waits for the current pass to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// PollOnce polls every created, funding or ready vault once and returns how
// many reports were applied without error.
func (p *Poller) PollOnce(ctx context.Context) int {
	vaults, err := p.applier.ListVaults(ctx, model.VaultFilter{
		Status: []model.Status{model.StatusCreated, model.StatusFunding, model.StatusReady},
	})
	if err != nil {
		p.logger.Error("deposits: list vaults failed", "err", err)
		return 0
	}
	applied := 0
	for _, v := range vaults {
		if ctx.Err() != nil {
			break
		}
		report, err := p.source.TotalDeposits(ctx, v.ID)
		if err != nil {
			p.logger.Warn("deposits: query failed", "vault", v.ID, "err", err)
			continue
		}
		if !report.Total.GreaterThan(v.TotalDeposits) {
			continue
		}
		if _, err := p.applier.ApplyDeposit(ctx, v.ID, report); err != nil {
			p.logger.Warn("deposits: apply failed", "vault", v.ID, "err", err)
			continue
		}
		applied++
	}
	return applied
}
