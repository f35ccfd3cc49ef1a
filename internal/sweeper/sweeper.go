// Package sweeper periodically expires stale unlock proposals and destroys
// expired vaults. It competes with live traffic for the same per-vault gate
// and has no priority over it.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

// Lifecycle is the subset of the lifecycle service the sweeper drives.
type Lifecycle interface {
	ExpireProposal(ctx context.Context, proposalID string, now time.Time) (bool, error)
	DestroyExpired(ctx context.Context, vaultID string, now time.Time) (*model.Vault, error)
	ResumeUnlock(ctx context.Context, vaultID string) (*model.Vault, error)
}

// DefaultResumeAfter is how long an unlock run may go without progress
// before the sweeper resumes it.
const DefaultResumeAfter = 10 * time.Minute

// Report summarizes one sweep cycle.
type Report struct {
	ProposalsExpired int `json:"proposals_expired"`
	ProposalsSkipped int `json:"proposals_skipped"`
	VaultsDestroyed  int `json:"vaults_destroyed"`
	VaultsUnlocking  int `json:"vaults_unlocking"`
	VaultsSkipped    int `json:"vaults_skipped"`
	RunsResumed      int `json:"runs_resumed"`
	Errors           int `json:"errors"`
}

// Sweeper runs SweepOnce on a fixed interval.
type Sweeper struct {
	store     store.Store
	lifecycle Lifecycle
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	// ResumeAfter is the idle time after which an unlocking vault's run is
	// resumed. Zero disables resuming.
	ResumeAfter time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper that scans s and applies expiry through lc.
func New(s store.Store, lc Lifecycle, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     s,
		lifecycle: lc,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },

		ResumeAfter: DefaultResumeAfter,
	}
}

// Start begins periodic sweeping. The first sweep runs immediately.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the sweeper and waits for the current cycle to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	s.SweepOnce(ctx, s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, s.now())
		}
	}
}

// SweepOnce runs one cycle against now. Stale proposals go first so that a
// vault whose proposal just lapsed is seen without it. A failure on one
// entity is logged and the cycle moves on.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) Report {
	var r Report

	proposals, err := s.store.GetExpiredProposals(ctx, now)
	if err != nil {
		s.logger.Error("sweep: list expired proposals failed", "err", err)
		r.Errors++
	}
	for _, p := range proposals {
		if ctx.Err() != nil {
			return r
		}
		expired, err := s.lifecycle.ExpireProposal(ctx, p.ID, now)
		switch {
		case err != nil:
			s.logger.Error("sweep: expire proposal failed", "proposal", p.ID, "vault", p.VaultID, "err", err)
			r.Errors++
		case expired:
			s.logger.Info("sweep: proposal expired", "proposal", p.ID, "vault", p.VaultID)
			r.ProposalsExpired++
		default:
			r.ProposalsSkipped++
		}
	}

	vaults, err := s.store.GetExpiredVaults(ctx, now)
	if err != nil {
		s.logger.Error("sweep: list expired vaults failed", "err", err)
		r.Errors++
	}
	for _, v := range vaults {
		if ctx.Err() != nil {
			return r
		}
		got, err := s.lifecycle.DestroyExpired(ctx, v.ID, now)
		switch {
		case err != nil:
			s.logger.Error("sweep: destroy vault failed", "vault", v.ID, "err", err)
			r.Errors++
		case got.Status == model.StatusDestroyed:
			r.VaultsDestroyed++
		case got.Status == model.StatusUnlocking:
			r.VaultsUnlocking++
		default:
			r.VaultsSkipped++
		}
	}

	if s.ResumeAfter > 0 && ctx.Err() == nil {
		s.resumeStale(ctx, now, &r)
	}

	if r != (Report{}) {
		s.logger.Info("sweep completed",
			"proposals_expired", r.ProposalsExpired,
			"vaults_destroyed", r.VaultsDestroyed,
			"vaults_unlocking", r.VaultsUnlocking,
			"runs_resumed", r.RunsResumed,
			"errors", r.Errors)
	}
	return r
}

// resumeStale re-drives unlock runs that stopped making progress, for
// example because the request that started them went away.
func (s *Sweeper) resumeStale(ctx context.Context, now time.Time, r *Report) {
	vaults, err := s.store.ListVaults(ctx, model.VaultFilter{Status: []model.Status{model.StatusUnlocking}})
	if err != nil {
		s.logger.Error("sweep: list unlocking vaults failed", "err", err)
		r.Errors++
		return
	}
	cutoff := now.Add(-s.ResumeAfter)
	for _, v := range vaults {
		if ctx.Err() != nil {
			return
		}
		if v.Run == nil || !v.UpdatedAt.Before(cutoff) {
			continue
		}
		got, err := s.lifecycle.ResumeUnlock(ctx, v.ID)
		var te *model.TransitionError
		switch {
		case errors.As(err, &te):
			// Finished between the listing and the resume.
		case err != nil:
			s.logger.Error("sweep: resume unlock failed", "vault", v.ID, "err", err)
			r.Errors++
		default:
			s.logger.Info("sweep: unlock resumed", "vault", v.ID, "status", got.Status)
			r.RunsResumed++
			if got.Status == model.StatusDestroyed {
				r.VaultsDestroyed++
			}
		}
	}
}
