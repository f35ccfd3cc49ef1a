package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/store"
)

// finalSnapshotTimeout bounds the snapshot taken while stopping.
const finalSnapshotTimeout = 30 * time.Second

// Destination is the interface for a snapshot target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Result describes one snapshot pass.
type Result struct {
	Bytes     int
	Unchanged bool // vault state matched the last snapshot, nothing written
	Written   int
	Failed    int
}

// Scheduler backs up vault state to one or more destinations on an interval.
// A snapshot is only written when vault state changed since the last one
// every destination accepted, and a final snapshot is taken on Stop so the
// backup holds the state the process shut down with.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	lastDigest [sha256.Size]byte
	hasDigest  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that snapshots s to destinations every
// interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic snapshots. The first runs immediately.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler, waits for the loop to exit and writes a final
// snapshot. Stop without Start does nothing.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), finalSnapshotTimeout)
	defer cancel()
	s.SyncOnce(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the store and writes the snapshot to every destination.
// A failing destination is logged and does not stop the others.
func (s *Scheduler) SyncOnce(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		s.logger.Error("snapshot export failed", "err", err)
		return Result{}
	}
	data := buf.Bytes()
	res := Result{Bytes: len(data)}

	digest := contentDigest(data)
	if s.hasDigest && digest == s.lastDigest {
		res.Unchanged = true
		s.logger.Debug("snapshot unchanged, skipping write", "bytes", len(data))
		return res
	}

	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			res.Failed++
			s.logger.Error("snapshot write failed", "destination", destinationName(dest), "err", err)
			continue
		}
		res.Written++
	}
	if res.Failed == 0 {
		s.lastDigest, s.hasDigest = digest, true
	}

	s.logger.Info("snapshot synced", "written", res.Written, "failed", res.Failed, "bytes", len(data))
	return res
}

// contentDigest hashes a snapshot without its header line, which carries
// the export time.
func contentDigest(data []byte) [sha256.Size]byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return sha256.Sum256(data)
}

func destinationName(d Destination) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", d)
}
