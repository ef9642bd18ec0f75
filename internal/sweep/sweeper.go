// Package sweep periodically re-verifies every committed record so tampering
// is noticed without an operator asking.
package sweep

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/verify"
	"go.uber.org/zap"
)

// Config holds sweep configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
	PageSize    int
	// UnavailableThreshold is the number of consecutive NOT_FOUND_ON_LEDGER
	// verdicts after which a record is reported as unreachable.
	UnavailableThreshold int
}

// Lister pages through commitments by status.
// *commitment.MemoryStore and *commitment.PostgresStore satisfy this.
type Lister interface {
	ListByStatus(ctx context.Context, status commitment.Status, after string, limit int) ([]*commitment.Record, error)
}

// Verifier verifies one record. *verify.Engine satisfies this.
type Verifier interface {
	Verify(ctx context.Context, id string) (*verify.Result, error)
}

// AlertFunc is an optional callback invoked when a record turns MISMATCH or
// crosses the unavailability threshold.
type AlertFunc func(ctx context.Context, res *verify.Result)

// MetricsRecordFunc is an optional callback for recording each verdict.
type MetricsRecordFunc func(verdict verify.Verdict)

// Summary counts the outcomes of one sweep.
type Summary struct {
	Checked     int
	Match       int
	Mismatch    int
	Unavailable int
	Errors      int
}

// Sweeper runs periodic verification sweeps.
type Sweeper struct {
	lister      Lister
	verifier    Verifier
	cfg         Config
	mu          sync.Mutex
	unavailable map[string]int
	mismatched  map[string]bool
	onAlert     AlertFunc
	onMetrics   MetricsRecordFunc
	logger      *zap.Logger
}

// New creates a Sweeper.
func New(lister Lister, verifier Verifier, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.UnavailableThreshold <= 0 {
		cfg.UnavailableThreshold = 3
	}
	return &Sweeper{
		lister:      lister,
		verifier:    verifier,
		cfg:         cfg,
		unavailable: make(map[string]int),
		mismatched:  make(map[string]bool),
		logger:      logger,
	}
}

// SetAlert configures the alert callback.
func (s *Sweeper) SetAlert(fn AlertFunc) {
	s.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sweeper) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Start runs the sweep loop until quit is signalled.
func (s *Sweeper) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout(s.cfg.Interval))
			s.RunOnce(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// minRunTimeout is the floor for one sweep's deadline.
const minRunTimeout = 5 * time.Second

// runTimeout bounds a sweep to just under one interval so runs do not overlap,
// but never below minRunTimeout.
func runTimeout(interval time.Duration) time.Duration {
	if d := interval - time.Second; d > minRunTimeout {
		return d
	}
	return minRunTimeout
}

// RunOnce verifies every COMMITTED and FOLLOWUP_COMMITTED record with bounded
// concurrency.
func (s *Sweeper) RunOnce(ctx context.Context) Summary {
	var (
		sum   Summary
		sumMu sync.Mutex
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, s.cfg.Concurrency)

sweep:
	for _, status := range []commitment.Status{commitment.StatusCommitted, commitment.StatusFollowupCommitted} {
		after := ""
		for {
			page, err := s.lister.ListByStatus(ctx, status, after, s.cfg.PageSize)
			if err != nil {
				s.logger.Error("sweep: list commitments", zap.String("status", string(status)), zap.Error(err))
				break
			}
			for _, rec := range page {
				if ctx.Err() != nil {
					s.logger.Warn("sweep: deadline reached, stopping early", zap.Error(ctx.Err()))
					break sweep
				}
				// Take a slot before spawning so at most Concurrency
				// workers exist at once.
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					s.logger.Warn("sweep: deadline reached, stopping early", zap.Error(ctx.Err()))
					break sweep
				}
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					defer func() { <-sem }()

					outcome := s.check(ctx, id)
					sumMu.Lock()
					sum.Checked++
					switch outcome {
					case verify.VerdictMatch:
						sum.Match++
					case verify.VerdictMismatch:
						sum.Mismatch++
					case verify.VerdictNotFoundOnLedger:
						sum.Unavailable++
					default:
						sum.Errors++
					}
					sumMu.Unlock()
				}(rec.RecordID)
			}
			if len(page) < s.cfg.PageSize {
				break
			}
			after = page[len(page)-1].RecordID
		}
	}

	wg.Wait()
	s.logger.Info("sweep: done",
		zap.Int("checked", sum.Checked),
		zap.Int("mismatch", sum.Mismatch),
		zap.Int("unavailable", sum.Unavailable),
		zap.Int("errors", sum.Errors),
	)
	return sum
}

// check verifies id and returns its verdict, or "" on error.
func (s *Sweeper) check(ctx context.Context, id string) verify.Verdict {
	res, err := s.verifier.Verify(ctx, id)
	if err != nil {
		s.logger.Warn("sweep: verify", zap.String("record_id", id), zap.Error(err))
		return ""
	}
	if s.onMetrics != nil {
		s.onMetrics(res.Verdict)
	}

	s.mu.Lock()
	wasMismatched := s.mismatched[id]
	s.mismatched[id] = res.Verdict == verify.VerdictMismatch
	if res.Verdict == verify.VerdictNotFoundOnLedger {
		s.unavailable[id]++
	} else {
		s.unavailable[id] = 0
	}
	count := s.unavailable[id]
	s.mu.Unlock()

	switch {
	case res.Verdict == verify.VerdictMismatch && !wasMismatched:
		// Transition: intact → tampered
		s.logger.Warn("sweep: mismatch",
			zap.String("record_id", id),
			zap.String("record_type", string(res.RecordType)),
		)
		s.alert(ctx, res)
	case res.Verdict == verify.VerdictNotFoundOnLedger && count == s.cfg.UnavailableThreshold:
		s.logger.Warn("sweep: ledger entry unreachable",
			zap.String("record_id", id),
			zap.Int("consecutive", count),
		)
		s.alert(ctx, res)
	case res.Verdict == verify.VerdictNotFoundOnLedger:
		s.logger.Info("sweep: ledger entry unavailable", zap.String("record_id", id))
	case res.Verdict == verify.VerdictMatch && wasMismatched:
		s.logger.Info("sweep: record matches again", zap.String("record_id", id))
	}
	return res.Verdict
}

func (s *Sweeper) alert(ctx context.Context, res *verify.Result) {
	if s.onAlert != nil {
		s.onAlert(ctx, res)
	}
}
