// internal/core/reload/reload.go
package reload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/rules"
	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Periodic rule refresh.
 *
 * Reads the rows eligible right now (enabled, inside their window, quota
 * left) and swaps them into the Store with Replace. Rules whose window
 * closed or quota ran out since the last tick disappear from the Store on
 * the next refresh.
 *
 * Failure handling:
 *   - listing fails: the Store is left untouched, the failure is counted
 *   - a row's definition does not decode: the row is skipped and so leaves
 *     the Store
 *   - a rule does not compile: Replace keeps its previous compiled version
 *
 * A refresh holds the reloader's lock from listing to Replace. Writers that
 * change the source and the Store together (the admin service) take the same
 * lock via Lock/Unlock, so a snapshot never overwrites a newer write.
 */

// RuleSource lists rows eligible at a point in time.
// Implemented by *db.RuleRepository.
type RuleSource interface {
	ListEligible(ctx context.Context, now time.Time) ([]db.RuleRow, error)
}

// Stats reports reloader activity since creation.
type Stats struct {
	Refreshes   uint64    // successful refreshes
	Failures    uint64    // refreshes that could not list rules
	RuleErrors  uint64    // rows that failed to decode or compile, summed over refreshes
	LastLoaded  int       // rules loaded by the last successful refresh
	LastRefresh time.Time // zero until the first successful refresh
}

// Reloader keeps a Store in sync with a RuleSource.
type Reloader struct {
	source   RuleSource
	store    *rules.Store
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex

	refreshes  *atomic.Uint64
	failures   *atomic.Uint64
	ruleErrors *atomic.Uint64
	lastLoaded *atomic.Int64
	lastAt     *atomic.Int64 // unix nanos
}

// New creates a reloader. A nil logger disables logging.
func New(source RuleSource, store *rules.Store, interval time.Duration, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		source:     source,
		store:      store,
		interval:   interval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		refreshes:  atomic.NewUint64(0),
		failures:   atomic.NewUint64(0),
		ruleErrors: atomic.NewUint64(0),
		lastLoaded: atomic.NewInt64(0),
		lastAt:     atomic.NewInt64(0),
	}
}

// Run refreshes every interval until ctx is done. Call RefreshOnce first
// for an initial load. Refresh errors are logged; Run only returns ctx.Err().
func (r *Reloader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Error("rule refresh failed", zap.Error(err))
			}
		}
	}
}

// Lock blocks refreshes until Unlock.
func (r *Reloader) Lock() {
	r.mu.Lock()
}

// Unlock releases a Lock.
func (r *Reloader) Unlock() {
	r.mu.Unlock()
}

// RefreshOnce lists eligible rules and replaces the Store's contents.
func (r *Reloader) RefreshOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rows, err := r.source.ListEligible(ctx, now)
	if err != nil {
		r.failures.Inc()
		return err
	}

	batch := make([]*types.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].Rule()
		if err != nil {
			r.ruleErrors.Inc()
			r.logger.Warn("skipping undecodable rule",
				zap.String("rule_id", rows[i].RuleID),
				zap.Error(err))
			continue
		}
		batch = append(batch, rule)
	}

	result := r.store.Replace(batch)
	r.ruleErrors.Add(uint64(len(result.Failed)))
	r.refreshes.Inc()
	r.lastLoaded.Store(int64(len(result.Loaded)))
	r.lastAt.Store(now.UnixNano())

	r.logger.Info("rules refreshed",
		zap.Int("eligible", len(rows)),
		zap.Int("loaded", len(result.Loaded)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("active", r.store.Len()))
	return nil
}

// Stats returns a snapshot of reloader counters.
func (r *Reloader) Stats() Stats {
	st := Stats{
		Refreshes:  r.refreshes.Load(),
		Failures:   r.failures.Load(),
		RuleErrors: r.ruleErrors.Load(),
		LastLoaded: int(r.lastLoaded.Load()),
	}
	if ns := r.lastAt.Load(); ns != 0 {
		st.LastRefresh = time.Unix(0, ns).UTC()
	}
	return st
}
