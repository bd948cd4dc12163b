package mms

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemomobile/mms/store"
)

// Stats is an aggregate view of the record store and the engine's
// in-flight transfers.
type Stats struct {
	// Total is the number of stored records.
	Total int64
	// ByStatus is the record count per lifecycle status.
	ByStatus map[store.Status]int64
	// Active is the number of in-flight transfers. Unlike the counts it is
	// always live, never cached.
	Active int
	// RefreshedAt is when the counts were last read from the store.
	RefreshedAt time.Time
}

// Clone returns a deep copy of the stats.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	out := &Stats{
		Total:       s.Total,
		Active:      s.Active,
		RefreshedAt: s.RefreshedAt,
	}
	if s.ByStatus != nil {
		out.ByStatus = make(map[store.Status]int64, len(s.ByStatus))
		for k, v := range s.ByStatus {
			out.ByStatus[k] = v
		}
	}
	return out
}

// Stats returns record counts by lifecycle status plus the number of
// in-flight transfers. Counts are cached and refreshed from the store when
// older than the configured refresh interval.
func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	if err := e.checkAccess(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()

	// Fast path: return the cached counts if within TTL.
	if e.statsCache != nil && now.Sub(e.statsAt) < e.opts.statsRefreshInterval {
		out := e.statsCache.Clone()
		out.Active = e.active.size()
		return out, nil
	}

	// Slow path: recount from the store and cache.
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	stats := &Stats{
		ByStatus:    counts,
		RefreshedAt: now.UTC(),
	}
	for _, n := range counts {
		stats.Total += n
	}

	e.statsCache = stats
	e.statsAt = now

	out := stats.Clone()
	out.Active = e.active.size()
	return out, nil
}

// PurgeTerminal deletes records that reached a terminal status more than
// olderThan ago, together with their materialized part files. In-flight
// records are never purged regardless of age.
//
// Call this periodically from your application's scheduler; the engine
// does not run it automatically.
func (e *engine) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := e.checkAccess(); err != nil {
		return 0, err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.purge",
		attribute.String("older_than", olderThan.String()),
	)
	var opErr error
	defer func() { endSpan(opErr) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	purged, err := e.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		opErr = fmt.Errorf("purge records: %w", err)
		return 0, opErr
	}

	for _, rec := range purged {
		if err := e.materializer.Cleanup(rec.ID); err != nil {
			e.logger.Warn("failed removing part files for purged record",
				"record_id", rec.ID, "error", err)
		}
	}

	// Force a recount on the next Stats call.
	e.statsCache = nil

	if len(purged) > 0 {
		e.logger.Info("purged terminal MMS records", "count", len(purged))
	}
	return int64(len(purged)), nil
}
