package mms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

func TestStats(t *testing.T) {
	ctx := context.Background()

	t.Run("counts records by status", func(t *testing.T) {
		fx := setupTestEngine(t)

		registerIncoming(t, fx, "+358401111111")
		fx.settings.setAuto(testSubscriber, false)
		fx.eng.SubscriberChanged(ctx)
		if _, err := fx.eng.RegisterNotification(ctx, testSubscriber, "+358402222222", "", time.Time{}, nil); err != nil {
			t.Fatalf("RegisterNotification: %v", err)
		}

		stats, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 2 {
			t.Errorf("expected 2 records, got %d", stats.Total)
		}
		if got := stats.ByStatus[store.StatusWaiting]; got != 1 {
			t.Errorf("expected 1 waiting record, got %d", got)
		}
		if got := stats.ByStatus[store.StatusManualNotification]; got != 1 {
			t.Errorf("expected 1 manual notification, got %d", got)
		}
		if stats.Active != 1 {
			t.Errorf("expected 1 active transfer, got %d", stats.Active)
		}
		if stats.RefreshedAt.IsZero() {
			t.Error("expected a refresh timestamp")
		}
	})

	t.Run("active count bypasses the cache", func(t *testing.T) {
		fx := setupTestEngine(t)

		registerIncoming(t, fx, "+358401111111")
		first, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if first.Total != 1 || first.Active != 1 {
			t.Fatalf("expected total 1 active 1, got total %d active %d", first.Total, first.Active)
		}

		// Within the TTL the counts stay cached but the active count is live.
		registerIncoming(t, fx, "+358402222222")
		second, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if second.Total != 1 {
			t.Errorf("expected cached total 1, got %d", second.Total)
		}
		if second.Active != 2 {
			t.Errorf("expected live active count 2, got %d", second.Active)
		}
	})

	t.Run("counts refresh after the interval", func(t *testing.T) {
		fx := setupTestEngine(t, WithStatsRefreshInterval(time.Nanosecond))

		registerIncoming(t, fx, "+358401111111")
		if _, err := fx.eng.Stats(ctx); err != nil {
			t.Fatalf("Stats: %v", err)
		}

		registerIncoming(t, fx, "+358402222222")
		time.Sleep(time.Millisecond)
		stats, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 2 {
			t.Errorf("expected refreshed total 2, got %d", stats.Total)
		}
	})

	t.Run("callers cannot mutate the cache", func(t *testing.T) {
		fx := setupTestEngine(t)

		registerIncoming(t, fx, "+358401111111")
		first, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		first.ByStatus[store.StatusWaiting] = 99
		first.Total = 99

		second, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if second.Total != 1 || second.ByStatus[store.StatusWaiting] != 1 {
			t.Errorf("cache was mutated through the returned copy: %+v", second)
		}
	})
}

func TestStatsClone(t *testing.T) {
	var s *Stats
	if s.Clone() != nil {
		t.Error("expected nil clone of nil stats")
	}

	orig := &Stats{
		Total:    3,
		ByStatus: map[store.Status]int64{store.StatusSent: 3},
		Active:   1,
	}
	clone := orig.Clone()
	clone.ByStatus[store.StatusSent] = 7
	if orig.ByStatus[store.StatusSent] != 3 {
		t.Error("clone shares the status map with the original")
	}
}

func TestPurgeTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("purges settled records and their part files", func(t *testing.T) {
		fx := setupTestEngine(t)

		// One completed inbound transfer with materialized parts.
		doneToken := registerIncoming(t, fx, "+358401111111")
		err := fx.eng.MessageReceived(ctx, doneToken, "mms-done", "+358401111111",
			nil, nil, "", time.Now().Add(-time.Minute), false,
			[]parts.Source{fx.textSource(t, "body.txt", "hello")})
		if err != nil {
			t.Fatalf("MessageReceived: %v", err)
		}
		done := mustGetByToken(t, fx, doneToken)
		partDir := filepath.Join(fx.partsRoot, doneToken)
		if _, err := os.Stat(partDir); err != nil {
			t.Fatalf("expected materialized parts before the purge: %v", err)
		}

		// One transfer still waiting for its content.
		waitingToken := registerIncoming(t, fx, "+358402222222")
		waiting := mustGetByToken(t, fx, waitingToken)

		purged, err := fx.eng.PurgeTerminal(ctx, 0)
		if err != nil {
			t.Fatalf("PurgeTerminal: %v", err)
		}
		if purged != 1 {
			t.Errorf("expected 1 purged record, got %d", purged)
		}

		if _, err := fx.eng.Get(ctx, done.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected the settled record to be gone, got %v", err)
		}
		if _, err := os.Stat(partDir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected the part directory to be removed, got %v", err)
		}
		if _, err := fx.eng.Get(ctx, waiting.ID); err != nil {
			t.Errorf("expected the waiting record to survive: %v", err)
		}
	})

	t.Run("keeps records newer than the cutoff", func(t *testing.T) {
		fx := setupTestEngine(t)

		token := registerIncoming(t, fx, "+358401111111")
		if err := fx.eng.ReceiveStateChanged(ctx, token, ReceiveStateError); err != nil {
			t.Fatalf("ReceiveStateChanged: %v", err)
		}

		purged, err := fx.eng.PurgeTerminal(ctx, time.Hour)
		if err != nil {
			t.Fatalf("PurgeTerminal: %v", err)
		}
		if purged != 0 {
			t.Errorf("expected nothing purged, got %d", purged)
		}
		if rec := mustGetByToken(t, fx, token); rec.Status != store.StatusTemporarilyFailed {
			t.Errorf("expected the record to survive untouched, got %q", rec.Status)
		}
	})

	t.Run("invalidates the stats cache", func(t *testing.T) {
		fx := setupTestEngine(t)

		token := registerIncoming(t, fx, "+358401111111")
		if err := fx.eng.ReceiveStateChanged(ctx, token, ReceiveStateGarbage); err != nil {
			t.Fatalf("ReceiveStateChanged: %v", err)
		}

		before, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if before.Total != 1 {
			t.Fatalf("expected total 1 before the purge, got %d", before.Total)
		}

		if _, err := fx.eng.PurgeTerminal(ctx, 0); err != nil {
			t.Fatalf("PurgeTerminal: %v", err)
		}

		after, err := fx.eng.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if after.Total != 0 {
			t.Errorf("expected total 0 after the purge, got %d", after.Total)
		}
	})
}
