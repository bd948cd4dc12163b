package mms

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

func TestPolicyChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels every in-flight transfer oldest first", func(t *testing.T) {
		fx := setupTestEngine(t)

		t1 := registerIncoming(t, fx, "+358401111111")
		t2 := registerIncoming(t, fx, "+358402222222")
		id1, _ := strconv.ParseInt(t1, 10, 64)
		id2, _ := strconv.ParseInt(t2, 10, 64)

		fx.transport.setHold(true)
		sendID, err := fx.eng.SendMessage(ctx, []string{"+358409998877"}, nil, nil, "",
			[]parts.Source{fx.textSource(t, "c.txt", "x")})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}

		stats, _ := fx.eng.Stats(ctx)
		if stats.Active != 3 {
			t.Fatalf("expected 3 in-flight transfers, got %d", stats.Active)
		}

		fx.policy.setProhibited(true)
		fx.eng.PolicyChanged(ctx)

		want := []int64{id1, id2, sendID}
		if diff := cmp.Diff(want, fx.transport.cancelled()); diff != "" {
			t.Errorf("cancelled ids mismatch (-want +got):\n%s", diff)
		}

		stats, _ = fx.eng.Stats(ctx)
		if stats.Active != 0 {
			t.Errorf("expected the in-flight set to be drained, active=%d", stats.Active)
		}

		// A second policy change has nothing left to cancel.
		fx.eng.PolicyChanged(ctx)
		if got := len(fx.transport.cancelled()); got != 3 {
			t.Errorf("expected no further cancellations, got %d total", got)
		}
	})

	t.Run("no cancellation while sending is allowed", func(t *testing.T) {
		fx := setupTestEngine(t)
		registerIncoming(t, fx, "+358401111111")

		fx.eng.PolicyChanged(ctx)

		if got := len(fx.transport.cancelled()); got != 0 {
			t.Errorf("expected no cancellations, got %d", got)
		}
		stats, _ := fx.eng.Stats(ctx)
		if stats.Active != 1 {
			t.Errorf("expected the transfer to stay in flight, active=%d", stats.Active)
		}
	})

	t.Run("nothing in flight is a no-op", func(t *testing.T) {
		fx := setupTestEngine(t)
		fx.policy.setProhibited(true)

		fx.eng.PolicyChanged(ctx)

		if got := len(fx.transport.cancelled()); got != 0 {
			t.Errorf("expected no cancellations, got %d", got)
		}
	})

	t.Run("cancelled transfers keep their stored status", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401111111")

		fx.policy.setProhibited(true)
		fx.eng.PolicyChanged(ctx)

		// Cancellation is bookkeeping towards the transport engine; the
		// record itself stays waiting until the engine reports an outcome.
		rec := mustGetByToken(t, fx, token)
		if rec.Status != store.StatusWaiting {
			t.Errorf("expected status %q, got %q", store.StatusWaiting, rec.Status)
		}
	})
}

func TestSubscriberChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("preference changes apply only after refresh", func(t *testing.T) {
		fx := setupTestEngine(t)

		// The engine works from its snapshot, not live settings.
		fx.settings.setAuto(testSubscriber, false)
		token, err := fx.eng.RegisterNotification(ctx, testSubscriber, "+358401111111", "", time.Time{}, nil)
		if err != nil {
			t.Fatalf("RegisterNotification: %v", err)
		}
		if token == "" {
			t.Error("expected the stale snapshot to still allow automatic download")
		}

		fx.eng.SubscriberChanged(ctx)
		token, err = fx.eng.RegisterNotification(ctx, testSubscriber, "+358401111111", "", time.Time{}, nil)
		if err != nil {
			t.Fatalf("RegisterNotification: %v", err)
		}
		if token != "" {
			t.Errorf("expected manual download after refresh, got token %q", token)
		}
	})

	t.Run("SIM swap changes the dispatch subscriber", func(t *testing.T) {
		fx := setupTestEngine(t)
		const newSIM = "244075555555555"

		fx.policy.setSubscriber(newSIM)
		fx.eng.SubscriberChanged(ctx)

		id, err := fx.eng.SendMessage(ctx, []string{"+358409998877"}, nil, nil, "",
			[]parts.Source{fx.textSource(t, "sim.txt", "x")})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		waitForRecord(t, fx.eng, id, func(r *store.Record) bool { return r.SubscriberID != "" })

		reqs := fx.transport.requests()
		if len(reqs) != 1 {
			t.Fatalf("expected 1 dispatch, got %d", len(reqs))
		}
		if reqs[0].SubscriberID != newSIM {
			t.Errorf("expected dispatch on %q, got %q", newSIM, reqs[0].SubscriberID)
		}
	})

	t.Run("SIM removal clears the snapshot", func(t *testing.T) {
		fx := setupTestEngine(t)

		fx.policy.setSubscriber("")
		fx.eng.SubscriberChanged(ctx)

		// A notification without subscriber attribution has no preference to
		// consult and falls back to manual download.
		token, err := fx.eng.RegisterNotification(ctx, "", "+358401111111", "", time.Time{}, nil)
		if err != nil {
			t.Fatalf("RegisterNotification: %v", err)
		}
		if token != "" {
			t.Errorf("expected manual download without an active subscriber, got token %q", token)
		}
	})
}
