package mms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

func mustGetByToken(t *testing.T, fx *engineFixture, token string) *store.Record {
	t.Helper()
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		t.Fatalf("token %q is not a record id: %v", token, err)
	}
	rec, err := fx.eng.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rec
}

func TestReceiveStateChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("progress states", func(t *testing.T) {
		tests := []struct {
			name  string
			state ReceiveState
			want  store.Status
		}{
			{"receiving", ReceiveStateReceiving, store.StatusDownloading},
			{"decoding", ReceiveStateDecoding, store.StatusDownloading},
			{"deferred", ReceiveStateDeferred, store.StatusWaiting},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := setupTestEngine(t)
				token := registerIncoming(t, fx, "+358401234567")

				if err := fx.eng.ReceiveStateChanged(ctx, token, tt.state); err != nil {
					t.Fatalf("ReceiveStateChanged: %v", err)
				}

				rec := mustGetByToken(t, fx, token)
				if rec.Status != tt.want {
					t.Errorf("expected status %q, got %q", tt.want, rec.Status)
				}
				if fx.notifier.count() != 0 {
					t.Errorf("expected no notification for in-progress state, got %d", fx.notifier.count())
				}

				stats, _ := fx.eng.Stats(ctx)
				if stats.Active != 1 {
					t.Errorf("expected transfer to stay in flight, active=%d", stats.Active)
				}
			})
		}
	})

	t.Run("failure states finish the transfer", func(t *testing.T) {
		tests := []struct {
			name  string
			state ReceiveState
			want  store.Status
		}{
			{"no space", ReceiveStateNoSpace, store.StatusTemporarilyFailed},
			{"error", ReceiveStateError, store.StatusTemporarilyFailed},
			{"garbage", ReceiveStateGarbage, store.StatusPermanentlyFailed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				fx := setupTestEngine(t)
				token := registerIncoming(t, fx, "+358401234567")

				if err := fx.eng.ReceiveStateChanged(ctx, token, tt.state); err != nil {
					t.Fatalf("ReceiveStateChanged: %v", err)
				}

				rec := mustGetByToken(t, fx, token)
				if rec.Status != tt.want {
					t.Errorf("expected status %q, got %q", tt.want, rec.Status)
				}

				call, ok := fx.notifier.last()
				if !ok {
					t.Fatal("expected a failure notification")
				}
				if call.status != tt.want {
					t.Errorf("expected notification status %q, got %q", tt.want, call.status)
				}

				stats, _ := fx.eng.Stats(ctx)
				if stats.Active != 0 {
					t.Errorf("expected transfer to leave the in-flight set, active=%d", stats.Active)
				}
			})
		}
	})

	t.Run("unknown state code is ignored", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401234567")

		if err := fx.eng.ReceiveStateChanged(ctx, token, ReceiveState(42)); err != nil {
			t.Fatalf("ReceiveStateChanged: %v", err)
		}

		rec := mustGetByToken(t, fx, token)
		if rec.Status != store.StatusWaiting {
			t.Errorf("expected status unchanged at %q, got %q", store.StatusWaiting, rec.Status)
		}
	})

	t.Run("unknown token is not an error", func(t *testing.T) {
		fx := setupTestEngine(t)

		if err := fx.eng.ReceiveStateChanged(ctx, "424242", ReceiveStateReceiving); err != nil {
			t.Errorf("expected nil for unknown token, got %v", err)
		}
	})

	t.Run("failure after manual fallback keeps the manual notification", func(t *testing.T) {
		fx := setupTestEngine(t)
		fx.settings.setAuto(testSubscriber, false)
		fx.eng.SubscriberChanged(ctx)

		if _, err := fx.eng.RegisterNotification(ctx, testSubscriber, "+358401234567", "", time.Time{}, nil); err != nil {
			t.Fatalf("RegisterNotification: %v", err)
		}
		if fx.notifier.count() != 1 {
			t.Fatalf("expected 1 notification after registering, got %d", fx.notifier.count())
		}

		recs, err := fx.eng.List(ctx, ListOptions{Status: store.StatusManualNotification})
		if err != nil || len(recs) != 1 {
			t.Fatalf("expected 1 manual record, got %d (err=%v)", len(recs), err)
		}
		token := recs[0].Token

		// A trailing abort from the engine must not clobber the manual
		// notification or alert the user a second time.
		for _, state := range []ReceiveState{ReceiveStateError, ReceiveStateNoSpace} {
			if err := fx.eng.ReceiveStateChanged(ctx, token, state); err != nil {
				t.Fatalf("ReceiveStateChanged(%v): %v", state, err)
			}
		}

		rec := mustGetByToken(t, fx, token)
		if rec.Status != store.StatusManualNotification {
			t.Errorf("expected status %q, got %q", store.StatusManualNotification, rec.Status)
		}
		if fx.notifier.count() != 1 {
			t.Errorf("expected no second notification, got %d total", fx.notifier.count())
		}
	})
}

func TestMessageReceived(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a waiting transfer", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401234567")

		date := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
		sources := []parts.Source{
			fx.textSource(t, "text_0.txt", "Hello "),
			fx.textSource(t, "text_1.txt", "world"),
			{
				Path:        fx.spoolFile(t, "photo.jpg", "\xff\xd8fakejpeg"),
				ContentType: "image/jpeg",
				ContentID:   "photo.jpg",
			},
		}

		err := fx.eng.MessageReceived(ctx, token, "mms-abc123", "+358 40 123 4567",
			[]string{"+358 40 999 8877"}, nil, "holiday pics", date, true, sources)
		if err != nil {
			t.Fatalf("MessageReceived: %v", err)
		}

		rec := mustGetByToken(t, fx, token)
		if rec.Status != store.StatusReceived {
			t.Errorf("expected status %q, got %q", store.StatusReceived, rec.Status)
		}
		if rec.MMSID != "mms-abc123" {
			t.Errorf("expected carrier id %q, got %q", "mms-abc123", rec.MMSID)
		}
		if rec.Subject != "holiday pics" {
			t.Errorf("expected subject %q, got %q", "holiday pics", rec.Subject)
		}
		if !rec.StartTime.Equal(date) {
			t.Errorf("expected start time %v, got %v", date, rec.StartTime)
		}
		if len(rec.To) != 1 || rec.To[0] != "+358409998877" {
			t.Errorf("expected normalized to list, got %v", rec.To)
		}
		if !rec.ReportRequested {
			t.Error("expected read report request to be recorded")
		}
		if rec.SubscriberID != "" || rec.PushData != nil || !rec.Expiry.IsZero() {
			t.Error("expected transient notification metadata to be cleared")
		}
		if rec.FreeText != "Hello\nworld" {
			t.Errorf("expected free text %q, got %q", "Hello\nworld", rec.FreeText)
		}
		if len(rec.Parts) != 3 {
			t.Fatalf("expected 3 stored parts, got %d", len(rec.Parts))
		}
		for _, p := range rec.Parts {
			if !strings.HasPrefix(p.Path, fx.partsRoot) {
				t.Errorf("part %q stored outside the part area %q", p.Path, fx.partsRoot)
			}
			if _, err := os.Stat(p.Path); err != nil {
				t.Errorf("stored part file missing: %v", err)
			}
		}

		call, ok := fx.notifier.last()
		if !ok {
			t.Fatal("expected a new-message notification")
		}
		if call.status != store.StatusReceived {
			t.Errorf("expected notification status %q, got %q", store.StatusReceived, call.status)
		}
		if call.party != "+358401234567" {
			t.Errorf("expected notification party %q, got %q", "+358401234567", call.party)
		}

		stats, _ := fx.eng.Stats(ctx)
		if stats.Active != 0 {
			t.Errorf("expected transfer to leave the in-flight set, active=%d", stats.Active)
		}
	})

	t.Run("corrects the sender and moves the conversation", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401111111")
		announced := mustGetByToken(t, fx, token)

		err := fx.eng.MessageReceived(ctx, token, "mms-1", "+358402222222",
			nil, nil, "", time.Now(), false,
			[]parts.Source{fx.textSource(t, "body.txt", "hi")})
		if err != nil {
			t.Fatalf("MessageReceived: %v", err)
		}

		rec := mustGetByToken(t, fx, token)
		if rec.RemoteUID != "+358402222222" {
			t.Errorf("expected corrected sender %q, got %q", "+358402222222", rec.RemoteUID)
		}
		if rec.GroupID == announced.GroupID {
			t.Errorf("expected record to move out of group %d", announced.GroupID)
		}

		// The corrected record must share the real sender's conversation.
		other := registerIncoming(t, fx, "+358402222222")
		if got := mustGetByToken(t, fx, other).GroupID; got != rec.GroupID {
			t.Errorf("expected corrected record in the real sender's group %d, got %d", got, rec.GroupID)
		}
	})

	t.Run("unknown token stores a new message", func(t *testing.T) {
		fx := setupTestEngine(t)

		err := fx.eng.MessageReceived(ctx, "987654", "mms-orphan", "+358403333333",
			nil, nil, "late arrival", time.Now(), false,
			[]parts.Source{fx.textSource(t, "late.txt", "made it")})
		if err != nil {
			t.Fatalf("MessageReceived: %v", err)
		}

		recs, err := fx.eng.List(ctx, ListOptions{Status: store.StatusReceived})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 received record, got %d", len(recs))
		}
		rec := recs[0]
		if rec.MMSID != "mms-orphan" {
			t.Errorf("expected carrier id %q, got %q", "mms-orphan", rec.MMSID)
		}
		if rec.RemoteUID != "+358403333333" {
			t.Errorf("expected sender %q, got %q", "+358403333333", rec.RemoteUID)
		}
		if rec.FreeText != "made it" {
			t.Errorf("expected free text %q, got %q", "made it", rec.FreeText)
		}
		if rec.GroupID == 0 {
			t.Error("expected the new record to join a conversation group")
		}
	})

	t.Run("failed materialization rolls back and marks the record", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401234567")
		rec := mustGetByToken(t, fx, token)

		sources := []parts.Source{
			fx.textSource(t, "ok.txt", "first part lands"),
			{Path: filepath.Join(fx.spoolDir, "missing.bin"), ContentType: "application/octet-stream", ContentID: "missing"},
		}

		err := fx.eng.MessageReceived(ctx, token, "mms-bad", "+358401234567",
			nil, nil, "", time.Now(), false, sources)
		var matErr *MaterializeError
		if !errors.As(err, &matErr) {
			t.Fatalf("expected MaterializeError, got %v", err)
		}
		if matErr.RecordID != rec.ID {
			t.Errorf("expected failing record %d, got %d", rec.ID, matErr.RecordID)
		}

		after := mustGetByToken(t, fx, token)
		if after.Status != store.StatusTemporarilyFailed {
			t.Errorf("expected status %q, got %q", store.StatusTemporarilyFailed, after.Status)
		}
		if len(after.Parts) != 0 {
			t.Errorf("expected no stored parts after rollback, got %d", len(after.Parts))
		}

		partDir := filepath.Join(fx.partsRoot, strconv.FormatInt(rec.ID, 10))
		if _, err := os.Stat(partDir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected part directory %q to be removed, stat err=%v", partDir, err)
		}

		call, ok := fx.notifier.last()
		if !ok {
			t.Fatal("expected a failure notification")
		}
		if call.status != store.StatusTemporarilyFailed {
			t.Errorf("expected notification status %q, got %q", store.StatusTemporarilyFailed, call.status)
		}
	})

	t.Run("empty sender fails", func(t *testing.T) {
		fx := setupTestEngine(t)
		token := registerIncoming(t, fx, "+358401234567")

		err := fx.eng.MessageReceived(ctx, token, "mms-1", "", nil, nil, "", time.Now(), false, nil)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
	})
}
