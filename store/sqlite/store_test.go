package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nemomobile/mms/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(":memory:", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func testRecord(dir store.Direction, status store.Status) *store.Record {
	return &store.Record{
		Direction: dir,
		Status:    status,
		LocalUID:  "/local/account",
		RemoteUID: "+358401234567",
	}
}

func mustCreate(t *testing.T, s *Store, rec *store.Record) *store.Record {
	t.Helper()
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		s := New(":memory:")
		if err := s.Ping(ctx); !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected before Connect, got %v", err)
		}
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
		if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
		if err := s.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := s.Close(ctx); err != nil {
			t.Errorf("expected double Close to be a no-op, got %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		s := New("")
		if err := s.Connect(ctx); err == nil {
			t.Error("expected an error for an empty path")
		}
	})
}

func TestFilePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mms.db")

	s := New(path)
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen the same file and find the record again.
	reopened := New(path)
	if err := reopened.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer reopened.Close(ctx)

	got, err := reopened.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Token != rec.Token || got.Status != store.StatusReceived {
		t.Errorf("record did not survive the reopen: %+v", got)
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)

		rec := testRecord(store.DirectionInbound, store.StatusWaiting)
		rec.MMSID = "carrier-1"
		rec.To = []string{"+358409998877"}
		rec.Cc = []string{"+358401112233"}
		rec.Subject = "holiday pics"
		rec.FreeText = "hello"
		rec.Parts = []store.Part{{ContentID: "a.txt", ContentType: "text/plain", Path: "/parts/1/a.txt"}}
		rec.SubscriberID = "244070123456789"
		rec.Expiry = time.Now().Add(72 * time.Hour).UTC()
		rec.PushData = []byte{0x8c, 0x82}
		rec.ReportRequested = true
		rec.StartTime = time.Now().Add(-time.Minute).UTC()
		mustCreate(t, s, rec)

		if rec.ID <= 0 {
			t.Fatalf("expected an assigned id, got %d", rec.ID)
		}
		if rec.Token != "1" {
			t.Errorf("expected token %q, got %q", "1", rec.Token)
		}

		got, err := s.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.MMSID != "carrier-1" || got.Subject != "holiday pics" || got.FreeText != "hello" {
			t.Errorf("text fields did not round trip: %+v", got)
		}
		if diff := cmp.Diff(rec.To, got.To); diff != "" {
			t.Errorf("to list (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(rec.Cc, got.Cc); diff != "" {
			t.Errorf("cc list (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(rec.Parts, got.Parts); diff != "" {
			t.Errorf("parts (-want +got):\n%s", diff)
		}
		if string(got.PushData) != string(rec.PushData) {
			t.Errorf("push data did not round trip: %v", got.PushData)
		}
		if !got.ReportRequested {
			t.Error("report flag did not round trip")
		}
		if !got.Expiry.Equal(rec.Expiry) {
			t.Errorf("expiry did not round trip: %v vs %v", got.Expiry, rec.Expiry)
		}
		if got.ReadStatus != store.ReadStatusUnknown {
			t.Errorf("expected default read status, got %q", got.ReadStatus)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("expected creation timestamps")
		}
	})

	t.Run("zero times stay zero", func(t *testing.T) {
		s := newStore(t)
		rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))

		got, err := s.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.Expiry.IsZero() || !got.StartTime.IsZero() || !got.EndTime.IsZero() {
			t.Errorf("expected unset times to stay zero: %+v", got)
		}
	})

	t.Run("sequential ids and tokens", func(t *testing.T) {
		s := newStore(t)
		first := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))
		second := mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSending))

		if first.ID >= second.ID {
			t.Errorf("expected increasing ids, got %d then %d", first.ID, second.ID)
		}
		if first.Token == second.Token {
			t.Error("expected unique tokens")
		}
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		s := newStore(t)

		if err := s.Create(ctx, nil); !errors.Is(err, store.ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord for nil, got %v", err)
		}
		saved := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))
		if err := s.Create(ctx, saved); !errors.Is(err, store.ErrAlreadySaved) {
			t.Errorf("expected ErrAlreadySaved, got %v", err)
		}
		if err := s.Create(ctx, testRecord(store.DirectionInbound, store.Status("bogus"))); !errors.Is(err, store.ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord for a bad status, got %v", err)
		}
	})

	t.Run("invalid and missing ids", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, 0); !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
		if _, err := s.Get(ctx, 404); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGetByTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("primary token", func(t *testing.T) {
		s := newStore(t)
		rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))

		got, err := s.GetByTokens(ctx, rec.Token, "")
		if err != nil {
			t.Fatalf("GetByTokens: %v", err)
		}
		if got.ID != rec.ID {
			t.Errorf("expected record %d, got %d", rec.ID, got.ID)
		}
	})

	t.Run("secondary token picks the newest match", func(t *testing.T) {
		s := newStore(t)

		older := testRecord(store.DirectionOutbound, store.StatusSent)
		older.MMSID = "carrier-dup"
		mustCreate(t, s, older)

		newer := testRecord(store.DirectionOutbound, store.StatusSent)
		newer.MMSID = "carrier-dup"
		mustCreate(t, s, newer)

		got, err := s.GetByTokens(ctx, "", "carrier-dup")
		if err != nil {
			t.Fatalf("GetByTokens: %v", err)
		}
		if got.ID != newer.ID {
			t.Errorf("expected newest record %d, got %d", newer.ID, got.ID)
		}
	})

	t.Run("no token", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetByTokens(ctx, "", ""); !errors.Is(err, store.ErrNoToken) {
			t.Errorf("expected ErrNoToken, got %v", err)
		}
	})

	t.Run("no match", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetByTokens(ctx, "99", ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Store {
		s := newStore(t)
		mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))
		mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))
		mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSending))
		mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSent))
		return s
	}

	ids := func(recs []*store.Record) []int64 {
		out := make([]int64, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	t.Run("newest first", func(t *testing.T) {
		s := seed(t)
		recs, err := s.List(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{4, 3, 2, 1}, ids(recs)); diff != "" {
			t.Errorf("unexpected order (-want +got):\n%s", diff)
		}
	})

	t.Run("filters", func(t *testing.T) {
		s := seed(t)

		recs, err := s.List(ctx, store.ListOptions{Direction: store.DirectionOutbound})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{4, 3}, ids(recs)); diff != "" {
			t.Errorf("direction filter (-want +got):\n%s", diff)
		}

		recs, err = s.List(ctx, store.ListOptions{Status: store.StatusReceived})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{2}, ids(recs)); diff != "" {
			t.Errorf("status filter (-want +got):\n%s", diff)
		}
	})

	t.Run("group filter", func(t *testing.T) {
		s := newStore(t)
		group, err := s.ResolveGroup(ctx, "/local/account", "+358401234567")
		if err != nil {
			t.Fatalf("ResolveGroup: %v", err)
		}
		rec := testRecord(store.DirectionInbound, store.StatusReceived)
		rec.GroupID = group
		mustCreate(t, s, rec)
		mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))

		recs, err := s.List(ctx, store.ListOptions{GroupID: group})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{rec.ID}, ids(recs)); diff != "" {
			t.Errorf("group filter (-want +got):\n%s", diff)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		s := seed(t)

		page, err := s.List(ctx, store.ListOptions{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{2, 1}, ids(page)); diff != "" {
			t.Errorf("unexpected page (-want +got):\n%s", diff)
		}

		// Offset without limit takes the LIMIT -1 branch.
		page, err = s.List(ctx, store.ListOptions{Offset: 3})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]int64{1}, ids(page)); diff != "" {
			t.Errorf("offset without limit (-want +got):\n%s", diff)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("updates fields", func(t *testing.T) {
		s := newStore(t)
		rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))

		rec.Status = store.StatusReceived
		rec.MMSID = "carrier-9"
		rec.FreeText = "arrived"
		if err := s.Update(ctx, rec); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := s.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != store.StatusReceived || got.MMSID != "carrier-9" || got.FreeText != "arrived" {
			t.Errorf("update not applied: %+v", got)
		}
		if got.Token != rec.Token {
			t.Errorf("token must be immutable, got %q", got.Token)
		}
	})

	t.Run("ignores group changes", func(t *testing.T) {
		s := newStore(t)
		group, err := s.ResolveGroup(ctx, "/local/account", "+358401234567")
		if err != nil {
			t.Fatalf("ResolveGroup: %v", err)
		}
		rec := testRecord(store.DirectionInbound, store.StatusReceived)
		rec.GroupID = group
		mustCreate(t, s, rec)

		rec.GroupID = group + 40
		if err := s.Update(ctx, rec); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if rec.GroupID != group {
			t.Errorf("expected the caller's record synced back to group %d, got %d", group, rec.GroupID)
		}

		got, _ := s.Get(ctx, rec.ID)
		if got.GroupID != group {
			t.Errorf("expected stored group %d, got %d", group, got.GroupID)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		s := newStore(t)

		if err := s.Update(ctx, nil); !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID for nil, got %v", err)
		}

		ghost := testRecord(store.DirectionInbound, store.StatusWaiting)
		ghost.ID = 404
		if err := s.Update(ctx, ghost); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateReadStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSent))
	if err := s.UpdateReadStatus(ctx, rec.ID, store.ReadStatusRead); err != nil {
		t.Fatalf("UpdateReadStatus: %v", err)
	}

	got, _ := s.Get(ctx, rec.ID)
	if got.ReadStatus != store.ReadStatusRead {
		t.Errorf("expected %q, got %q", store.ReadStatusRead, got.ReadStatus)
	}
	if got.Status != store.StatusSent {
		t.Errorf("lifecycle status must stay %q, got %q", store.StatusSent, got.Status)
	}

	if err := s.UpdateReadStatus(ctx, 404, store.ReadStatusRead); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateReadStatus(ctx, rec.ID, store.ReadStatus("bogus")); !errors.Is(err, store.ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))
	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for double delete, got %v", err)
	}
}

func TestResolveGroup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.ResolveGroup(ctx, "/local/a", "+358401111111")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	again, err := s.ResolveGroup(ctx, "/local/a", "+358401111111")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if again != first {
		t.Errorf("expected a stable group id, got %d and %d", first, again)
	}

	other, err := s.ResolveGroup(ctx, "/local/a", "+358402222222")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if other == first {
		t.Error("expected a different group for a different remote party")
	}

	if _, err := s.ResolveGroup(ctx, "/local/a", ""); !errors.Is(err, store.ErrGroupResolution) {
		t.Errorf("expected ErrGroupResolution, got %v", err)
	}
}

func TestMoveGroup(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))
	group, err := s.ResolveGroup(ctx, "/local/account", "+358405556677")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}

	if err := s.MoveGroup(ctx, rec, group); err != nil {
		t.Fatalf("MoveGroup: %v", err)
	}
	if rec.GroupID != group {
		t.Errorf("expected the caller's record synced to group %d, got %d", group, rec.GroupID)
	}
	got, _ := s.Get(ctx, rec.ID)
	if got.GroupID != group {
		t.Errorf("expected stored group %d, got %d", group, got.GroupID)
	}

	if err := s.MoveGroup(ctx, rec, 0); !errors.Is(err, store.ErrGroupResolution) {
		t.Errorf("expected ErrGroupResolution, got %v", err)
	}
	ghost := testRecord(store.DirectionInbound, store.StatusReceived)
	ghost.ID = 404
	if err := s.MoveGroup(ctx, ghost, group); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))
	mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusWaiting))
	mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSent))

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	want := map[store.Status]int64{
		store.StatusWaiting: 2,
		store.StatusSent:    1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("unexpected counts (-want +got):\n%s", diff)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()

	t.Run("purges settled records", func(t *testing.T) {
		s := newStore(t)

		settled := mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))
		inFlight := mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusSending))
		failed := mustCreate(t, s, testRecord(store.DirectionOutbound, store.StatusTemporarilyFailed))

		purged, err := s.PurgeOlderThan(ctx, time.Now().UTC().Add(time.Second))
		if err != nil {
			t.Fatalf("PurgeOlderThan: %v", err)
		}

		gotIDs := make([]int64, len(purged))
		for i, r := range purged {
			gotIDs[i] = r.ID
		}
		sort.Slice(gotIDs, func(i, j int) bool { return gotIDs[i] < gotIDs[j] })
		if diff := cmp.Diff([]int64{settled.ID, failed.ID}, gotIDs); diff != "" {
			t.Errorf("unexpected purge set (-want +got):\n%s", diff)
		}

		if _, err := s.Get(ctx, inFlight.ID); err != nil {
			t.Errorf("expected the in-flight record to survive: %v", err)
		}
		if _, err := s.Get(ctx, settled.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected the settled record purged, got %v", err)
		}
	})

	t.Run("keeps records updated after the cutoff", func(t *testing.T) {
		s := newStore(t)
		mustCreate(t, s, testRecord(store.DirectionInbound, store.StatusReceived))

		purged, err := s.PurgeOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("PurgeOlderThan: %v", err)
		}
		if len(purged) != 0 {
			t.Errorf("expected nothing purged, got %d records", len(purged))
		}
	})
}
