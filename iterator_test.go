package mms

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
	"github.com/nemomobile/mms/store/memory"
)

func TestStream(t *testing.T) {
	ctx := context.Background()

	t.Run("walks all records in batches", func(t *testing.T) {
		fx := setupTestEngine(t)
		for i := 0; i < 5; i++ {
			registerIncoming(t, fx, fmt.Sprintf("+3584011110%02d", i))
		}

		iter, err := fx.eng.Stream(ctx, ListOptions{}, StreamOptions{BatchSize: 2})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}

		var ids []int64
		for {
			ok, err := iter.Next(ctx)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			rec, err := iter.Record()
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			ids = append(ids, rec.ID)
		}

		want := []int64{5, 4, 3, 2, 1}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Errorf("iterated ids mismatch (-want +got):\n%s", diff)
		}

		// Exhausted iterators stay done.
		if ok, err := iter.Next(ctx); ok || err != nil {
			t.Errorf("expected exhausted iterator, got ok=%v err=%v", ok, err)
		}
		if _, err := iter.Record(); !errors.Is(err, ErrIteratorOutOfBounds) {
			t.Errorf("expected ErrIteratorOutOfBounds after the end, got %v", err)
		}
	})

	t.Run("record before next", func(t *testing.T) {
		fx := setupTestEngine(t)
		registerIncoming(t, fx, "+358401234567")

		iter, err := fx.eng.Stream(ctx, ListOptions{}, StreamOptions{})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if _, err := iter.Record(); !errors.Is(err, ErrIteratorOutOfBounds) {
			t.Errorf("expected ErrIteratorOutOfBounds before Next, got %v", err)
		}
	})

	t.Run("applies filters", func(t *testing.T) {
		fx := setupTestEngine(t)
		registerIncoming(t, fx, "+358401111111")
		registerIncoming(t, fx, "+358402222222")
		if _, err := fx.eng.SendMessage(ctx, []string{"+358407654321"}, nil, nil, "out",
			[]parts.Source{fx.textSource(t, "a.txt", "x")}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}

		iter, err := fx.eng.Stream(ctx,
			ListOptions{Direction: store.DirectionOutbound}, StreamOptions{})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}

		var count int
		for {
			ok, err := iter.Next(ctx)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			rec, err := iter.Record()
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			if rec.Direction != store.DirectionOutbound {
				t.Errorf("expected only outbound records, got %q", rec.Direction)
			}
			count++
		}
		if count != 1 {
			t.Errorf("expected 1 outbound record, got %d", count)
		}
	})

	t.Run("empty result set", func(t *testing.T) {
		fx := setupTestEngine(t)

		iter, err := fx.eng.Stream(ctx, ListOptions{}, StreamOptions{})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if ok, err := iter.Next(ctx); ok || err != nil {
			t.Errorf("expected immediate end, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("requires a connected engine", func(t *testing.T) {
		eng, err := New(
			WithStore(memory.New()),
			WithMaterializer(parts.New(t.TempDir())),
		)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := eng.Stream(ctx, ListOptions{}, StreamOptions{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("stops when the engine closes", func(t *testing.T) {
		fx := setupTestEngine(t)
		for i := 0; i < 3; i++ {
			registerIncoming(t, fx, fmt.Sprintf("+3584022220%02d", i))
		}

		iter, err := fx.eng.Stream(ctx, ListOptions{}, StreamOptions{BatchSize: 2})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if ok, err := iter.Next(ctx); !ok || err != nil {
			t.Fatalf("expected a first record, got ok=%v err=%v", ok, err)
		}

		if err := fx.eng.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := iter.Next(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected after close, got %v", err)
		}
	})
}
