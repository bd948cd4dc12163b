package parts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/nemomobile/mms/store"
)

func spoolFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}
	return path
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()

	t.Run("stores parts and derives free text", func(t *testing.T) {
		root := t.TempDir()
		spool := t.TempDir()
		m := New(root)

		sources := []Source{
			{Path: spoolFile(t, spool, "a.txt", "  first part \n"), ContentType: "text/plain;charset=utf-8", ContentID: "a.txt"},
			{Path: spoolFile(t, spool, "pic.jpg", "\xff\xd8\xff"), ContentType: "image/jpeg", ContentID: "pic.jpg"},
			{Path: spoolFile(t, spool, "b.txt", "second part"), ContentType: "text/plain", ContentID: "b.txt"},
		}

		res, err := m.Materialize(ctx, 7, sources)
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}

		if res.FreeText != "first part\nsecond part" {
			t.Errorf("unexpected free text: %q", res.FreeText)
		}

		wantDir := filepath.Join(root, "7")
		var gotIDs []string
		for _, p := range res.Parts {
			gotIDs = append(gotIDs, p.ContentID)
			if filepath.Dir(p.Path) != wantDir {
				t.Errorf("part %q stored outside the record directory: %q", p.ContentID, p.Path)
			}
			if _, err := os.Stat(p.Path); err != nil {
				t.Errorf("part file %q missing: %v", p.Path, err)
			}
		}
		if diff := cmp.Diff([]string{"a.txt", "pic.jpg", "b.txt"}, gotIDs); diff != "" {
			t.Errorf("parts out: (-want +got):\n%s", diff)
		}

		data, err := os.ReadFile(res.Parts[1].Path)
		if err != nil {
			t.Fatalf("read stored part: %v", err)
		}
		if string(data) != "\xff\xd8\xff" {
			t.Error("stored part content differs from the source")
		}
	})

	t.Run("whitespace-only text stays out of the body", func(t *testing.T) {
		m := New(t.TempDir())
		spool := t.TempDir()

		res, err := m.Materialize(ctx, 1, []Source{
			{Path: spoolFile(t, spool, "blank.txt", " \n\t "), ContentType: "text/plain", ContentID: "blank.txt"},
			{Path: spoolFile(t, spool, "body.txt", "hello"), ContentType: "text/plain", ContentID: "body.txt"},
		})
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		if res.FreeText != "hello" {
			t.Errorf("expected %q, got %q", "hello", res.FreeText)
		}
	})

	t.Run("caps the text body", func(t *testing.T) {
		m := New(t.TempDir(), WithMaxTextSize(5))
		spool := t.TempDir()

		res, err := m.Materialize(ctx, 1, []Source{
			{Path: spoolFile(t, spool, "long.txt", "1234567890"), ContentType: "text/plain", ContentID: "long.txt"},
		})
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		if res.FreeText != "12345" {
			t.Errorf("expected capped text %q, got %q", "12345", res.FreeText)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		m := New(t.TempDir())

		res, err := m.Materialize(ctx, 1, nil)
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		if len(res.Parts) != 0 || res.FreeText != "" {
			t.Errorf("expected an empty result, got %+v", res)
		}
	})

	t.Run("missing source fails after earlier parts landed", func(t *testing.T) {
		root := t.TempDir()
		spool := t.TempDir()
		m := New(root)

		_, err := m.Materialize(ctx, 3, []Source{
			{Path: spoolFile(t, spool, "ok.txt", "fine"), ContentType: "text/plain", ContentID: "ok.txt"},
			{Path: filepath.Join(spool, "vanished.txt"), ContentType: "text/plain", ContentID: "vanished.txt"},
		})
		if err == nil {
			t.Fatal("expected an error for a missing source")
		}

		// Rollback is the caller's job, so the first part is still on disk.
		if _, statErr := os.Stat(filepath.Join(root, "3", "ok.txt")); statErr != nil {
			t.Errorf("expected the first part to remain until Cleanup: %v", statErr)
		}
	})

	t.Run("does not overwrite an existing part", func(t *testing.T) {
		m := New(t.TempDir())
		spool := t.TempDir()
		src := Source{Path: spoolFile(t, spool, "dup.txt", "x"), ContentType: "text/plain", ContentID: "dup.txt"}

		if _, err := m.Materialize(ctx, 4, []Source{src}); err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		if _, err := m.Materialize(ctx, 4, []Source{src}); err == nil {
			t.Error("expected an error when the destination already exists")
		}
	})

	t.Run("no root", func(t *testing.T) {
		m := New("")
		if _, err := m.Materialize(ctx, 1, nil); !errors.Is(err, ErrNoRoot) {
			t.Errorf("expected ErrNoRoot, got %v", err)
		}
	})

	t.Run("unsaved record", func(t *testing.T) {
		m := New(t.TempDir())
		if _, err := m.Materialize(ctx, 0, nil); !errors.Is(err, ErrUnsavedRecord) {
			t.Errorf("expected ErrUnsavedRecord, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		m := New(t.TempDir())
		spool := t.TempDir()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := m.Materialize(cctx, 1, []Source{
			{Path: spoolFile(t, spool, "a.txt", "x"), ContentType: "text/plain", ContentID: "a.txt"},
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRemoveFiles(t *testing.T) {
	root := t.TempDir()
	keep := spoolFile(t, root, "keep.dat", "k")
	gone := spoolFile(t, root, "gone.dat", "g")

	m := New(root)
	err := m.RemoveFiles([]store.Part{
		{Path: gone},
		{Path: filepath.Join(root, "never-existed.dat")},
		{Path: ""},
	})
	if err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}

	if _, err := os.Stat(gone); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %q removed, got %v", gone, err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("expected unlisted file untouched: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	t.Run("removes the record directory", func(t *testing.T) {
		root := t.TempDir()
		spool := t.TempDir()
		m := New(root)

		if _, err := m.Materialize(context.Background(), 5, []Source{
			{Path: spoolFile(t, spool, "a.txt", "x"), ContentType: "text/plain", ContentID: "a.txt"},
		}); err != nil {
			t.Fatalf("Materialize: %v", err)
		}

		if err := m.Cleanup(5); err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "5")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected the part directory removed, got %v", err)
		}
	})

	t.Run("tolerates missing directories and bad ids", func(t *testing.T) {
		m := New(t.TempDir())
		if err := m.Cleanup(99); err != nil {
			t.Errorf("expected nil for a record without parts, got %v", err)
		}
		if err := m.Cleanup(0); err != nil {
			t.Errorf("expected nil for id 0, got %v", err)
		}
		if err := New("").Cleanup(1); err != nil {
			t.Errorf("expected nil without a root, got %v", err)
		}
	})
}

func TestPartFileName(t *testing.T) {
	t.Run("keeps ordinary names", func(t *testing.T) {
		if got := partFileName("photo.jpg"); got != "photo.jpg" {
			t.Errorf("expected %q, got %q", "photo.jpg", got)
		}
	})

	t.Run("replaces separators", func(t *testing.T) {
		if got := partFileName(`a/b\c`); got != "a_b_c" {
			t.Errorf("expected %q, got %q", "a_b_c", got)
		}
	})

	t.Run("generates names for unusable ids", func(t *testing.T) {
		for _, id := range []string{"", ".", ".."} {
			got := partFileName(id)
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("expected a generated name for %q, got %q: %v", id, got, err)
			}
		}
	})
}

func TestRoot(t *testing.T) {
	if got := New("/var/lib/mms/parts").Root(); got != "/var/lib/mms/parts" {
		t.Errorf("expected the configured root, got %q", got)
	}
}

func TestWithMaxTextSizeGuard(t *testing.T) {
	m := New(t.TempDir(), WithMaxTextSize(0), WithMaxTextSize(-5))
	if m.maxTextSize != DefaultMaxTextSize {
		t.Errorf("expected the default cap, got %d", m.maxTextSize)
	}
}
