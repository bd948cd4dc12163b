// Package parts materializes MMS content parts into durable, record-scoped
// storage.
//
// The transport engine hands over decoded part files from its own spool
// area. Materialization moves them under the message store's file area,
// keyed by record id, using a hard link when source and destination share a
// filesystem and a byte copy otherwise. Plain-text parts are additionally
// concatenated into a derived free-text body for search and preview.
//
// Materialization is all-or-nothing per message, but rollback is the
// caller's job: when Materialize fails the caller must remove the record's
// part directory (Cleanup) before recording a failure status, and when a
// later step fails it can remove the stored files precisely (RemoveFiles).
// This keeps the materializer free of half-finished state of its own.
package parts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nemomobile/mms/store"
)

// Default configuration values.
const (
	// DefaultMaxTextSize caps how much of a text/plain part is folded into
	// the derived free-text body.
	DefaultMaxTextSize = 1 << 20 // 1 MB

	dirMode = 0o755
)

// Sentinel errors for the parts package.
var (
	// ErrNoRoot is returned when the materializer has no root directory.
	ErrNoRoot = errors.New("parts: root directory not configured")

	// ErrUnsavedRecord is returned when materialization is attempted for a
	// record id that has not been assigned yet. Part paths are keyed by
	// record id, so the record must be created first.
	ErrUnsavedRecord = errors.New("parts: record has no id")
)

// Source describes one content part as delivered by the transport engine.
type Source struct {
	// Path is the engine's spool file holding the decoded part content.
	Path string
	// ContentType is the declared MIME type, possibly with parameters
	// (e.g. "text/plain;charset=utf-8").
	ContentType string
	// ContentID identifies the part within the message.
	ContentID string
}

// Result is the outcome of a successful materialization.
type Result struct {
	// Parts holds the stored part descriptors in source order.
	Parts []store.Part
	// FreeText is the newline-joined concatenation of all trimmed
	// text/plain parts, empty when the message has none.
	FreeText string
}

// Materializer copies part files into the record-scoped file area.
type Materializer struct {
	root        string
	maxTextSize int64
	logger      *slog.Logger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxTextSize caps the bytes read from a single text/plain part when
// deriving the free-text body. Default is 1 MB.
func WithMaxTextSize(n int64) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.maxTextSize = n
		}
	}
}

// New creates a materializer rooted at dir.
func New(dir string, opts ...Option) *Materializer {
	m := &Materializer{
		root:        dir,
		maxTextSize: DefaultMaxTextSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the materializer's root directory.
func (m *Materializer) Root() string {
	return m.root
}

// Materialize copies every source into the record's part directory and
// derives the free-text body.
//
// On error, parts copied before the failing one are left on disk and the
// caller must remove the record's part directory with Cleanup. No partial
// Result is returned.
func (m *Materializer) Materialize(ctx context.Context, recordID int64, sources []Source) (*Result, error) {
	if m.root == "" {
		return nil, ErrNoRoot
	}
	if recordID <= 0 {
		return nil, ErrUnsavedRecord
	}

	res := &Result{}
	var freeText strings.Builder
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := m.copyPartFile(src.Path, recordID, src.ContentID)
		if err != nil {
			m.logger.Error("failed copying message part to storage",
				"record_id", recordID, "source", src.Path, "error", err)
			return nil, err
		}

		res.Parts = append(res.Parts, store.Part{
			ContentID:   src.ContentID,
			ContentType: src.ContentType,
			Path:        path,
		})

		// All text/plain parts are concatenated for the message content.
		if strings.HasPrefix(src.ContentType, "text/plain") {
			text, err := m.readText(path)
			if err != nil {
				return nil, err
			}
			if text != "" {
				if freeText.Len() > 0 {
					freeText.WriteByte('\n')
				}
				freeText.WriteString(text)
			}
		}
	}

	res.FreeText = freeText.String()
	return res, nil
}

// copyPartFile places one source file under the record's part directory.
// A hard link is attempted first; on failure the content is copied.
func (m *Materializer) copyPartFile(sourcePath string, recordID int64, contentID string) (string, error) {
	dir := filepath.Join(m.root, strconv.FormatInt(recordID, 10))
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("parts: create part directory: %w", err)
	}
	dest := filepath.Join(dir, partFileName(contentID))

	if err := os.Link(sourcePath, dest); err != nil {
		// Cross-device or exotic filesystems: fall back to a full copy.
		if err := copyFile(sourcePath, dest); err != nil {
			return "", fmt.Errorf("parts: copy %q to %q: %w", sourcePath, dest, err)
		}
	}
	return dest, nil
}

// readText loads a stored text part for the free-text body.
func (m *Materializer) readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("parts: read text part %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, m.maxTextSize))
	if err != nil {
		return "", fmt.Errorf("parts: read text part %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveFiles deletes the files behind the given part descriptors.
// Used by callers rolling back a failed materialization. Missing files are
// not an error; the first other failure is returned after attempting all.
func (m *Materializer) RemoveFiles(parts []store.Part) error {
	var firstErr error
	for _, p := range parts {
		if p.Path == "" {
			continue
		}
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed removing part file", "path", p.Path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Cleanup removes the record's whole part directory.
// Used when a record is purged from the store.
func (m *Materializer) Cleanup(recordID int64) error {
	if m.root == "" || recordID <= 0 {
		return nil
	}
	return os.RemoveAll(filepath.Join(m.root, strconv.FormatInt(recordID, 10)))
}

// partFileName sanitizes a content id into a file name.
// Content ids come from the carrier and may be empty or contain separators.
func partFileName(contentID string) string {
	if contentID == "" {
		return uuid.New().String()
	}
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, contentID)
	if name == "." || name == ".." {
		return uuid.New().String()
	}
	return name
}

// copyFile copies src to dst, failing if dst already exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
