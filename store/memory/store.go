// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nemomobile/mms/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	records   sync.Map // map[int64]*store.Record
	groups    sync.Map // map[string]int64 (localUID|remoteUID -> group id)
	groupMu   sync.Mutex
	recordSeq atomic.Int64
	groupSeq  atomic.Int64
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Ping reports whether the store is connected.
func (s *Store) Ping(_ context.Context) error {
	return s.checkConnected()
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Create persists a new record, assigning ID and Token.
func (s *Store) Create(_ context.Context, rec *store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if rec == nil {
		return store.ErrInvalidRecord
	}
	if rec.Saved() {
		return store.ErrAlreadySaved
	}
	if !rec.Status.Valid() || rec.Direction == "" {
		return store.ErrInvalidRecord
	}

	now := time.Now().UTC()
	rec.ID = s.recordSeq.Add(1)
	rec.Token = strconv.FormatInt(rec.ID, 10)
	if rec.ReadStatus == "" {
		rec.ReadStatus = store.ReadStatusUnknown
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	// Store a copy so the caller can keep mutating its instance.
	s.records.Store(rec.ID, rec.Clone())
	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(_ context.Context, id int64) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	v, ok := s.records.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*store.Record).Clone(), nil
}

// GetByTokens retrieves a record by primary or secondary correlation token.
func (s *Store) GetByTokens(_ context.Context, token, mmsID string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if token == "" && mmsID == "" {
		return nil, store.ErrNoToken
	}

	var found *store.Record
	s.records.Range(func(_, v any) bool {
		r := v.(*store.Record)
		if token != "" {
			if r.Token == token {
				found = r
				return false
			}
			return true
		}
		// Secondary token: prefer the most recently created match.
		if r.MMSID == mmsID && (found == nil || r.ID > found.ID) {
			found = r
		}
		return true
	})

	if found == nil {
		return nil, store.ErrNotFound
	}
	return found.Clone(), nil
}

// List returns records matching the options, newest first.
func (s *Store) List(_ context.Context, opts store.ListOptions) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var recs []*store.Record
	s.records.Range(func(_, v any) bool {
		r := v.(*store.Record)
		if opts.Direction != "" && r.Direction != opts.Direction {
			return true
		}
		if opts.Status != "" && r.Status != opts.Status {
			return true
		}
		if opts.GroupID > 0 && r.GroupID != opts.GroupID {
			return true
		}
		recs = append(recs, r)
		return true
	})

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })

	start := opts.Offset
	if start > len(recs) {
		start = len(recs)
	}
	end := len(recs)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]*store.Record, 0, end-start)
	for _, r := range recs[start:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Update replaces a record's stored state. GroupID changes are ignored.
func (s *Store) Update(_ context.Context, rec *store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if rec == nil || !rec.Saved() {
		return store.ErrInvalidID
	}
	if !rec.Status.Valid() {
		return store.ErrInvalidRecord
	}

	v, ok := s.records.Load(rec.ID)
	if !ok {
		return store.ErrNotFound
	}
	stored := v.(*store.Record)

	c := rec.Clone()
	c.GroupID = stored.GroupID // group changes go through MoveGroup
	c.CreatedAt = stored.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.records.Store(c.ID, c)

	rec.GroupID = stored.GroupID
	rec.UpdatedAt = c.UpdatedAt
	return nil
}

// UpdateReadStatus sets only the read/deleted axis of a record.
func (s *Store) UpdateReadStatus(_ context.Context, id int64, rs store.ReadStatus) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id <= 0 {
		return store.ErrInvalidID
	}
	if !rs.Valid() {
		return store.ErrInvalidRecord
	}

	v, ok := s.records.Load(id)
	if !ok {
		return store.ErrNotFound
	}
	c := v.(*store.Record).Clone()
	c.ReadStatus = rs
	c.UpdatedAt = time.Now().UTC()
	s.records.Store(id, c)
	return nil
}

// Delete permanently removes a record.
func (s *Store) Delete(_ context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id <= 0 {
		return store.ErrInvalidID
	}
	if _, ok := s.records.Load(id); !ok {
		return store.ErrNotFound
	}
	s.records.Delete(id)
	return nil
}

// ResolveGroup finds or creates the conversation group for an addressing pair.
func (s *Store) ResolveGroup(_ context.Context, localUID, remoteUID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if remoteUID == "" {
		return 0, store.ErrGroupResolution
	}

	key := localUID + "|" + remoteUID
	if v, ok := s.groups.Load(key); ok {
		return v.(int64), nil
	}

	s.groupMu.Lock()
	defer s.groupMu.Unlock()
	if v, ok := s.groups.Load(key); ok {
		return v.(int64), nil
	}
	id := s.groupSeq.Add(1)
	s.groups.Store(key, id)
	return id, nil
}

// MoveGroup atomically moves a record to another conversation group.
func (s *Store) MoveGroup(_ context.Context, rec *store.Record, newGroupID int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if rec == nil || !rec.Saved() {
		return store.ErrInvalidID
	}
	if newGroupID <= 0 {
		return store.ErrGroupResolution
	}

	v, ok := s.records.Load(rec.ID)
	if !ok {
		return store.ErrNotFound
	}
	c := v.(*store.Record).Clone()
	c.GroupID = newGroupID
	c.UpdatedAt = time.Now().UTC()
	s.records.Store(rec.ID, c)

	rec.GroupID = newGroupID
	return nil
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(_ context.Context) (map[store.Status]int64, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	counts := make(map[store.Status]int64)
	s.records.Range(func(_, v any) bool {
		counts[v.(*store.Record).Status]++
		return true
	})
	return counts, nil
}

// PurgeOlderThan deletes settled records last updated before the cutoff.
func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var purged []*store.Record
	s.records.Range(func(k, v any) bool {
		r := v.(*store.Record)
		if !r.Status.InProgress() && r.UpdatedAt.Before(cutoff) {
			purged = append(purged, r.Clone())
			s.records.Delete(k)
		}
		return true
	})

	sort.Slice(purged, func(i, j int) bool { return purged[i].ID < purged[j].ID })
	return purged, nil
}
