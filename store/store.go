// Package store provides interfaces and types for MMS record storage.
// Implementations are in store/memory, store/sqlite, store/postgres, and
// store/mongo subpackages.
//
// The store persists message records and their conversation groups. It knows
// nothing about the transport engine or the reconciliation rules; the engine
// package drives every mutation. Two invariants matter to implementations:
//
//  1. A record's Parts are written atomically with the record. Readers never
//     observe a partially attached part list.
//
//  2. A record's Token uniquely identifies it. Stores set Token to the
//     decimal form of the assigned id during Create, which keeps token
//     lookups exact without a second id namespace.
//
// Group membership is special: records are threaded into conversation groups
// keyed by (local uid, remote uid), and re-threading a record after its
// remote party is corrected must go through MoveGroup so implementations can
// maintain whatever bookkeeping their grouping needs. A plain Update must
// not change GroupID.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for MMS message records.
//
// All operations must be safe for concurrent use. Implementations rely on
// database-level atomicity (transactions, atomic operations) rather than
// external locking.
//
// Composed of:
//   - RecordCreator: record creation (Create)
//   - RecordReader: lookups (Get, GetByTokens, List)
//   - RecordMutator: updates (Update, UpdateReadStatus, Delete)
//   - GroupStore: conversation grouping (ResolveGroup, MoveGroup)
//   - MaintenanceStore: background maintenance (CountByStatus, PurgeOlderThan)
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	RecordCreator
	RecordReader
	RecordMutator
	GroupStore
	MaintenanceStore
}

// RecordCreator provides record creation.
type RecordCreator interface {
	// Create persists a new record, assigning ID and Token and setting
	// CreatedAt/UpdatedAt. The passed record is updated in place.
	// Returns ErrAlreadySaved if the record already has an id and
	// ErrInvalidRecord if required fields are missing.
	Create(ctx context.Context, rec *Record) error
}

// RecordReader provides record lookups.
type RecordReader interface {
	// Get retrieves a record by id.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, id int64) (*Record, error)

	// GetByTokens retrieves a record by correlation token. A non-empty token
	// matches the primary token; otherwise mmsID matches the secondary
	// (carrier-assigned) token. Returns ErrNoToken when both are empty and
	// ErrNotFound when no record matches. When several records share a
	// secondary token the most recently created one is returned.
	GetByTokens(ctx context.Context, token, mmsID string) (*Record, error)

	// List returns records matching the options, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
}

// RecordMutator provides record mutation.
type RecordMutator interface {
	// Update replaces a record's stored state, including its part list,
	// and bumps UpdatedAt. GroupID changes are ignored; use MoveGroup.
	// Returns ErrNotFound if the record was never created.
	Update(ctx context.Context, rec *Record) error

	// UpdateReadStatus sets only the read/deleted axis of a record.
	// This may be called after the record's status is terminal.
	UpdateReadStatus(ctx context.Context, id int64, rs ReadStatus) error

	// Delete permanently removes a record and its part descriptors.
	// Part files on disk are the caller's responsibility.
	Delete(ctx context.Context, id int64) error
}

// GroupStore provides conversation group operations.
type GroupStore interface {
	// ResolveGroup finds or creates the conversation group for the given
	// addressing pair and returns its id.
	ResolveGroup(ctx context.Context, localUID, remoteUID string) (int64, error)

	// MoveGroup atomically moves a record to another conversation group and
	// updates rec.GroupID on success. The record keeps its old group on error.
	MoveGroup(ctx context.Context, rec *Record, newGroupID int64) error
}

// MaintenanceStore provides operations for background maintenance tasks.
// These are safe to call concurrently from multiple service instances.
type MaintenanceStore interface {
	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// PurgeOlderThan deletes records that reached a non-in-progress status
	// before the cutoff, returning the deleted records so the caller can
	// remove their materialized part files.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]*Record, error)
}

// ListOptions control List queries.
// A zero value lists everything, newest first.
type ListOptions struct {
	// Direction filters by direction when non-empty.
	Direction Direction
	// Status filters by status when non-empty.
	Status Status
	// GroupID filters by conversation group when positive.
	GroupID int64
	// Limit caps the result count when positive.
	Limit int
	// Offset skips that many records.
	Offset int
}
