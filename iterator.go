package mms

import (
	"context"
	"errors"

	"github.com/nemomobile/mms/store"
)

// ErrIteratorOutOfBounds is returned when Record() is called without a
// successful Next().
var ErrIteratorOutOfBounds = errors.New("mms: iterator out of bounds, call Next() first")

// RecordIterator provides streaming access to records. Use Next() to
// advance, Record() to get the current record.
//
// Use Stream when processing result sets too large to hold in memory, for
// example a full history export or a maintenance sweep. Use List when a
// bounded page is enough.
//
// The iterator holds no resources requiring cleanup; simply stop calling
// Next() when done. It is not safe for concurrent use: create one iterator
// per goroutine.
type RecordIterator interface {
	// Next advances to the next record.
	// Returns (true, nil) when a record is available, (false, nil) when
	// iteration is done and (false, error) when fetching failed or the
	// engine was closed. Must be called before accessing Record().
	Next(ctx context.Context) (bool, error)

	// Record returns the current record. Must be called after a successful
	// Next(); otherwise it returns ErrIteratorOutOfBounds.
	Record() (*store.Record, error)
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	// BatchSize is the number of records fetched per store round-trip.
	// Larger batches reduce round-trips but use more memory. Zero selects
	// the engine's maximum query limit; larger values are capped to it.
	BatchSize int
}

// recordIterator pulls records from the store in fixed-size batches,
// advancing an offset cursor. Records created while iterating may shift
// later pages.
type recordIterator struct {
	eng       *engine
	opts      store.ListOptions
	batchSize int
	batch     []*store.Record
	batchIdx  int
	done      bool
	fetched   bool
}

func (it *recordIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// The engine may have been closed between calls.
	if err := it.eng.checkAccess(); err != nil {
		it.done = true
		return false, err
	}

	if it.batchIdx >= len(it.batch) {
		// A short batch means the previous fetch drained the store.
		if it.fetched && len(it.batch) < it.batchSize {
			it.done = true
			return false, nil
		}

		recs, err := it.eng.store.List(ctx, it.opts)
		if err != nil {
			it.done = true
			return false, err
		}

		it.batch = recs
		it.batchIdx = 0
		it.fetched = true
		it.opts.Offset += len(recs)

		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *recordIterator) Record() (*store.Record, error) {
	if it.done || it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		return nil, ErrIteratorOutOfBounds
	}
	return it.batch[it.batchIdx-1], nil
}

// Stream returns an iterator over records matching the given options,
// newest first. The Limit field of opts is ignored; batch sizing comes
// from stream. A non-zero Offset skips that many records before the first
// batch.
func (e *engine) Stream(ctx context.Context, opts store.ListOptions, stream StreamOptions) (RecordIterator, error) {
	if err := e.checkAccess(); err != nil {
		return nil, err
	}

	batchSize := stream.BatchSize
	if batchSize <= 0 || batchSize > e.opts.maxQueryLimit {
		batchSize = e.opts.maxQueryLimit
	}
	opts.Limit = batchSize

	return &recordIterator{
		eng:       e,
		opts:      opts,
		batchSize: batchSize,
	}, nil
}
