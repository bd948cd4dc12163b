package mms

import (
	"errors"
	"fmt"

	"github.com/nemomobile/mms/store"
)

// Sentinel errors for the mms package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, mms.ErrNotFound) will match both engine-level and
// store-level "not found" errors.
var (
	// ErrNotFound is returned when a record cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("mms: %w", store.ErrNotFound)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mms: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mms: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mms: %w", store.ErrAlreadyConnected)

	// ErrNoTransport is returned when a send is dispatched without a
	// transport client configured.
	ErrNoTransport = errors.New("mms: no transport configured")

	// ErrTransportClosed is recorded as the send outcome when the transport
	// closes its result channel without delivering a result.
	ErrTransportClosed = errors.New("mms: transport closed result channel without a result")

	// ErrGroupMMSNotSupported is returned when a send request addresses more
	// than one recipient. Group conversations are rejected outright rather
	// than silently degraded.
	ErrGroupMMSNotSupported = errors.New("mms: group conversations not supported")

	// ErrNoRecipients is returned when a send request has no recipients.
	ErrNoRecipients = errors.New("mms: no recipients")

	// ErrNoParts is returned when an outbound record has no content parts.
	ErrNoParts = errors.New("mms: no message parts")

	// ErrNotOutbound is returned when a send is requested for a record that
	// is not an outbound message.
	ErrNotOutbound = errors.New("mms: record is not an outbound message")

	// ErrInvalidAddress is returned when an address is empty after
	// normalization.
	ErrInvalidAddress = errors.New("mms: invalid address")

	// ErrMaterializerRequired is returned when no part materializer is
	// configured but an operation needs one.
	ErrMaterializerRequired = errors.New("mms: part materializer is required")

	// ErrSubjectTooLong is returned when a subject exceeds the configured
	// maximum length.
	ErrSubjectTooLong = errors.New("mms: subject too long")

	// ErrTooManyParts is returned when a send request carries more content
	// parts than the configured maximum.
	ErrTooManyParts = errors.New("mms: too many message parts")

	// ErrInvalidContent is returned when message content contains invalid
	// UTF-8 or control characters.
	ErrInvalidContent = errors.New("mms: invalid message content")

	// ErrInvalidSource is returned when a content part source is missing
	// its file path.
	ErrInvalidSource = errors.New("mms: invalid part source")
)

// DispatchError is returned by the send path when the transport engine
// rejected or failed an asynchronous send call. The record has already been
// marked temporarily failed when this error is observed.
type DispatchError struct {
	// RecordID is the affected outbound record.
	RecordID int64
	// Err is the underlying transport error.
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("mms: send dispatch failed for record %d: %v", e.RecordID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// MaterializeError is returned when part materialization failed and the
// already-copied files were rolled back. RecordID identifies the record that
// was marked failed; it is still valid and persisted.
type MaterializeError struct {
	// RecordID is the record whose parts could not be materialized.
	RecordID int64
	// Err is the underlying copy or store error.
	Err error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("mms: materializing parts for record %d: %v", e.RecordID, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The state change landed in the store, but the event notification
// failed. Check the RecordID field to identify which record this applies to.
type EventPublishError struct {
	Event    string // The event name (e.g., "mms.message.received")
	RecordID int64  // The record id the event was for
	Err      error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mms: event %s publish failed for record %d: %v", e.Event, e.RecordID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and
// returns details. This is useful when eventErrorsFatal=true but you still
// want to know the operation itself succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
