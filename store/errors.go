package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a record cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid record id is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidRecord is returned when a record fails store-level validation.
	ErrInvalidRecord = errors.New("store: invalid record")

	// ErrAlreadySaved is returned when Create is called with a record that
	// already has an id.
	ErrAlreadySaved = errors.New("store: record already saved")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrNoToken is returned when a token lookup is attempted with neither a
	// primary nor a secondary token.
	ErrNoToken = errors.New("store: no token given")

	// ErrGroupResolution is returned when a conversation group cannot be
	// resolved or created for a record.
	ErrGroupResolution = errors.New("store: group resolution failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
