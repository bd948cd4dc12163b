package mms

import (
	"fmt"

	"github.com/nemomobile/mms/store"
)

// ReceiveState is the raw receive-side transfer state reported by the
// transport engine. The numeric values are part of the engine's wire
// contract and must not be reordered.
type ReceiveState int

// Receive states.
const (
	ReceiveStateReceiving ReceiveState = iota
	ReceiveStateDeferred
	ReceiveStateNoSpace
	ReceiveStateDecoding
	ReceiveStateError
	ReceiveStateGarbage
)

func (s ReceiveState) String() string {
	switch s {
	case ReceiveStateReceiving:
		return "receiving"
	case ReceiveStateDeferred:
		return "deferred"
	case ReceiveStateNoSpace:
		return "no-space"
	case ReceiveStateDecoding:
		return "decoding"
	case ReceiveStateError:
		return "error"
	case ReceiveStateGarbage:
		return "garbage"
	}
	return fmt.Sprintf("receive-state(%d)", int(s))
}

// SendState is the raw send-side transfer state reported by the transport
// engine. The numeric values are part of the engine's wire contract.
type SendState int

// Send states.
const (
	SendStateEncoding SendState = iota
	SendStateTooBig
	SendStateSending
	SendStateDeferred
	SendStateNoSpace
	SendStateError
	SendStateRefused
)

func (s SendState) String() string {
	switch s {
	case SendStateEncoding:
		return "encoding"
	case SendStateTooBig:
		return "too-big"
	case SendStateSending:
		return "sending"
	case SendStateDeferred:
		return "deferred"
	case SendStateNoSpace:
		return "no-space"
	case SendStateError:
		return "error"
	case SendStateRefused:
		return "refused"
	}
	return fmt.Sprintf("send-state(%d)", int(s))
}

// DeliveryState is the raw delivery-report status reported by the recipient
// side through the transport engine. The numeric values are part of the
// engine's wire contract.
type DeliveryState int

// Delivery states.
const (
	DeliveryStateIndeterminate DeliveryState = iota
	DeliveryStateExpired
	DeliveryStateRetrieved
	DeliveryStateRejected
	DeliveryStateDeferred
	DeliveryStateUnrecognized
	DeliveryStateForwarded
)

// Valid reports whether the value is one of the defined delivery states.
func (s DeliveryState) Valid() bool {
	return s >= DeliveryStateIndeterminate && s <= DeliveryStateForwarded
}

func (s DeliveryState) String() string {
	switch s {
	case DeliveryStateIndeterminate:
		return "indeterminate"
	case DeliveryStateExpired:
		return "expired"
	case DeliveryStateRetrieved:
		return "retrieved"
	case DeliveryStateRejected:
		return "rejected"
	case DeliveryStateDeferred:
		return "deferred"
	case DeliveryStateUnrecognized:
		return "unrecognized"
	case DeliveryStateForwarded:
		return "forwarded"
	}
	return fmt.Sprintf("delivery-state(%d)", int(s))
}

// receiveStateStatus maps a raw receive state to a record status.
// Unrecognized codes return ok=false and are treated as no-ops by the
// caller.
func receiveStateStatus(state ReceiveState) (status store.Status, ok bool) {
	switch state {
	case ReceiveStateDeferred:
		return store.StatusWaiting, true
	case ReceiveStateReceiving, ReceiveStateDecoding:
		return store.StatusDownloading, true
	case ReceiveStateNoSpace, ReceiveStateError:
		return store.StatusTemporarilyFailed, true
	case ReceiveStateGarbage:
		return store.StatusPermanentlyFailed, true
	}
	return "", false
}

// sendStateStatus maps a raw send state to a record status.
// Unrecognized codes return ok=false and are treated as no-ops by the
// caller.
func sendStateStatus(state SendState) (status store.Status, ok bool) {
	switch state {
	case SendStateEncoding, SendStateSending, SendStateDeferred:
		return store.StatusSending, true
	case SendStateTooBig, SendStateNoSpace, SendStateError:
		return store.StatusTemporarilyFailed, true
	case SendStateRefused:
		return store.StatusPermanentlyFailed, true
	}
	return "", false
}

// deliveryStateStatus maps a raw delivery-report state to a record status.
// Indeterminate, Deferred, and Forwarded carry no final outcome and
// return ok=false.
func deliveryStateStatus(state DeliveryState) (status store.Status, ok bool) {
	switch state {
	case DeliveryStateExpired, DeliveryStateRejected, DeliveryStateUnrecognized:
		return store.StatusTemporarilyFailed, true
	case DeliveryStateRetrieved:
		return store.StatusDelivered, true
	}
	return "", false
}
