package mms

import (
	"context"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the mms package without importing store
// directly.
type (
	Record      = store.Record
	Part        = store.Part
	Status      = store.Status
	ReadStatus  = store.ReadStatus
	Direction   = store.Direction
	ListOptions = store.ListOptions
)

// ConversationKind describes the conversation a notification belongs to.
type ConversationKind int

// Conversation kinds.
const (
	// ConversationPeerToPeer is a two-party conversation. All MMS handled
	// by this engine is peer-to-peer; group conversations are rejected at
	// the send entry point.
	ConversationPeerToPeer ConversationKind = iota
	// ConversationGroup is a multi-party conversation.
	ConversationGroup
)

func (k ConversationKind) String() string {
	switch k {
	case ConversationPeerToPeer:
		return "p2p"
	case ConversationGroup:
		return "group"
	}
	return "unknown"
}

// Notifier surfaces a record's state to the user. Calls are fire-and-forget:
// the engine never consumes a result and never retries.
//
// displayParty is the address the notification should be attributed to; it
// may differ from rec.RemoteUID while a sender correction is in progress.
type Notifier interface {
	Notify(ctx context.Context, rec *store.Record, displayParty string, kind ConversationKind)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, rec *store.Record, displayParty string, kind ConversationKind)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, rec *store.Record, displayParty string, kind ConversationKind) {
	f(ctx, rec, displayParty, kind)
}

// SendRequest is the payload handed to the transport engine for one
// outbound message.
type SendRequest struct {
	// RecordID is the local record id, echoed back by transfer-state events
	// as the primary correlation token.
	RecordID int64
	// SubscriberID selects the SIM for the transfer. Empty lets the
	// transport engine pick its default.
	SubscriberID string
	To           []string
	Cc           []string
	Bcc          []string
	Subject      string
	// Flags are the subscriber's send option bits.
	Flags SendFlags
	// Parts are the materialized content parts.
	Parts []store.Part
}

// SendResult is the asynchronous outcome of a Transport.Send call.
type SendResult struct {
	// EngineID is the engine-assigned correlation value for the transfer,
	// valid when Err is nil.
	EngineID string
	// Err is the transport-level failure, nil on success.
	Err error
}

// Transport is the asynchronous client for the external transport engine.
//
// Send must not block: it issues the request and returns a channel that
// delivers exactly one SendResult when the engine acknowledges or rejects
// the call, then closes. Cancel is fire-and-forget; the engine does not
// confirm cancellations and callers must not wait for one.
type Transport interface {
	Send(ctx context.Context, req SendRequest) <-chan SendResult
	Cancel(ctx context.Context, recordID int64) error
}

// PolicyObserver exposes the system policy state the engine consults:
// whether data transfer is currently prohibited (roaming restrictions), and
// the identity of the active subscriber.
//
// Implementations watch the underlying system properties and invoke the
// engine's PolicyChanged / SubscriberChanged entry points on change; the
// engine never polls.
type PolicyObserver interface {
	// SendingProhibited reports whether sending and downloading are
	// currently prohibited by roaming policy.
	SendingProhibited(ctx context.Context) bool
	// SubscriberIdentity returns the active subscriber id (IMSI), or empty
	// when no SIM is present.
	SubscriberIdentity(ctx context.Context) string
}

// SettingsSource resolves per-subscriber preferences. For the active
// subscriber the engine works from a snapshot refreshed on subscriber
// changes; notifications arriving for another SIM query the source directly.
type SettingsSource interface {
	// AutomaticDownload returns the subscriber's automatic-download
	// preference. ok is false when no preference is configured, which the
	// engine treats as manual download.
	AutomaticDownload(ctx context.Context, subscriberID string) (enabled, ok bool)
	// SendFlags returns the subscriber's send option bits.
	SendFlags(ctx context.Context, subscriberID string) SendFlags
}

// PartSource is re-exported for callers constructing send and receive
// part lists.
type PartSource = parts.Source
