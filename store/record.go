package store

import (
	"time"
)

// Direction indicates whether a record was received or locally authored.
type Direction string

// Direction constants.
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status represents the lifecycle status of a message record.
//
// Failure statuses are never silently downgraded back to an in-progress
// status by a stale transport event; the reconciliation engine enforces
// this, the store persists whatever it is given.
type Status string

// Status constants.
const (
	// StatusWaiting marks an inbound notification awaiting automatic download.
	StatusWaiting Status = "waiting"
	// StatusManualNotification marks an inbound notification that requires
	// an explicit user action before the message body is downloaded.
	StatusManualNotification Status = "manual-notification"
	// StatusDownloading marks an inbound transfer in progress.
	StatusDownloading Status = "downloading"
	// StatusSending marks an outbound transfer in progress.
	StatusSending Status = "sending"
	// StatusSent marks an outbound message acknowledged by the carrier.
	StatusSent Status = "sent"
	// StatusDelivered marks an outbound message confirmed retrieved by the peer.
	StatusDelivered Status = "delivered"
	// StatusReceived marks a fully downloaded inbound message.
	StatusReceived Status = "received"
	// StatusTemporarilyFailed marks a transfer that failed but may be retried.
	StatusTemporarilyFailed Status = "temporarily-failed"
	// StatusPermanentlyFailed marks a transfer that can never succeed.
	StatusPermanentlyFailed Status = "permanently-failed"
)

// InProgress reports whether the status describes a transfer that is still
// expected to make progress with the transport engine. Any other status is
// terminal or requires user attention.
func (s Status) InProgress() bool {
	switch s {
	case StatusWaiting, StatusDownloading, StatusSending:
		return true
	}
	return false
}

// Failed reports whether the status is one of the two failure statuses.
func (s Status) Failed() bool {
	return s == StatusTemporarilyFailed || s == StatusPermanentlyFailed
}

// Valid reports whether the status is one of the defined constants.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusManualNotification, StatusDownloading,
		StatusSending, StatusSent, StatusDelivered, StatusReceived,
		StatusTemporarilyFailed, StatusPermanentlyFailed:
		return true
	}
	return false
}

// ReadStatus is the read/deleted axis reported by the recipient side.
// It is independent of Status and may change after Status is terminal.
type ReadStatus string

// ReadStatus constants.
const (
	ReadStatusUnknown ReadStatus = "unknown"
	ReadStatusRead    ReadStatus = "read"
	ReadStatusDeleted ReadStatus = "deleted"
)

// Valid reports whether the read status is one of the defined constants.
func (s ReadStatus) Valid() bool {
	switch s {
	case ReadStatusUnknown, ReadStatusRead, ReadStatusDeleted:
		return true
	}
	return false
}

// Part is one stored content part of a message.
// Path points into the part file area and is keyed by the owning record id,
// so parts can only be materialized after the record has been created.
type Part struct {
	ContentID   string
	ContentType string
	Path        string
}

// Record is the persisted representation of one MMS message.
//
// Identity is threefold: ID is assigned by the store on creation and stable
// thereafter; Token is the primary correlation token used by transfer-state
// events (stores set it to the decimal form of ID at creation); MMSID is the
// secondary token assigned by the carrier, used by delivery and read reports
// which never see the local id.
type Record struct {
	ID    int64
	Token string
	MMSID string

	Direction  Direction
	Status     Status
	ReadStatus ReadStatus

	// Addressing. RemoteUID is the normalized remote party; LocalUID is the
	// local account path the message belongs to.
	LocalUID  string
	RemoteUID string
	To        []string
	Cc        []string
	Bcc       []string

	Subject  string
	FreeText string
	Parts    []Part

	// GroupID is conversation membership derived from (LocalUID, RemoteUID).
	// Changing it after creation requires the store's MoveGroup primitive,
	// never a plain Update, because re-threading has store-side effects.
	GroupID int64

	// Transient notification metadata, present only while an inbound message
	// is in a notification-pending state and cleared once it is fully
	// received. SubscriberID doubles as the engine correlation value on the
	// outbound path.
	SubscriberID string
	Expiry       time.Time
	PushData     []byte

	IsRead          bool
	ReportRequested bool

	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Saved reports whether the record has been persisted at least once.
func (r *Record) Saved() bool {
	return r.ID > 0
}

// Clone returns a deep copy of the record.
// Stores hand out clones so callers can never mutate stored state in place.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.To = cloneStrings(r.To)
	c.Cc = cloneStrings(r.Cc)
	c.Bcc = cloneStrings(r.Bcc)
	if r.Parts != nil {
		c.Parts = make([]Part, len(r.Parts))
		copy(c.Parts, r.Parts)
	}
	if r.PushData != nil {
		c.PushData = make([]byte, len(r.PushData))
		copy(c.PushData, r.PushData)
	}
	return &c
}

// ClearTransient drops the notification-pending metadata fields.
func (r *Record) ClearTransient() {
	r.SubscriberID = ""
	r.Expiry = time.Time{}
	r.PushData = nil
}

// Recipients returns the combined to/cc/bcc lists in that order.
func (r *Record) Recipients() []string {
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	out = append(out, r.To...)
	out = append(out, r.Cc...)
	out = append(out, r.Bcc...)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
