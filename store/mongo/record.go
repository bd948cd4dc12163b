package mongo

import (
	"time"

	"github.com/nemomobile/mms/store"
)

// recordDoc is the MongoDB document representation of a record.
type recordDoc struct {
	ID              int64      `bson:"_id"`
	Token           string     `bson:"token"`
	MMSID           string     `bson:"mms_id,omitempty"`
	Direction       string     `bson:"direction"`
	Status          string     `bson:"status"`
	ReadStatus      string     `bson:"read_status"`
	LocalUID        string     `bson:"local_uid,omitempty"`
	RemoteUID       string     `bson:"remote_uid,omitempty"`
	To              []string   `bson:"to,omitempty"`
	Cc              []string   `bson:"cc,omitempty"`
	Bcc             []string   `bson:"bcc,omitempty"`
	Subject         string     `bson:"subject,omitempty"`
	FreeText        string     `bson:"free_text,omitempty"`
	Parts           []partDoc  `bson:"parts,omitempty"`
	GroupID         int64      `bson:"group_id,omitempty"`
	SubscriberID    string     `bson:"subscriber_id,omitempty"`
	Expiry          *time.Time `bson:"expiry,omitempty"`
	PushData        []byte     `bson:"push_data,omitempty"`
	IsRead          bool       `bson:"is_read"`
	ReportRequested bool       `bson:"report_requested"`
	StartTime       *time.Time `bson:"start_time,omitempty"`
	EndTime         *time.Time `bson:"end_time,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

// partDoc is the MongoDB document for one content part.
type partDoc struct {
	ContentID   string `bson:"content_id"`
	ContentType string `bson:"content_type"`
	Path        string `bson:"path"`
}

// groupDoc is the MongoDB document for a conversation group.
type groupDoc struct {
	ID        int64     `bson:"_id"`
	LocalUID  string    `bson:"local_uid"`
	RemoteUID string    `bson:"remote_uid"`
	CreatedAt time.Time `bson:"created_at"`
}

// counterDoc holds one id sequence.
type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

func recordToDoc(rec *store.Record) *recordDoc {
	doc := &recordDoc{
		ID:              rec.ID,
		Token:           rec.Token,
		MMSID:           rec.MMSID,
		Direction:       string(rec.Direction),
		Status:          string(rec.Status),
		ReadStatus:      string(rec.ReadStatus),
		LocalUID:        rec.LocalUID,
		RemoteUID:       rec.RemoteUID,
		To:              rec.To,
		Cc:              rec.Cc,
		Bcc:             rec.Bcc,
		Subject:         rec.Subject,
		FreeText:        rec.FreeText,
		GroupID:         rec.GroupID,
		SubscriberID:    rec.SubscriberID,
		PushData:        rec.PushData,
		IsRead:          rec.IsRead,
		ReportRequested: rec.ReportRequested,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}

	if !rec.Expiry.IsZero() {
		t := rec.Expiry
		doc.Expiry = &t
	}
	if !rec.StartTime.IsZero() {
		t := rec.StartTime
		doc.StartTime = &t
	}
	if !rec.EndTime.IsZero() {
		t := rec.EndTime
		doc.EndTime = &t
	}

	if len(rec.Parts) > 0 {
		doc.Parts = make([]partDoc, len(rec.Parts))
		for i, p := range rec.Parts {
			doc.Parts[i] = partDoc{
				ContentID:   p.ContentID,
				ContentType: p.ContentType,
				Path:        p.Path,
			}
		}
	}

	return doc
}

func docToRecord(doc *recordDoc) *store.Record {
	rec := &store.Record{
		ID:              doc.ID,
		Token:           doc.Token,
		MMSID:           doc.MMSID,
		Direction:       store.Direction(doc.Direction),
		Status:          store.Status(doc.Status),
		ReadStatus:      store.ReadStatus(doc.ReadStatus),
		LocalUID:        doc.LocalUID,
		RemoteUID:       doc.RemoteUID,
		To:              doc.To,
		Cc:              doc.Cc,
		Bcc:             doc.Bcc,
		Subject:         doc.Subject,
		FreeText:        doc.FreeText,
		GroupID:         doc.GroupID,
		SubscriberID:    doc.SubscriberID,
		PushData:        doc.PushData,
		IsRead:          doc.IsRead,
		ReportRequested: doc.ReportRequested,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}

	if doc.Expiry != nil {
		rec.Expiry = *doc.Expiry
	}
	if doc.StartTime != nil {
		rec.StartTime = *doc.StartTime
	}
	if doc.EndTime != nil {
		rec.EndTime = *doc.EndTime
	}

	if len(doc.Parts) > 0 {
		rec.Parts = make([]store.Part, len(doc.Parts))
		for i, p := range doc.Parts {
			rec.Parts[i] = store.Part{
				ContentID:   p.ContentID,
				ContentType: p.ContentType,
				Path:        p.Path,
			}
		}
	}

	return rec
}
