package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nemomobile/mms/store"
)

// recordColumns is the canonical SELECT column list for scanning records.
// It must match the field order expected by scanRecord.
const recordColumns = `id, token, mms_id, direction, status, read_status,
       local_uid, remote_uid, to_addrs, cc_addrs, bcc_addrs,
       subject, free_text, parts, group_id,
       subscriber_id, expiry, push_data,
       is_read, report_requested, start_time, end_time,
       created_at, updated_at`

// partDoc is the JSON shape of one content part.
type partDoc struct {
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*store.Record, error) {
	var rec store.Record
	var toJSON, ccJSON, bccJSON, partsJSON []byte
	var expiry, startTime, endTime sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Token, &rec.MMSID, &rec.Direction, &rec.Status, &rec.ReadStatus,
		&rec.LocalUID, &rec.RemoteUID, &toJSON, &ccJSON, &bccJSON,
		&rec.Subject, &rec.FreeText, &partsJSON, &rec.GroupID,
		&rec.SubscriberID, &expiry, &rec.PushData,
		&rec.IsRead, &rec.ReportRequested, &startTime, &endTime,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiry.Valid {
		rec.Expiry = expiry.Time
	}
	if startTime.Valid {
		rec.StartTime = startTime.Time
	}
	if endTime.Valid {
		rec.EndTime = endTime.Time
	}

	if rec.To, err = unmarshalStrings(toJSON); err != nil {
		return nil, fmt.Errorf("unmarshal to: %w", err)
	}
	if rec.Cc, err = unmarshalStrings(ccJSON); err != nil {
		return nil, fmt.Errorf("unmarshal cc: %w", err)
	}
	if rec.Bcc, err = unmarshalStrings(bccJSON); err != nil {
		return nil, fmt.Errorf("unmarshal bcc: %w", err)
	}

	if len(partsJSON) > 0 {
		rec.Parts, err = unmarshalParts(partsJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal parts: %w", err)
		}
	}

	return &rec, nil
}

func marshalStrings(ss []string) ([]byte, error) {
	if len(ss) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(ss)
}

func unmarshalStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, err
	}
	if len(ss) == 0 {
		return nil, nil
	}
	return ss, nil
}

func marshalParts(parts []store.Part) ([]byte, error) {
	if len(parts) == 0 {
		return []byte("[]"), nil
	}

	docs := make([]partDoc, len(parts))
	for i, p := range parts {
		docs[i] = partDoc{
			ContentID:   p.ContentID,
			ContentType: p.ContentType,
			Path:        p.Path,
		}
	}

	return json.Marshal(docs)
}

func unmarshalParts(data []byte) ([]store.Part, error) {
	var docs []partDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	parts := make([]store.Part, len(docs))
	for i, d := range docs {
		parts[i] = store.Part{
			ContentID:   d.ContentID,
			ContentType: d.ContentType,
			Path:        d.Path,
		}
	}

	return parts, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
