package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

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

// partDoc is the JSONB shape of one content part.
type partDoc struct {
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (*store.Record, error) {
	var rec store.Record
	var partsJSON []byte
	var expiry, startTime, endTime sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Token, &rec.MMSID, &rec.Direction, &rec.Status, &rec.ReadStatus,
		&rec.LocalUID, &rec.RemoteUID,
		pq.Array(&rec.To), pq.Array(&rec.Cc), pq.Array(&rec.Bcc),
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

	if len(partsJSON) > 0 {
		rec.Parts, err = unmarshalParts(partsJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal parts: %w", err)
		}
	}

	return &rec, nil
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

// textArray never writes a NULL array column.
func textArray(ss []string) any {
	if ss == nil {
		ss = []string{}
	}
	return pq.Array(ss)
}
