package mms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemomobile/mms/store"
)

// lookupByMMSID resolves the record a carrier report refers to. Reports
// arrive long after the transfer finished, correlated only by the carrier
// message id. Unknown ids are logged and reported as a nil record.
//
// Caller must hold e.mu.
func (e *engine) lookupByMMSID(ctx context.Context, mmsID string) (*store.Record, error) {
	rec, err := e.store.GetByTokens(ctx, "", mmsID)
	if err == nil {
		return rec, nil
	}
	if store.IsNotFound(err) || errors.Is(err, store.ErrNoToken) {
		e.logger.Warn("no record for carrier message id", "mms_id", mmsID)
		return nil, nil
	}
	return nil, fmt.Errorf("lookup record: %w", err)
}

// DeliveryReport applies a recipient delivery report to the outbound record
// with the given carrier message id.
//
// Indeterminate, deferred and forwarded reports change nothing; expired,
// rejected and unrecognized reports mark the record temporarily failed;
// retrieved marks it delivered. Unknown report codes are logged and
// dropped.
func (e *engine) DeliveryReport(ctx context.Context, subscriberID, mmsID, recipient string, state DeliveryState) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.delivery_report",
		attribute.String("state", state.String()),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordReport(ctx, time.Since(start), "delivery", opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookupByMMSID(ctx, mmsID)
	if err != nil {
		opErr = err
		return opErr
	}
	if rec == nil {
		return nil
	}

	e.logger.Debug("delivery report",
		"record_id", rec.ID, "recipient", recipient,
		"subscriber_id", subscriberID, "state", state.String())

	if !state.Valid() {
		e.logger.Warn("unknown delivery report state",
			"record_id", rec.ID, "state", int(state))
		return nil
	}

	newStatus, ok := deliveryStateStatus(state)
	if !ok {
		// Indeterminate, deferred and forwarded carry no final outcome.
		return nil
	}

	if newStatus != rec.Status {
		if err := e.setStatus(ctx, rec, newStatus); err != nil {
			e.logger.Warn("failed updating MMS record status",
				"record_id", rec.ID, "status", newStatus, "error", err)
		}
	}

	return nil
}

// ReadReport applies a recipient read report to the outbound record with
// the given carrier message id. A zero state means the recipient read the
// message; any other value means it was deleted unread.
//
// The read report updates only the record's read-report field; the
// lifecycle status, including a delivered mark from an earlier delivery
// report, is left untouched.
func (e *engine) ReadReport(ctx context.Context, subscriberID, mmsID, recipient string, state int) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.read_report",
		attribute.Int("state", state),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordReport(ctx, time.Since(start), "read", opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookupByMMSID(ctx, mmsID)
	if err != nil {
		opErr = err
		return opErr
	}
	if rec == nil {
		return nil
	}

	e.logger.Debug("read report",
		"record_id", rec.ID, "recipient", recipient,
		"subscriber_id", subscriberID, "state", state)

	readStatus := store.ReadStatusRead
	if state != 0 {
		readStatus = store.ReadStatusDeleted
	}

	if err := e.store.UpdateReadStatus(ctx, rec.ID, readStatus); err != nil {
		e.logger.Warn("failed updating MMS read status",
			"record_id", rec.ID, "read_status", readStatus, "error", err)
	}

	return nil
}
