package mms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

// lookupByToken resolves the record a transport callback refers to.
//
// An unknown token is not an error towards the transport engine: the record
// may have been deleted while the transfer ran. Those lookups are logged
// and reported as a nil record, and the token's id is dropped from the
// in-flight set so a stale transfer cannot pin it forever.
//
// Caller must hold e.mu.
func (e *engine) lookupByToken(ctx context.Context, token string) (*store.Record, error) {
	rec, err := e.store.GetByTokens(ctx, token, "")
	if err == nil {
		return rec, nil
	}
	if store.IsNotFound(err) || errors.Is(err, store.ErrNoToken) {
		e.logger.Warn("no record for transfer token", "token", token)
		if id, perr := strconv.ParseInt(token, 10, 64); perr == nil {
			e.active.remove(id)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("lookup record: %w", err)
}

// ReceiveStateChanged applies a download progress state reported by the
// transport engine to the record identified by token.
func (e *engine) ReceiveStateChanged(ctx context.Context, token string, state ReceiveState) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.receive_state",
		attribute.String("token", token),
		attribute.String("state", state.String()),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordState(ctx, time.Since(start), string(store.DirectionInbound), opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookupByToken(ctx, token)
	if err != nil {
		opErr = err
		return opErr
	}
	if rec == nil {
		return nil
	}

	newStatus, ok := receiveStateStatus(state)
	if !ok {
		e.logger.Warn("unhandled receive state", "record_id", rec.ID, "state", int(state))
		return nil
	}

	// Failure states can trail an automatic attempt that was aborted after
	// the record already went to manual download. The manual notification
	// stays untouched.
	if (state == ReceiveStateNoSpace || state == ReceiveStateError) &&
		rec.Status == store.StatusManualNotification {
		return nil
	}

	if newStatus != rec.Status {
		if err := e.setStatus(ctx, rec, newStatus); err != nil {
			e.logger.Warn("failed updating MMS record status",
				"record_id", rec.ID, "status", newStatus, "error", err)
		}
	}

	if !newStatus.InProgress() {
		e.active.remove(rec.ID)
		e.notify(ctx, rec, rec.RemoteUID)
	}

	return nil
}

// MessageReceived completes an inbound transfer: the decoded content parts
// are materialized into durable storage and the record becomes received.
//
// The whole completion is all-or-nothing. If any part fails to materialize,
// or the updated record fails to store, everything already copied is
// removed, the record is re-read and marked temporarily failed, and the
// user is notified of the failure instead of a new message.
//
// A completion for an unknown token stores the message as a brand new
// record; losing downloaded content over a dangling token is worse than
// keeping an unannounced message.
func (e *engine) MessageReceived(ctx context.Context, token, mmsID, from string, to, cc []string, subject string, date time.Time, readReport bool, sources []parts.Source) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.message_received",
		attribute.String("token", token),
		attribute.Int("part_count", len(sources)),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordReceive(ctx, time.Since(start), len(sources), opErr)
	}()

	sender := NormalizeAddress(from)
	if sender == "" {
		opErr = fmt.Errorf("%w: empty sender", ErrInvalidAddress)
		return opErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.lookupByToken(ctx, token)
	if err != nil {
		opErr = err
		return opErr
	}

	existed := rec != nil
	if existed {
		e.active.remove(rec.ID)
	} else {
		e.logger.Warn("received MMS for unknown token, storing as new message", "token", token)
		now := time.Now().UTC()
		rec = &store.Record{
			Direction: store.DirectionInbound,
			LocalUID:  e.opts.localUID,
			RemoteUID: sender,
			EndTime:   now,
		}
		groupID, err := e.store.ResolveGroup(ctx, rec.LocalUID, rec.RemoteUID)
		if err != nil {
			opErr = fmt.Errorf("ensure group: %w", err)
			return opErr
		}
		rec.GroupID = groupID
	}

	oldStatus := rec.Status
	rec.Status = store.StatusReceived
	rec.MMSID = mmsID
	rec.Subject = subject
	rec.StartTime = date
	rec.To = normalizeAddressList(to)
	rec.Cc = normalizeAddressList(cc)
	rec.ReportRequested = readReport
	rec.ClearTransient()

	// The carrier's sender can differ from the address the notification
	// announced. The record follows the real sender, which may mean moving
	// it to that sender's conversation.
	if existed && rec.RemoteUID != sender {
		e.logger.Info("correcting MMS sender",
			"record_id", rec.ID, "old", rec.RemoteUID, "new", sender)
		oldGroupID := rec.GroupID
		rec.RemoteUID = sender
		newGroupID, err := e.store.ResolveGroup(ctx, rec.LocalUID, sender)
		if err != nil {
			e.logger.Error("failed ensuring group for corrected sender",
				"record_id", rec.ID, "error", err)
		} else if newGroupID != oldGroupID {
			if err := e.store.MoveGroup(ctx, rec, newGroupID); err != nil {
				e.logger.Error("failed moving record to corrected group",
					"record_id", rec.ID, "group_id", newGroupID, "error", err)
			}
		}
	}

	if !rec.Saved() {
		if err := e.store.Create(ctx, rec); err != nil {
			opErr = fmt.Errorf("create record: %w", err)
			return opErr
		}
	}

	matStart := time.Now()
	res, err := e.materializer.Materialize(ctx, rec.ID, sources)
	e.otel.recordMaterialize(ctx, time.Since(matStart), len(sources), err)
	if err != nil {
		if cleanupErr := e.materializer.Cleanup(rec.ID); cleanupErr != nil {
			e.logger.Warn("failed removing part files after materialization failure",
				"record_id", rec.ID, "error", cleanupErr)
		}
		opErr = &MaterializeError{RecordID: rec.ID, Err: err}
		e.failReceive(ctx, rec.ID, sender)
		return opErr
	}

	rec.Parts = res.Parts
	rec.FreeText = res.FreeText
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Error("failed storing received message",
			"record_id", rec.ID, "error", err)
		e.materializer.RemoveFiles(res.Parts)
		opErr = fmt.Errorf("update record: %w", err)
		e.failReceive(ctx, rec.ID, sender)
		return opErr
	}

	if existed && oldStatus != rec.Status {
		e.publishStatusChanged(ctx, rec, oldStatus)
	}
	e.notify(ctx, rec, sender)

	if err := e.events.MessageReceived.Publish(ctx, MessageReceivedEvent{
		RecordID:   rec.ID,
		MMSID:      mmsID,
		From:       sender,
		Subject:    subject,
		PartCount:  len(rec.Parts),
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		if e.opts.eventErrorsFatal {
			// The message is stored and the user notified - only the event
			// notification failed.
			opErr = &EventPublishError{Event: EventNameMessageReceived, RecordID: rec.ID, Err: err}
			return opErr
		}
		e.opts.safeEventPublishFailure(EventNameMessageReceived, err)
	}

	return nil
}

// failReceive re-reads the record fresh from the store and marks it
// temporarily failed so the user can retry the download. In-memory changes
// from the failed completion are discarded with the reload.
//
// Caller must hold e.mu.
func (e *engine) failReceive(ctx context.Context, recordID int64, displayParty string) {
	fresh, err := e.store.Get(ctx, recordID)
	if err != nil {
		e.logger.Error("failed reloading record for failure handling",
			"record_id", recordID, "error", err)
		return
	}
	if err := e.setStatus(ctx, fresh, store.StatusTemporarilyFailed); err != nil {
		e.logger.Warn("failed updating MMS record status",
			"record_id", recordID, "status", store.StatusTemporarilyFailed, "error", err)
	}
	e.notify(ctx, fresh, displayParty)
}
