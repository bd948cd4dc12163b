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

// SendMessage creates an outbound record, materializes its parts and hands
// the message to the transport engine.
//
// The record id is returned as soon as the record exists, even when the
// message could not be dispatched: a prohibited or failed send is a
// definite outcome carried on the record's status, not an error. The
// returned error is non-nil only for invalid requests, for storage
// failures before a record existed, and for materialization or dispatch
// failures (which also leave the record marked failed).
func (e *engine) SendMessage(ctx context.Context, to, cc, bcc []string, subject string, sources []parts.Source) (int64, error) {
	if err := e.checkAccess(); err != nil {
		return 0, err
	}

	if err := validateSendRequest(to, cc, bcc, subject, sources, e.opts.getLimits()); err != nil {
		return 0, err
	}

	recipientCount := len(to) + len(cc) + len(bcc)
	ctx, endSpan := e.otel.startSpan(ctx, "mms.send",
		attribute.Int("recipient_count", recipientCount),
		attribute.Int("part_count", len(sources)),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordSend(ctx, time.Since(start), recipientCount, opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	rec := &store.Record{
		Direction: store.DirectionOutbound,
		Status:    store.StatusSending,
		LocalUID:  e.opts.localUID,
		To:        normalizeAddressList(to),
		Cc:        normalizeAddressList(cc),
		Bcc:       normalizeAddressList(bcc),
		Subject:   subject,
		IsRead:    true,
		StartTime: now,
		EndTime:   now,
	}
	rec.RemoteUID = firstRecipient(rec)
	if rec.RemoteUID == "" {
		opErr = fmt.Errorf("%w: empty recipient", ErrInvalidAddress)
		return 0, opErr
	}

	groupID, err := e.store.ResolveGroup(ctx, rec.LocalUID, rec.RemoteUID)
	if err != nil {
		opErr = fmt.Errorf("ensure group: %w", err)
		return 0, opErr
	}
	rec.GroupID = groupID

	if err := e.store.Create(ctx, rec); err != nil {
		opErr = fmt.Errorf("create record: %w", err)
		return 0, opErr
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
		// Without stored parts the record can never be re-dispatched, so
		// the failure is permanent.
		e.failSend(ctx, rec.ID, store.StatusPermanentlyFailed)
		return rec.ID, opErr
	}

	rec.Parts = res.Parts
	rec.FreeText = res.FreeText
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Error("failed storing outbound message",
			"record_id", rec.ID, "error", err)
		e.materializer.RemoveFiles(res.Parts)
		opErr = fmt.Errorf("update record: %w", err)
		e.failSend(ctx, rec.ID, store.StatusPermanentlyFailed)
		return rec.ID, opErr
	}

	if e.policy != nil && e.policy.SendingProhibited(ctx) {
		e.logger.Warn("sending prohibited by policy, not dispatching",
			"record_id", rec.ID)
		if err := e.setStatus(ctx, rec, store.StatusTemporarilyFailed); err != nil {
			e.logger.Warn("failed updating MMS record status",
				"record_id", rec.ID, "status", store.StatusTemporarilyFailed, "error", err)
		}
		e.notify(ctx, rec, rec.RemoteUID)
		return rec.ID, nil
	}

	if err := e.dispatchSend(ctx, rec); err != nil {
		opErr = err
		return rec.ID, opErr
	}
	return rec.ID, nil
}

// SendFromRecord re-dispatches an existing outbound record, typically to
// retry a send that failed. The record must still carry its materialized
// parts.
func (e *engine) SendFromRecord(ctx context.Context, recordID int64) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.send_from_record",
		attribute.Int64("record_id", recordID),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordSend(ctx, time.Since(start), 1, opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, recordID)
	if err != nil {
		opErr = fmt.Errorf("get record: %w", err)
		return opErr
	}

	if rec.Direction != store.DirectionOutbound {
		opErr = ErrNotOutbound
		return opErr
	}
	if len(rec.Recipients()) == 0 {
		opErr = ErrNoRecipients
		return opErr
	}
	if len(rec.Parts) == 0 {
		opErr = ErrNoParts
		return opErr
	}

	if rec.Status != store.StatusSending {
		if err := e.setStatus(ctx, rec, store.StatusSending); err != nil {
			e.logger.Warn("failed updating MMS record status",
				"record_id", rec.ID, "status", store.StatusSending, "error", err)
		}
	}

	if err := e.dispatchSend(ctx, rec); err != nil {
		opErr = err
		return opErr
	}
	return nil
}

// dispatchSend registers an outbound record as in-flight and hands it to
// the transport engine on a separate goroutine. Waiting for a send-window
// slot, the transport call, and applying its result all happen off the
// engine lock.
//
// With no transport configured the record is marked temporarily failed and
// a DispatchError is returned.
//
// Caller must hold e.mu.
func (e *engine) dispatchSend(ctx context.Context, rec *store.Record) error {
	if e.transport == nil {
		e.markDispatchFailed(ctx, rec)
		return &DispatchError{RecordID: rec.ID, Err: ErrNoTransport}
	}

	// A record that was dispatched before keeps the subscriber the engine
	// assigned to it; fresh records use the active subscriber.
	subscriber := rec.SubscriberID
	if subscriber == "" {
		subscriber = e.snapshot.subscriberID
	}

	req := SendRequest{
		RecordID:     rec.ID,
		SubscriberID: subscriber,
		To:           rec.To,
		Cc:           rec.Cc,
		Bcc:          rec.Bcc,
		Subject:      rec.Subject,
		Flags:        e.snapshot.sendFlags,
		Parts:        rec.Parts,
	}

	e.active.add(rec.ID)

	// The result must be applied even if the caller's context ends first;
	// only cancellation is detached, trace context is kept.
	go e.runDispatch(context.WithoutCancel(ctx), req)

	e.logger.Debug("dispatched MMS send", "record_id", rec.ID)
	return nil
}

// runDispatch takes a send-window slot, submits one request to the
// transport engine and applies its outcome under the engine lock. The slot
// is held until the outcome has been applied, so Close drains these.
//
// Must not be called while holding e.mu: slots are released here, and a
// caller waiting for one under the lock would never see it freed.
func (e *engine) runDispatch(ctx context.Context, req SendRequest) {
	var res SendResult
	if err := e.sendSem.Acquire(ctx, 1); err != nil {
		res = SendResult{Err: err}
	} else {
		defer e.sendSem.Release(1)
		r, ok := <-e.transport.Send(ctx, req)
		if !ok {
			r = SendResult{Err: ErrTransportClosed}
		}
		res = r
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Get(ctx, req.RecordID)
	if err != nil {
		e.logger.Warn("record gone before send result arrived",
			"record_id", req.RecordID, "error", err)
		e.active.remove(req.RecordID)
		return
	}

	if res.Err != nil {
		e.logger.Warn("MMS send failed", "record_id", req.RecordID, "error", res.Err)
		e.active.remove(req.RecordID)
		if err := e.setStatus(ctx, rec, store.StatusTemporarilyFailed); err != nil {
			e.logger.Warn("failed updating MMS record status",
				"record_id", req.RecordID, "status", store.StatusTemporarilyFailed, "error", err)
		}
		e.notify(ctx, rec, rec.RemoteUID)
		return
	}

	// The transfer is running; MessageSent or SendStateChanged will close
	// it out. Only the engine-assigned subscriber needs recording.
	rec.SubscriberID = res.EngineID
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Warn("failed storing engine subscriber id",
			"record_id", req.RecordID, "error", err)
	}
}

// markDispatchFailed marks a record temporarily failed after a dispatch
// that never reached the transport engine.
//
// Caller must hold e.mu.
func (e *engine) markDispatchFailed(ctx context.Context, rec *store.Record) {
	if err := e.setStatus(ctx, rec, store.StatusTemporarilyFailed); err != nil {
		e.logger.Warn("failed updating MMS record status",
			"record_id", rec.ID, "status", store.StatusTemporarilyFailed, "error", err)
	}
	e.notify(ctx, rec, rec.RemoteUID)
}

// failSend re-reads an outbound record fresh from the store and marks it
// failed with the given status, discarding in-memory changes from the
// failed send attempt.
//
// Caller must hold e.mu.
func (e *engine) failSend(ctx context.Context, recordID int64, status store.Status) {
	fresh, err := e.store.Get(ctx, recordID)
	if err != nil {
		e.logger.Error("failed reloading record for failure handling",
			"record_id", recordID, "error", err)
		return
	}
	if err := e.setStatus(ctx, fresh, status); err != nil {
		e.logger.Warn("failed updating MMS record status",
			"record_id", recordID, "status", status, "error", err)
	}
	e.notify(ctx, fresh, fresh.RemoteUID)
}

// firstRecipient returns the conversation peer of an outbound record: the
// first address across to, cc and bcc.
func firstRecipient(rec *store.Record) string {
	for _, list := range [][]string{rec.To, rec.Cc, rec.Bcc} {
		if len(list) > 0 {
			return list[0]
		}
	}
	return ""
}

// SendStateChanged applies an upload progress state reported by the
// transport engine to the record identified by token.
func (e *engine) SendStateChanged(ctx context.Context, token string, state SendState) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.send_state",
		attribute.String("token", token),
		attribute.String("state", state.String()),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordState(ctx, time.Since(start), string(store.DirectionOutbound), opErr)
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

	newStatus, ok := sendStateStatus(state)
	if !ok {
		e.logger.Warn("unhandled send state", "record_id", rec.ID, "state", int(state))
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

// MessageSent finalizes an outbound transfer: the transport engine accepted
// the message and assigned it a carrier message id, which later delivery
// and read reports use as their correlation key.
func (e *engine) MessageSent(ctx context.Context, token, mmsID string) error {
	if err := e.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.message_sent",
		attribute.String("token", token),
	)
	start := time.Now()
	var opErr error
	defer func() {
		endSpan(opErr)
		e.otel.recordState(ctx, time.Since(start), string(store.DirectionOutbound), opErr)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	// The transfer is over regardless of whether the record still exists.
	if id, perr := strconv.ParseInt(token, 10, 64); perr == nil {
		e.active.remove(id)
	}

	rec, err := e.store.GetByTokens(ctx, token, "")
	if err != nil {
		if store.IsNotFound(err) || errors.Is(err, store.ErrNoToken) {
			e.logger.Warn("no record for sent message", "token", token)
			return nil
		}
		opErr = fmt.Errorf("lookup record: %w", err)
		return opErr
	}

	oldStatus := rec.Status
	rec.Status = store.StatusSent
	rec.MMSID = mmsID
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Warn("failed updating MMS record status",
			"record_id", rec.ID, "status", store.StatusSent, "error", err)
		return nil
	}

	if oldStatus != rec.Status {
		e.publishStatusChanged(ctx, rec, oldStatus)
	}

	if err := e.events.MessageSent.Publish(ctx, MessageSentEvent{
		RecordID: rec.ID,
		MMSID:    mmsID,
		To:       rec.Recipients(),
		SentAt:   time.Now().UTC(),
	}); err != nil {
		if e.opts.eventErrorsFatal {
			opErr = &EventPublishError{Event: EventNameMessageSent, RecordID: rec.ID, Err: err}
			return opErr
		}
		e.opts.safeEventPublishFailure(EventNameMessageSent, err)
	}

	return nil
}
