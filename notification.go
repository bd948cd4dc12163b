package mms

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nemomobile/mms/store"
)

// RegisterNotification records an inbound MMS notification and decides
// between automatic and manual download.
//
// In automatic mode the new record starts waiting, joins the in-flight set,
// and the returned token must be echoed by the transport engine in all
// later callbacks for this transfer. In manual mode the record is stored as
// a manual notification, surfaced to the user immediately, and the empty
// token tells the transport engine not to start a download.
func (e *engine) RegisterNotification(ctx context.Context, subscriberID, from, subject string, expiry time.Time, pushData []byte) (string, error) {
	if err := e.checkAccess(); err != nil {
		return "", err
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.register_notification",
		attribute.String("subscriber_id", subscriberID),
	)
	start := time.Now()
	var opErr error
	var manual bool
	defer func() {
		endSpan(opErr)
		e.otel.recordNotification(ctx, time.Since(start), manual, opErr)
	}()

	sender := NormalizeAddress(from)
	if sender == "" {
		opErr = fmt.Errorf("%w: empty sender", ErrInvalidAddress)
		return "", opErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	manual = e.manualDownload(ctx, subscriberID)

	now := time.Now().UTC()
	rec := &store.Record{
		Direction:    store.DirectionInbound,
		Status:       store.StatusWaiting,
		LocalUID:     e.opts.localUID,
		RemoteUID:    sender,
		Subject:      subject,
		SubscriberID: subscriberID,
		Expiry:       expiry,
		PushData:     pushData,
		StartTime:    now,
		EndTime:      now,
	}
	if manual {
		rec.Status = store.StatusManualNotification
	}

	groupID, err := e.store.ResolveGroup(ctx, rec.LocalUID, rec.RemoteUID)
	if err != nil {
		opErr = fmt.Errorf("ensure group: %w", err)
		return "", opErr
	}
	rec.GroupID = groupID

	if err := e.store.Create(ctx, rec); err != nil {
		opErr = fmt.Errorf("create record: %w", err)
		return "", opErr
	}

	if manual {
		e.logger.Info("deferring MMS to manual download",
			"record_id", rec.ID, "subscriber_id", subscriberID)
		e.notify(ctx, rec, sender)
		return "", nil
	}

	e.active.add(rec.ID)
	e.logger.Debug("registered MMS notification",
		"record_id", rec.ID, "token", rec.Token)
	return rec.Token, nil
}

// manualDownload decides whether an inbound notification must be left for
// manual download: either policy prohibits transfers right now, or the
// subscriber has not enabled automatic download. An unset preference counts
// as manual.
//
// Caller must hold e.mu.
func (e *engine) manualDownload(ctx context.Context, subscriberID string) bool {
	if e.policy != nil && e.policy.SendingProhibited(ctx) {
		return true
	}
	auto := e.automaticDownload(ctx, subscriberID)
	return auto == nil || !*auto
}

// automaticDownload resolves the automatic-download preference for the
// given subscriber. The current snapshot answers for the active subscriber;
// notifications for another SIM query the settings source directly.
//
// Caller must hold e.mu.
func (e *engine) automaticDownload(ctx context.Context, subscriberID string) *bool {
	if subscriberID != "" && subscriberID == e.snapshot.subscriberID {
		return e.snapshot.automaticDownload
	}
	if e.settings == nil || subscriberID == "" {
		return nil
	}
	enabled, ok := e.settings.AutomaticDownload(ctx, subscriberID)
	if !ok {
		return nil
	}
	return &enabled
}
