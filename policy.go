package mms

import (
	"context"
	"time"
)

// PolicyChanged re-reads the roaming policy and, when transfers became
// prohibited, cancels every in-flight transfer.
//
// Cancellation is optimistic: the in-flight set is cleared immediately and
// each cancel request is fire-and-forget towards the transport engine. A
// transfer the engine fails to cancel finishes normally and its completion
// is still applied; only the bulk bookkeeping is dropped here.
func (e *engine) PolicyChanged(ctx context.Context) {
	if err := e.checkAccess(); err != nil {
		return
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.policy_changed")
	defer endSpan(nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy == nil || !e.policy.SendingProhibited(ctx) {
		return
	}
	if e.active.size() == 0 {
		return
	}

	ids := e.active.drain()
	e.logger.Warn("policy prohibits transfers, cancelling active MMS transfers",
		"count", len(ids))

	if e.transport != nil {
		for _, id := range ids {
			if err := e.transport.Cancel(ctx, id); err != nil {
				e.logger.Warn("failed cancelling transfer",
					"record_id", id, "error", err)
			}
		}
	}

	e.otel.recordCancel(ctx, len(ids))

	if err := e.events.TransfersCancelled.Publish(ctx, TransfersCancelledEvent{
		RecordIDs:   ids,
		CancelledAt: time.Now().UTC(),
	}); err != nil {
		e.opts.safeEventPublishFailure(EventNameTransfersCancelled, err)
	}
}

// SubscriberChanged re-resolves the active subscriber identity and
// refreshes the preference snapshot the engine works from.
func (e *engine) SubscriberChanged(ctx context.Context) {
	if err := e.checkAccess(); err != nil {
		return
	}

	ctx, endSpan := e.otel.startSpan(ctx, "mms.subscriber_changed")
	defer endSpan(nil)

	e.refreshSubscriber(ctx)
}

// refreshSubscriber rebuilds the subscriber snapshot from the policy
// observer and settings source. Without a subscriber (no SIM) the snapshot
// is empty: no send flags and no automatic-download preference.
func (e *engine) refreshSubscriber(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var snap subscriberSnapshot
	if e.policy != nil {
		snap.subscriberID = e.policy.SubscriberIdentity(ctx)
	}
	if snap.subscriberID != "" && e.settings != nil {
		snap.sendFlags = e.settings.SendFlags(ctx, snap.subscriberID)
		if enabled, ok := e.settings.AutomaticDownload(ctx, snap.subscriberID); ok {
			snap.automaticDownload = &enabled
		}
	}

	if snap.subscriberID != e.snapshot.subscriberID {
		e.logger.Info("active subscriber changed",
			"subscriber_id", snap.subscriberID)
	}
	e.snapshot = snap
}
