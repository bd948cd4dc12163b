package mms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for engine events.
const (
	EventNameMessageReceived    = "mms.message.received"
	EventNameMessageSent        = "mms.message.sent"
	EventNameMessageFailed      = "mms.message.failed"
	EventNameStatusChanged      = "mms.status.changed"
	EventNameTransfersCancelled = "mms.transfers.cancelled"
)

// MessageReceivedEvent is published when an inbound message is fully
// materialized and stored.
type MessageReceivedEvent struct {
	RecordID   int64     `json:"record_id"`
	MMSID      string    `json:"mms_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	PartCount  int       `json:"part_count"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageSentEvent is published when the transport engine confirms an
// outbound message was sent.
type MessageSentEvent struct {
	RecordID int64     `json:"record_id"`
	MMSID    string    `json:"mms_id"`
	To       []string  `json:"to"`
	SentAt   time.Time `json:"sent_at"`
}

// MessageFailedEvent is published when a transfer lands in a failed state.
// Permanent reports whether the failure is terminal or retryable.
type MessageFailedEvent struct {
	RecordID  int64     `json:"record_id"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	Permanent bool      `json:"permanent"`
	FailedAt  time.Time `json:"failed_at"`
}

// StatusChangedEvent is published on every lifecycle status transition.
type StatusChangedEvent struct {
	RecordID  int64     `json:"record_id"`
	Token     string    `json:"token"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedAt time.Time `json:"changed_at"`
}

// TransfersCancelledEvent is published when a policy change cancels all
// in-flight transfers.
type TransfersCancelledEvent struct {
	RecordIDs   []int64   `json:"record_ids"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// Global event instances.
//
// Deprecated: These global events use "first registration wins" semantics,
// which makes parallel testing unreliable and prevents multiple independent
// engines in the same process. Prefer using Engine.Events() for per-engine
// event access.
var (
	// EventMessageReceived is published when an inbound message is stored.
	// Deprecated: Use Engine.Events().MessageReceived instead.
	EventMessageReceived = event.New[MessageReceivedEvent](EventNameMessageReceived)

	// EventMessageSent is published when an outbound message is confirmed sent.
	// Deprecated: Use Engine.Events().MessageSent instead.
	EventMessageSent = event.New[MessageSentEvent](EventNameMessageSent)

	// EventMessageFailed is published when a transfer fails.
	// Deprecated: Use Engine.Events().MessageFailed instead.
	EventMessageFailed = event.New[MessageFailedEvent](EventNameMessageFailed)

	// EventStatusChanged is published on every status transition.
	// Deprecated: Use Engine.Events().StatusChanged instead.
	EventStatusChanged = event.New[StatusChangedEvent](EventNameStatusChanged)

	// EventTransfersCancelled is published when policy cancels all transfers.
	// Deprecated: Use Engine.Events().TransfersCancelled instead.
	EventTransfersCancelled = event.New[TransfersCancelledEvent](EventNameTransfersCancelled)
)

// EngineEvents provides access to per-engine event instances.
// Each engine creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	eng.Events().MessageReceived.Subscribe(ctx, handler)
//	eng.Events().StatusChanged.Subscribe(ctx, handler)
type EngineEvents struct {
	// MessageReceived is published when an inbound message is stored.
	MessageReceived event.Event[MessageReceivedEvent]

	// MessageSent is published when an outbound message is confirmed sent.
	MessageSent event.Event[MessageSentEvent]

	// MessageFailed is published when a transfer fails.
	MessageFailed event.Event[MessageFailedEvent]

	// StatusChanged is published on every status transition.
	StatusChanged event.Event[StatusChangedEvent]

	// TransfersCancelled is published when policy cancels all transfers.
	TransfersCancelled event.Event[TransfersCancelledEvent]
}

// newEngineEvents creates per-engine event instances with a unique name prefix.
func newEngineEvents(namePrefix string) *EngineEvents {
	return &EngineEvents{
		MessageReceived:    event.New[MessageReceivedEvent](namePrefix + "." + EventNameMessageReceived),
		MessageSent:        event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageFailed:      event.New[MessageFailedEvent](namePrefix + "." + EventNameMessageFailed),
		StatusChanged:      event.New[StatusChangedEvent](namePrefix + "." + EventNameStatusChanged),
		TransfersCancelled: event.New[TransfersCancelledEvent](namePrefix + "." + EventNameTransfersCancelled),
	}
}

// registerEngineEvents registers per-engine events with the given bus.
func registerEngineEvents(ctx context.Context, bus *event.Bus, events *EngineEvents) error {
	if err := event.Register(ctx, bus, events.MessageReceived); err != nil {
		return fmt.Errorf("register MessageReceived: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageFailed); err != nil {
		return fmt.Errorf("register MessageFailed: %w", err)
	}
	if err := event.Register(ctx, bus, events.StatusChanged); err != nil {
		return fmt.Errorf("register StatusChanged: %w", err)
	}
	if err := event.Register(ctx, bus, events.TransfersCancelled); err != nil {
		return fmt.Errorf("register TransfersCancelled: %w", err)
	}
	return nil
}

// registerEvents registers global engine events with the given bus.
// Global events use "first registration wins" - subsequent calls are no-ops.
//
// Deprecated: Global events are retained for backward compatibility.
// Per-engine events are registered separately via registerEngineEvents.
func registerEvents(ctx context.Context, bus *event.Bus) error {
	events := []any{
		EventMessageReceived,
		EventMessageSent,
		EventMessageFailed,
		EventStatusChanged,
		EventTransfersCancelled,
	}

	for _, ev := range events {
		if err := registerEvent(ctx, bus, ev); err != nil {
			return err
		}
	}

	return nil
}

func registerEvent(ctx context.Context, bus *event.Bus, ev any) error {
	switch v := ev.(type) {
	case event.Event[MessageReceivedEvent]:
		return tryRegister(ctx, bus, v)
	case event.Event[MessageSentEvent]:
		return tryRegister(ctx, bus, v)
	case event.Event[MessageFailedEvent]:
		return tryRegister(ctx, bus, v)
	case event.Event[StatusChangedEvent]:
		return tryRegister(ctx, bus, v)
	case event.Event[TransfersCancelledEvent]:
		return tryRegister(ctx, bus, v)
	default:
		return fmt.Errorf("mms: unknown event type %T - update registerEvent switch", ev)
	}
}

// tryRegister attempts to register an event, ignoring "already bound" errors.
func tryRegister[T any](ctx context.Context, bus *event.Bus, ev event.Event[T]) error {
	err := event.Register(ctx, bus, ev)
	if err == nil {
		return nil
	}
	// Ignore "already bound" errors for global events that may have been
	// registered by a previous engine instance.
	if errors.Is(err, event.ErrAlreadyBound) {
		return nil
	}
	return err
}
