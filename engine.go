package mms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/store"
)

// EngineHealth provides health and state information about the engine.
type EngineHealth interface {
	// IsConnected returns true if the engine is connected and ready.
	IsConnected() bool
}

// TransferHandler receives the transport engine's lifecycle callbacks.
// Each method corresponds to one signal from the external transport engine
// and is safe for concurrent use; the engine serializes handling internally.
type TransferHandler interface {
	// RegisterNotification records a new inbound notification and decides
	// between automatic and manual download. It returns the correlation
	// token the transport engine must echo in later callbacks, or an empty
	// token when the download is deferred to manual handling.
	RegisterNotification(ctx context.Context, subscriberID, from, subject string, expiry time.Time, pushData []byte) (string, error)
	// ReceiveStateChanged applies a download progress state to the record
	// identified by token.
	ReceiveStateChanged(ctx context.Context, token string, state ReceiveState) error
	// MessageReceived completes an inbound transfer: it stores the message
	// content and marks the record received.
	MessageReceived(ctx context.Context, token, mmsID, from string, to, cc []string, subject string, date time.Time, readReport bool, sources []parts.Source) error
	// SendStateChanged applies an upload progress state to the record
	// identified by token.
	SendStateChanged(ctx context.Context, token string, state SendState) error
	// MessageSent finalizes an outbound transfer with the carrier message id.
	MessageSent(ctx context.Context, token, mmsID string) error
	// DeliveryReport applies a recipient delivery report, correlated by
	// carrier message id.
	DeliveryReport(ctx context.Context, subscriberID, mmsID, recipient string, state DeliveryState) error
	// ReadReport applies a recipient read report, correlated by carrier
	// message id. A zero state means read, anything else means deleted.
	ReadReport(ctx context.Context, subscriberID, mmsID, recipient string, state int) error
}

// MessageSender dispatches outbound messages.
type MessageSender interface {
	// SendMessage creates an outbound record, materializes its parts and
	// hands it to the transport engine. It returns the new record id as
	// soon as the record exists; later failures surface on the record's
	// status rather than the returned error.
	SendMessage(ctx context.Context, to, cc, bcc []string, subject string, sources []parts.Source) (int64, error)
	// SendFromRecord re-dispatches an existing outbound record, typically
	// to retry a failed send.
	SendFromRecord(ctx context.Context, recordID int64) error
}

// PolicyHandler reacts to system policy changes. Implementations of
// PolicyObserver call these entry points when the watched state changes.
type PolicyHandler interface {
	// PolicyChanged re-reads the roaming policy and cancels all in-flight
	// transfers when sending became prohibited.
	PolicyChanged(ctx context.Context)
	// SubscriberChanged re-resolves the subscriber identity and refreshes
	// the per-subscriber preference snapshot.
	SubscriberChanged(ctx context.Context)
}

// RecordReader provides read access to stored records.
type RecordReader interface {
	Get(ctx context.Context, recordID int64) (*store.Record, error)
	List(ctx context.Context, opts store.ListOptions) ([]*store.Record, error)
	// Stream returns a batch-fetching iterator for result sets too large
	// for a single List call.
	Stream(ctx context.Context, opts store.ListOptions, stream StreamOptions) (RecordIterator, error)
}

// Maintenance provides periodic housekeeping operations. Call these from
// your application's scheduler; the engine does not run them automatically.
type Maintenance interface {
	// Stats returns record counts by lifecycle status plus the number of
	// in-flight transfers.
	Stats(ctx context.Context) (*Stats, error)
	// PurgeTerminal deletes records that reached a terminal status more
	// than olderThan ago, together with their materialized part files.
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Engine reconciles MMS transfer lifecycles against the record store.
//
// Composed of:
//   - EngineHealth: Health and state queries (IsConnected)
//   - TransferHandler: Transport engine callbacks (notifications, state
//     changes, completions, reports)
//   - MessageSender: Outbound dispatch (SendMessage, SendFromRecord)
//   - PolicyHandler: Policy and subscriber change handling
//   - RecordReader: Record queries (Get, List, Stream)
//   - Maintenance: Housekeeping (Stats, PurgeTerminal)
type Engine interface {
	EngineHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight dispatches and closes all connections.
	Close(ctx context.Context) error

	TransferHandler
	MessageSender
	PolicyHandler
	RecordReader
	Maintenance

	// Events returns per-engine event instances for subscribing and
	// publishing. Each engine has its own events bound to its own event
	// bus, enabling independent event routing and parallel testing.
	Events() *EngineEvents
}

// Connection states for the engine.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// engine is the default implementation of Engine.
//
// All lifecycle operations run under a single mutex: callbacks from the
// transport engine, outbound dispatch and policy changes are applied one
// at a time, in arrival order. Asynchronous transport completions re-enter
// the mutex before touching any record.
type engine struct {
	store        store.Store
	materializer *parts.Materializer
	logger       *slog.Logger
	opts         *options

	notifier  Notifier
	transport Transport
	policy    PolicyObserver
	settings  SettingsSource

	state    int32               // stateDisconnected, stateConnecting, or stateConnected
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted // Limits concurrent dispatches, drained on Close
	eventBus *event.Bus          // Event bus for publishing events
	events   *EngineEvents       // Per-engine event instances

	mu       sync.Mutex         // Serializes all lifecycle operations
	active   activeTransfers    // In-flight transfer ids, guarded by mu
	snapshot subscriberSnapshot // Current subscriber preferences, guarded by mu

	// Stats cache, guarded by mu
	statsCache *Stats
	statsAt    time.Time
}

// subscriberSnapshot is the engine's snapshot of the active subscriber and
// its preferences, refreshed on SubscriberChanged.
type subscriberSnapshot struct {
	subscriberID      string
	sendFlags         SendFlags
	automaticDownload *bool // nil when no preference is configured
}

// New creates a new engine.
// Call Connect() to establish connections to backends.
func New(opts ...Option) (Engine, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.materializer == nil {
		return nil, ErrMaterializerRequired
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &engine{
		store:        o.store,
		materializer: o.materializer,
		logger:       o.logger,
		opts:         o,
		notifier:     o.notifier,
		transport:    o.transport,
		policy:       o.policy,
		settings:     o.settings,
		otel:         otelInstr,
		sendSem:      semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-engine event instances for subscribing and publishing.
func (e *engine) Events() *EngineEvents {
	return e.events
}

// IsConnected returns true if the engine is connected and ready.
func (e *engine) IsConnected() bool {
	return atomic.LoadInt32(&e.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (e *engine) Connect(ctx context.Context) error {
	// Use three-state to prevent callbacks from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&e.state, stateDisconnected, stateConnecting) {
		if atomic.LoadInt32(&e.state) == stateConnecting {
			return ErrAlreadyConnected // Connection in progress
		}
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&e.state, stateConnected)
		} else {
			atomic.StoreInt32(&e.state, stateDisconnected)
		}
	}()

	if err := e.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	// Initialize event bus with appropriate transport
	if err := e.initEventBus(ctx); err != nil {
		e.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	// Seed the subscriber snapshot. Later changes arrive via
	// SubscriberChanged from the policy observer.
	e.refreshSubscriber(ctx)

	success = true
	e.logger.Info("mms engine connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this engine.
// Each engine creates its own bus. Events are global singletons that get
// bound to the first bus that registers them.
func (e *engine) initEventBus(ctx context.Context) error {
	serviceName := e.opts.serviceName
	if serviceName == "" {
		serviceName = "mms"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case e.opts.eventTransport != nil:
		e.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(e.opts.eventTransport))
	case e.opts.redisClient != nil:
		e.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(e.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		e.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	e.eventBus = bus

	// Create and register per-engine events (unique per engine instance).
	e.events = newEngineEvents(busName)
	if err := registerEngineEvents(ctx, bus, e.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register engine events: %w", err)
	}

	// Also register global events for backward compatibility.
	// Global events use "first registration wins" - subsequent calls are no-ops.
	if err := registerEvents(ctx, bus); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (e *engine) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight dispatches to complete (graceful shutdown).
	// After setting state to disconnected, no new dispatches can start
	// because checkAccess fails. We acquire all semaphore slots to wait for
	// existing transport completions to land.
	e.logger.Info("waiting for in-flight dispatches to complete...", "timeout", e.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, e.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := e.sendSem.Acquire(shutdownCtx, int64(e.opts.maxConcurrentSends)); err != nil {
		// Context cancelled or deadline exceeded - log but continue shutdown
		e.logger.Warn("timeout waiting for in-flight dispatches, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		e.sendSem.Release(int64(e.opts.maxConcurrentSends))
		e.logger.Info("all in-flight dispatches completed")
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources and closing would
	// break events for other engines sharing the same global events.
	if e.eventBus != nil && (e.opts.eventTransport != nil || e.opts.redisClient != nil) {
		if err := e.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := e.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// checkAccess verifies the engine is ready for operations.
func (e *engine) checkAccess() error {
	if atomic.LoadInt32(&e.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// notify surfaces a record to the user-facing notifier. Notifications are
// fire-and-forget; the engine never retries or consumes a result.
func (e *engine) notify(ctx context.Context, rec *store.Record, displayParty string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, rec, displayParty, ConversationPeerToPeer)
}

// setStatus persists a status transition and publishes the lifecycle
// events for it. The caller decides how to treat a store failure; events
// are published only when the update landed.
func (e *engine) setStatus(ctx context.Context, rec *store.Record, status store.Status) error {
	old := rec.Status
	rec.Status = status
	if err := e.store.Update(ctx, rec); err != nil {
		rec.Status = old
		return err
	}
	e.publishStatusChanged(ctx, rec, old)
	if status.Failed() {
		e.publishFailed(ctx, rec)
	}
	return nil
}

// publishStatusChanged publishes a StatusChanged event. Failures are
// reported through the configured failure handler, never to the caller.
func (e *engine) publishStatusChanged(ctx context.Context, rec *store.Record, old store.Status) {
	if err := e.events.StatusChanged.Publish(ctx, StatusChangedEvent{
		RecordID:  rec.ID,
		Token:     rec.Token,
		OldStatus: string(old),
		NewStatus: string(rec.Status),
		ChangedAt: time.Now().UTC(),
	}); err != nil {
		e.opts.safeEventPublishFailure(EventNameStatusChanged, err)
	}
}

// publishFailed publishes a MessageFailed event. Failures are reported
// through the configured failure handler, never to the caller.
func (e *engine) publishFailed(ctx context.Context, rec *store.Record) {
	if err := e.events.MessageFailed.Publish(ctx, MessageFailedEvent{
		RecordID:  rec.ID,
		Direction: string(rec.Direction),
		Status:    string(rec.Status),
		Permanent: rec.Status == store.StatusPermanentlyFailed,
		FailedAt:  time.Now().UTC(),
	}); err != nil {
		e.opts.safeEventPublishFailure(EventNameMessageFailed, err)
	}
}

// Get retrieves a record by id.
func (e *engine) Get(ctx context.Context, recordID int64) (*store.Record, error) {
	if err := e.checkAccess(); err != nil {
		return nil, err
	}

	rec, err := e.store.Get(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List returns records matching the given options, newest first.
func (e *engine) List(ctx context.Context, opts store.ListOptions) ([]*store.Record, error) {
	if err := e.checkAccess(); err != nil {
		return nil, err
	}

	// Apply default query limit if not specified
	if opts.Limit == 0 {
		opts.Limit = e.opts.defaultQueryLimit
	}
	// Enforce maximum query limit to prevent resource exhaustion
	if opts.Limit > e.opts.maxQueryLimit {
		opts.Limit = e.opts.maxQueryLimit
	}

	recs, err := e.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}
