// Package mms reconciles MMS transfer lifecycles for Go.
//
// The engine sits between an external MMS transport engine (which talks to
// the carrier) and a durable message record store. It registers inbound
// notifications, decides between automatic and manual download, applies
// transfer state changes, materializes received content parts into durable
// storage, dispatches outbound messages, and folds delivery and read
// reports back onto the records they belong to.
// All functionality is exposed via interfaces, with pluggable storage
// backends (MongoDB, PostgreSQL, SQLite, in-memory).
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	store := memory.New()
//
//	// Create the engine
//	eng, err := mms.New(
//	    mms.WithStore(store),
//	    mms.WithMaterializer(parts.New("/var/spool/mms")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes indexes/schema
//	if err := eng.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	// Register an inbound notification
//	token, err := eng.RegisterNotification(ctx, imsi, "+15551234567", "photo", expiry, pushData)
//
//	// Send a message
//	id, err := eng.SendMessage(ctx, []string{"+15557654321"}, nil, nil, "hi",
//	    []parts.Source{{Path: "/tmp/pic.jpg", ContentType: "image/jpeg", ContentID: "pic"}})
//
// # Correlation
//
// Every inbound and outbound transfer is correlated by a token: the decimal
// string form of the record id, handed to the transport engine at
// registration or dispatch and echoed back in every state change and
// completion callback. Delivery and read reports arrive much later and are
// correlated by the carrier-assigned message id instead.
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB or *sql.DB
//   - SQLite (store/sqlite) - accepts a file path
//   - In-memory (store/memory) - for testing
//
// # Events
//
// The engine provides typed events for transfer lifecycle notifications.
// Events use the github.com/rbaliyan/event/v3 library which supports
// multiple transports (Redis Streams, NATS, Kafka, in-memory channel).
//
// To enable events, pass WithRedisClient or WithEventTransport when
// creating the engine:
//
//	eng, err := mms.New(
//	    mms.WithStore(store),
//	    mms.WithMaterializer(m),
//	    mms.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access per-engine
// events via the Events() method:
//
//	events := eng.Events()
//	events.MessageReceived.Subscribe(ctx, handler)
//	events.StatusChanged.Subscribe(ctx, handler)
//
// Available events:
//   - MessageReceived - when an inbound message is fully stored
//   - MessageSent - when the transport engine confirms a send
//   - MessageFailed - when a transfer lands in a failed state
//   - StatusChanged - on every lifecycle status transition
//   - TransfersCancelled - when a policy change cancels all transfers
package mms
