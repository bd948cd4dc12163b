// The mmsd command runs the MMS lifecycle daemon. It keeps message records
// in a store, exchanges transfers with the mms-engine over D-Bus and applies
// the engine's progress reports to the stored records.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/nemomobile/mms"
	"github.com/nemomobile/mms/parts"
	"github.com/nemomobile/mms/policy"
	"github.com/nemomobile/mms/retry"
	"github.com/nemomobile/mms/store"
	"github.com/nemomobile/mms/store/memory"
	mongostore "github.com/nemomobile/mms/store/mongo"
	"github.com/nemomobile/mms/store/postgres"
	"github.com/nemomobile/mms/store/sqlite"
	"github.com/nemomobile/mms/transport/mmsengine"
	"github.com/nemomobile/mms/transport/noop"
)

const closeTimeout = 30 * time.Second

var flagConfig = flag.String("config", "", "path to the YAML config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("mmsd: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("mmsd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := buildStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pol := policy.NewStatic(cfg.Subscriber.ID)
	settings := policy.NewStaticSettings(map[string]policy.Settings{
		cfg.Subscriber.ID: subscriberSettings(cfg.Subscriber),
	})

	opts := []mms.Option{
		mms.WithStore(st),
		mms.WithMaterializer(parts.New(cfg.Parts.Root, parts.WithLogger(logger))),
		mms.WithLogger(logger),
		mms.WithLocalUID(cfg.Engine.LocalUID),
		mms.WithPolicyObserver(pol),
		mms.WithSettingsSource(settings),
		mms.WithNotifier(logNotifier(logger)),
		mms.WithServiceName("mmsd"),
	}
	if cfg.Engine.ShutdownTimeout > 0 {
		opts = append(opts, mms.WithShutdownTimeout(cfg.Engine.ShutdownTimeout))
	}

	if cfg.Events.Transport == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		defer redisClient.Close()
		opts = append(opts, mms.WithRedisClient(redisClient))
	}

	var conn *dbus.Conn
	switch cfg.Engine.Bus {
	case "none":
		opts = append(opts, mms.WithTransport(noop.New()))
	case "system", "session":
		conn, err = connectBus(cfg.Engine.Bus)
		if err != nil {
			return fmt.Errorf("connect %s bus: %w", cfg.Engine.Bus, err)
		}
		defer conn.Close()
		opts = append(opts, mms.WithTransport(mmsengine.New(conn, mmsengine.WithLogger(logger))))
	default:
		return fmt.Errorf("unknown bus %q", cfg.Engine.Bus)
	}

	eng, err := mms.New(opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Wait out backends that are still starting up.
	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, backoff time.Duration, err error) {
		logger.Warn("engine connect failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
	}
	if err := retry.Do(ctx, retryCfg, eng.Connect); err != nil {
		return fmt.Errorf("connect engine: %w", err)
	}

	pol.OnPolicyChange(func() { eng.PolicyChanged(context.Background()) })
	pol.OnSubscriberChange(func() { eng.SubscriberChanged(context.Background()) })

	// The handler goes on the bus only once the engine accepts callbacks.
	if conn != nil {
		if _, err := mmsengine.ExportHandler(conn, eng, mmsengine.WithLogger(logger)); err != nil {
			closeEngine(eng, logger)
			return err
		}
	}

	logger.Info("mmsd running",
		"storage", cfg.Storage.Driver, "bus", cfg.Engine.Bus, "parts_root", cfg.Parts.Root)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Maintenance.PurgeInterval > 0 {
		g.Go(func() error {
			return maintenanceLoop(gctx, eng, cfg.Maintenance, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	logger.Info("shutting down")
	closeEngine(eng, logger)
	return err
}

func closeEngine(eng mms.Engine, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Warn("engine close", "error", err)
	}
}

// buildStore constructs the record store for the configured driver. The
// returned func closes whatever connection handle the daemon owns; stores
// that open their own handles return a no-op.
func buildStore(cfg StorageConfig, logger *slog.Logger) (store.Store, func(), error) {
	nothing := func() {}

	switch cfg.Driver {
	case "memory":
		return memory.New(), nothing, nil

	case "sqlite":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("storage.dsn required for sqlite")
		}
		return sqlite.New(cfg.DSN, sqlite.WithLogger(logger)), nothing, nil

	case "postgres":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("storage.dsn required for postgres")
		}
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.TablePrefix != "" {
			opts = append(opts, postgres.WithTablePrefix(cfg.TablePrefix))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, postgres.WithTimeout(cfg.Timeout))
		}
		return postgres.NewFromDB(db, opts...), func() { db.Close() }, nil

	case "mongo":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("storage.dsn required for mongo")
		}
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		opts := []mongostore.Option{mongostore.WithLogger(logger)}
		if cfg.Database != "" {
			opts = append(opts, mongostore.WithDatabase(cfg.Database))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, mongostore.WithTimeout(cfg.Timeout))
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warn("mongo disconnect", "error", err)
			}
		}
		return mongostore.New(client, opts...), disconnect, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func connectBus(bus string) (*dbus.Conn, error) {
	if bus == "session" {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}

// subscriberSettings maps the config to the preference entry served for the
// configured SIM.
func subscriberSettings(cfg SubscriberConfig) policy.Settings {
	var flags mms.SendFlags
	if cfg.DeliveryReports {
		flags = flags.With(mms.SendFlagRequestDeliveryReport)
	}
	if cfg.ReadReports {
		flags = flags.With(mms.SendFlagRequestReadReport)
	}
	return policy.Settings{
		SendFlags:         flags,
		AutomaticDownload: cfg.AutomaticDownload,
	}
}

// logNotifier surfaces record notifications in the daemon log. Device
// deployments replace this with a UI notifier.
func logNotifier(logger *slog.Logger) mms.Notifier {
	return mms.NotifierFunc(func(_ context.Context, rec *mms.Record, displayParty string, kind mms.ConversationKind) {
		logger.Info("user notification",
			"record_id", rec.ID,
			"status", string(rec.Status),
			"party", displayParty,
			"conversation", kind.String())
	})
}

// maintenanceLoop purges terminal records past their retention on a fixed
// interval.
func maintenanceLoop(ctx context.Context, eng mms.Engine, cfg MaintenanceConfig, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := eng.PurgeTerminal(ctx, cfg.Retention)
			if err != nil {
				logger.Warn("purging terminal records failed", "error", err)
				continue
			}
			if purged > 0 {
				logger.Info("maintenance purge done", "count", purged)
			}
			if stats, err := eng.Stats(ctx); err == nil {
				logger.Debug("store stats",
					"total", stats.Total, "active", stats.Active)
			}
		}
	}
}

func newLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
