package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nemomobile/mms"
)

// Config is the daemon configuration, read from a YAML file with
// MMSD_-prefixed environment overrides.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Parts       PartsConfig       `mapstructure:"parts"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Events      EventsConfig      `mapstructure:"events"`
	Subscriber  SubscriberConfig  `mapstructure:"subscriber"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn or error
	Format string `mapstructure:"format"` // text or json
}

type StorageConfig struct {
	// Driver selects the record store: memory, sqlite, postgres or mongo.
	Driver string `mapstructure:"driver"`
	// DSN is the database file path for sqlite, the connection string for
	// postgres and the URI for mongo.
	DSN         string        `mapstructure:"dsn"`
	TablePrefix string        `mapstructure:"table_prefix"` // postgres only
	Database    string        `mapstructure:"database"`     // mongo only
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PartsConfig struct {
	// Root is the directory holding materialized part files, one
	// subdirectory per record.
	Root string `mapstructure:"root"`
}

type EngineConfig struct {
	// Bus selects the D-Bus connection to the transport engine: system,
	// session, or none to run without one.
	Bus             string        `mapstructure:"bus"`
	LocalUID        string        `mapstructure:"local_uid"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EventsConfig struct {
	// Transport selects the event bus transport: none or redis.
	Transport     string `mapstructure:"transport"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type SubscriberConfig struct {
	// ID is the subscriber identity (IMSI) of the active SIM.
	ID string `mapstructure:"id"`
	// AutomaticDownload enables unattended downloads. Leave unset to
	// require manual download of every inbound message.
	AutomaticDownload *bool `mapstructure:"automatic_download"`
	DeliveryReports   bool  `mapstructure:"delivery_reports"`
	ReadReports       bool  `mapstructure:"read_reports"`
}

type MaintenanceConfig struct {
	// PurgeInterval is how often terminal records past their retention are
	// deleted. Zero disables purging.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

// loadConfig reads the configuration file at path, if any, and applies
// environment overrides (MMSD_STORAGE_DRIVER and so on).
func loadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "/var/lib/mmsd/records.db")
	v.SetDefault("parts.root", "/var/spool/mmsd")
	v.SetDefault("engine.bus", "system")
	v.SetDefault("engine.local_uid", mms.DefaultLocalUID)
	v.SetDefault("events.transport", "none")
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("maintenance.purge_interval", time.Duration(0))
	v.SetDefault("maintenance.retention", 90*24*time.Hour)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MMSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
