package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config holds all daemon configuration.
type Config struct {
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`

	// Base58 identity the treasury program derives its addresses under.
	ProgramID string `toml:"program_id" env:"PROGRAM_ID"`

	Store     StoreConfig     `toml:"store" envPrefix:"STORE_"`
	Processor ProcessorConfig `toml:"processor" envPrefix:"PROCESSOR_"`
	Postgres  PostgresConfig  `toml:"postgres" envPrefix:"POSTGRES_"`
	NATS      NATSConfig      `toml:"nats" envPrefix:"NATS_"`
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
}

// StoreConfig locates the bbolt account store.
type StoreConfig struct {
	Path      string   `toml:"path" env:"PATH"`
	TxTimeout Duration `toml:"tx_timeout" env:"TX_TIMEOUT"`

	// Recent signed instructions whose ids are reloaded for dedup on start
	ReplayWindow int `toml:"replay_window" env:"REPLAY_WINDOW"`
}

type ProcessorConfig struct {
	QueueSize          int `toml:"queue_size" env:"QUEUE_SIZE"`
	DedupCapacity      int `toml:"dedup_capacity" env:"DEDUP_CAPACITY"`
	PersistChanSize    int `toml:"persist_chan_size" env:"PERSIST_CHAN_SIZE"`
	ProjectionChanSize int `toml:"projection_chan_size" env:"PROJECTION_CHAN_SIZE"`
}

// PostgresConfig enables the instruction log, projections and historical
// queries. An empty DSN runs the daemon on the account store alone.
type PostgresConfig struct {
	DSN           string   `toml:"dsn" env:"DSN"`
	MigrationsDir string   `toml:"migrations_dir" env:"MIGRATIONS_DIR"`
	AutoMigrate   bool     `toml:"auto_migrate" env:"AUTO_MIGRATE"`
	BatchSize     int      `toml:"batch_size" env:"BATCH_SIZE"`
	FlushTimeout  Duration `toml:"flush_timeout" env:"FLUSH_TIMEOUT"`
	MaxOpenConns  int      `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	WarmKeys      int      `toml:"warm_keys" env:"WARM_KEYS"`
}

func (p PostgresConfig) Enabled() bool { return p.DSN != "" }

// NATSConfig enables JetStream ingestion and event publishing. An empty
// URL disables both.
type NATSConfig struct {
	URL           string `toml:"url" env:"URL"`
	PublishEvents bool   `toml:"publish_events" env:"PUBLISH_EVENTS"`
	RawChanSize   int    `toml:"raw_chan_size" env:"RAW_CHAN_SIZE"`
}

func (n NATSConfig) Enabled() bool { return n.URL != "" }

type ServerConfig struct {
	GRPCAddr      string `toml:"grpc_addr" env:"GRPC_ADDR"`
	HTTPAddr      string `toml:"http_addr" env:"HTTP_ADDR"`
	FaucetEnabled bool   `toml:"faucet_enabled" env:"FAUCET_ENABLED"`
}

// Duration decodes "250ms" style strings from both TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs a local development node.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path:         "data/accounts.db",
			TxTimeout:    Duration{2 * time.Second},
			ReplayWindow: 100_000,
		},
		Processor: ProcessorConfig{
			QueueSize:          1024,
			DedupCapacity:      1_000_000,
			PersistChanSize:    1024,
			ProjectionChanSize: 2048,
		},
		Postgres: PostgresConfig{
			AutoMigrate:  true,
			BatchSize:    50,
			FlushTimeout: Duration{10 * time.Millisecond},
			MaxOpenConns: 20,
			WarmKeys:     100_000,
		},
		NATS: NATSConfig{
			PublishEvents: true,
			RawChanSize:   1024,
		},
		Server: ServerConfig{
			GRPCAddr: ":9090",
			HTTPAddr: ":8080",
		},
	}
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

type intField struct {
	name string
	v    int
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.ProgramID == "" {
		errs = append(errs, errors.New("program_id is required"))
	} else if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("program_id: %w", err))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.TxTimeout.Duration <= 0 {
		errs = append(errs, errors.New("store.tx_timeout must be positive"))
	}

	positive := []intField{
		{"store.replay_window", c.Store.ReplayWindow},
		{"processor.queue_size", c.Processor.QueueSize},
		{"processor.dedup_capacity", c.Processor.DedupCapacity},
		{"processor.persist_chan_size", c.Processor.PersistChanSize},
		{"processor.projection_chan_size", c.Processor.ProjectionChanSize},
		{"nats.raw_chan_size", c.NATS.RawChanSize},
	}
	if c.Postgres.Enabled() {
		positive = append(positive,
			intField{"postgres.batch_size", c.Postgres.BatchSize},
			intField{"postgres.max_open_conns", c.Postgres.MaxOpenConns},
		)
		if c.Postgres.FlushTimeout.Duration <= 0 {
			errs = append(errs, errors.New("postgres.flush_timeout must be positive"))
		}
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v))
		}
	}

	if c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("server.grpc_addr is required"))
	}
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ProgramKey returns the parsed program id. Call after Validate.
func (c *Config) ProgramKey() solana.PublicKey {
	k, _ := solana.PublicKeyFromBase58(c.ProgramID)
	return k
}
