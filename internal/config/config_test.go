package config_test

import (
	"TreasuryLedger/internal/config"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

const testProgramID = "11111111111111111111111111111111"

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treasury.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ============================================================================
// Test: Layering
// ============================================================================

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.GRPCAddr != ":9090" || cfg.Postgres.BatchSize != 50 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Postgres.Enabled() || cfg.NATS.Enabled() {
		t.Error("Postgres and NATS should be disabled without a DSN or URL")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeTOML(t, `
program_id = "`+testProgramID+`"
log_level = "debug"

[store]
path = "/var/lib/treasury/accounts.db"
tx_timeout = "750ms"
replay_window = 500

[postgres]
dsn = "postgres://localhost/treasury"
flush_timeout = "25ms"

[server]
faucet_enabled = true
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != "/var/lib/treasury/accounts.db" {
		t.Errorf("store path: got %q", cfg.Store.Path)
	}
	if cfg.Store.TxTimeout.Duration != 750*time.Millisecond {
		t.Errorf("tx timeout: got %v", cfg.Store.TxTimeout)
	}
	if cfg.Store.ReplayWindow != 500 {
		t.Errorf("replay window: got %d", cfg.Store.ReplayWindow)
	}
	if cfg.Postgres.FlushTimeout.Duration != 25*time.Millisecond {
		t.Errorf("flush timeout: got %v", cfg.Postgres.FlushTimeout)
	}
	if !cfg.Server.FaucetEnabled || !cfg.Postgres.Enabled() {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Postgres.BatchSize != 50 {
		t.Errorf("unset keys should keep defaults, batch size %d", cfg.Postgres.BatchSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTOML(t, `
[server]
http_addr = ":8000"
`)
	t.Setenv("TREASURY_SERVER_HTTP_ADDR", ":8181")
	t.Setenv("TREASURY_NATS_URL", "nats://nats:4222")
	t.Setenv("TREASURY_POSTGRES_FLUSH_TIMEOUT", "5ms")
	t.Setenv("TREASURY_PROCESSOR_DEDUP_CAPACITY", "42")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8181" {
		t.Errorf("http addr: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("nats url: got %q", cfg.NATS.URL)
	}
	if cfg.Postgres.FlushTimeout.Duration != 5*time.Millisecond {
		t.Errorf("flush timeout: got %v", cfg.Postgres.FlushTimeout)
	}
	if cfg.Processor.DedupCapacity != 42 {
		t.Errorf("dedup capacity: got %d", cfg.Processor.DedupCapacity)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := writeTOML(t, `[store]
tx_timeout = "soon"
`)
	if _, err := config.Load(path); err == nil {
		t.Error("expected an error for an unparseable duration")
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// ============================================================================
// Test: Validate
// ============================================================================

func TestValidate_Defaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProgramID = testProgramID
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults plus program id should validate: %v", err)
	}
	if got := cfg.ProgramKey(); !got.Equals(solana.SystemProgramID) {
		t.Errorf("program key: got %s", got)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "loud"
	cfg.ProgramID = "not a key"
	cfg.Processor.QueueSize = 0
	cfg.Store.ReplayWindow = 0
	cfg.Postgres.DSN = "postgres://localhost/treasury"
	cfg.Postgres.BatchSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "program_id", "processor.queue_size", "store.replay_window", "postgres.batch_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_PostgresChecksOnlyWhenEnabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProgramID = testProgramID
	cfg.Postgres.BatchSize = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres settings should be ignored without a DSN: %v", err)
	}
}
