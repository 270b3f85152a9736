package main

import (
	"TreasuryLedger/internal/config"
	"TreasuryLedger/internal/core"
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/ledger"
	"TreasuryLedger/internal/observability"
	"TreasuryLedger/internal/persistence"
	"TreasuryLedger/internal/projection"
	"TreasuryLedger/internal/query"
	"TreasuryLedger/internal/server"
	"TreasuryLedger/internal/store"
	"TreasuryLedger/internal/treasury"
	"TreasuryLedger/migrations"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("TREASURY_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "treasuryd: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, "treasuryd")
	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("treasuryd exited")
		os.Exit(1)
	}
	logger.Info().Msg("treasuryd shutdown complete")
}

func newLogger(cfg *config.Config, component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, observability.ParseLogLevel(cfg.LogLevel))
}

// run wires the daemon. Front-line goroutines (processor, servers, NATS
// dispatch) stop on ctx; the write-behind workers then drain whatever the
// processor already emitted.
func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, "treasuryd")
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Account store and ledger ---
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	accounts, ledgerSeq, err := st.Load()
	if err != nil {
		return fmt.Errorf("load account store: %w", err)
	}
	l := ledger.New(
		ledger.WithStore(st),
		ledger.WithTxTimeout(cfg.Store.TxTimeout.Duration),
		ledger.WithLogger(newLogger(cfg, "ledger")),
	)
	if err := l.Restore(accounts, ledgerSeq); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := l.Validator().ValidateMintSupply(); err != nil {
		return fmt.Errorf("restored ledger: %w", err)
	}
	logger.Info().Int("accounts", len(accounts)).Int64("ledger_sequence", ledgerSeq).Msg("ledger restored")

	program := treasury.NewProgram(cfg.ProgramKey(), l,
		treasury.WithLogger(newLogger(cfg, "treasury")),
		treasury.WithMetrics(metrics),
	)
	if err := program.Audit(l); err != nil {
		return fmt.Errorf("restored ledger: %w", err)
	}

	// --- Postgres ---
	var (
		db             *sql.DB
		checkpoint     *persistence.Checkpoint
		dbChecker      core.DBIdempotencyChecker
		queryService   *query.QueryService
		persistChan    chan core.CoreOutput
		projectionChan chan core.CoreOutput
	)
	procOpts := []core.ProcessorOption{
		core.WithDedupCapacity(cfg.Processor.DedupCapacity),
		core.WithQueueSize(cfg.Processor.QueueSize),
		core.WithProcessorMetrics(metrics),
		core.WithProcessorLogger(newLogger(cfg, "processor")),
	}
	if cfg.Postgres.Enabled() {
		db, err = openPostgres(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		if cfg.Postgres.AutoMigrate {
			n, err := persistence.NewMigrator(db, migrations.Source(cfg.Postgres.MigrationsDir), newLogger(cfg, "migrate")).Up(ctx)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations up to date")
		}

		cp, found, err := persistence.NewRecoveryReader(db).LoadCheckpoint(ctx, cfg.Postgres.WarmKeys)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if found {
			checkpoint = cp
			procOpts = append(procOpts, core.WithResume(cp.Sequence, cp.StateHash))
			logger.Info().
				Int64("sequence", cp.Sequence).
				Int64("log_ledger_sequence", cp.LedgerSequence).
				Int64("store_ledger_sequence", ledgerSeq).
				Int("signers", len(cp.Nonces)).
				Msg("resuming instruction log")
		} else {
			logger.Info().Msg("instruction log empty, starting at sequence 0")
		}

		dbChecker = persistence.NewPostgresIdempotencyChecker(db)
		queryService = query.NewQueryService(db, program.Deriver())
		persistChan = make(chan core.CoreOutput, cfg.Processor.PersistChanSize)
		projectionChan = make(chan core.CoreOutput, cfg.Processor.ProjectionChanSize)
		health.AddCheck("postgres", db.PingContext)
	}

	// --- Processor ---
	proc := core.NewProcessor(program, l, persistChan, projectionChan, dbChecker, procOpts...)
	replay, err := st.Replay(cfg.Store.ReplayWindow)
	if err != nil {
		return fmt.Errorf("load replay state: %w", err)
	}
	proc.RestoreAttested(replay.Nonces, replay.Recent)
	if checkpoint != nil {
		proc.Restore(checkpoint.Nonces, checkpoint.IdempotencyKeys)
	}
	logger.Info().Int("signers", len(replay.Nonces)).Int("recent", len(replay.Recent)).Msg("replay protection restored")

	if db != nil {
		if err := syncProjections(ctx, db, cfg, program, l, proc.Sequence(), logger); err != nil {
			return err
		}
	}

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATS.Enabled() {
		var nc *nats.Conn
		nc, js, err = ingestion.ConnectNATS(cfg.NATS.URL, newLogger(cfg, "nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	}

	// --- Write-behind workers ---
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	back, backCtx := errgroup.WithContext(workCtx)

	if db != nil {
		pw := persistence.NewPersistenceWorker(db, persistChan,
			cfg.Postgres.BatchSize, cfg.Postgres.FlushTimeout.Duration, metrics, newLogger(cfg, "persistence"))

		var publishChan chan core.CoreOutput
		if js != nil && cfg.NATS.PublishEvents {
			publishChan = make(chan core.CoreOutput, cfg.Processor.PersistChanSize)
			pw.Forward(publishChan)
			publisher := ingestion.NewOutboundPublisher(js, publishChan, newLogger(cfg, "publisher"))
			back.Go(func() error { return publisher.Run(backCtx) })
		}
		back.Go(func() error {
			if publishChan != nil {
				defer close(publishChan)
			}
			return pw.Run(backCtx)
		})

		projWorker := projection.NewProjectionWorker(db, projectionChan, newLogger(cfg, "projection"))
		back.Go(func() error { return projWorker.Run(backCtx) })
	} else if js != nil && cfg.NATS.PublishEvents {
		logger.Warn().Msg("event publishing follows persistence and is disabled without Postgres")
	}

	// --- Front line ---
	front, frontCtx := errgroup.WithContext(ctx)
	ingest := ingestion.NewIngestService(proc)

	var subscriber *ingestion.NATSSubscriber
	if js != nil {
		rawChan := make(chan ingestion.RawInstruction, cfg.NATS.RawChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, newLogger(cfg, "nats"))
		if err := subscriber.Subscribe(frontCtx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		dispatcher := ingestion.NewDispatcher(ingest, rawChan, metrics, newLogger(cfg, "dispatcher"))
		front.Go(func() error { return dispatcher.Run(frontCtx) })
	}
	front.Go(func() error { return proc.Run(frontCtx) })

	srv := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Ingest:        ingest,
		Program:       program,
		Ledger:        l,
		Sequence:      proc,
		Query:         queryService,
		FaucetEnabled: cfg.Server.FaucetEnabled,
		HealthChecker: health,
		Metrics:       metrics,
		Logger:        newLogger(cfg, "server"),
	})
	front.Go(func() error { return srv.StartGRPC(frontCtx) })
	front.Go(func() error { return srv.StartHTTPGateway(frontCtx) })

	health.SetReady(true)
	logger.Info().
		Int64("sequence", proc.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("postgres", db != nil).
		Bool("nats", js != nil).
		Bool("faucet", cfg.Server.FaucetEnabled).
		Msg("treasuryd ready")

	err = front.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	health.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// The processor has stopped, so nothing else is sent on these.
	if persistChan != nil {
		close(persistChan)
		close(projectionChan)
	}
	if werr := drain(back, stopWork, logger); werr != nil && err == nil {
		err = werr
	}
	logger.Info().Int64("sequence", proc.Sequence()).Msg("processor drained")
	return err
}

// drain waits for the write-behind workers to flush, cancelling them if
// they take longer than drainTimeout.
func drain(back *errgroup.Group, stop context.CancelFunc, logger zerolog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- back.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(drainTimeout):
		logger.Warn().Dur("timeout", drainTimeout).Msg("workers did not drain in time, cancelling")
		stop()
		err = <-done
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// syncProjections rebuilds the read models from the restored ledger when
// they lag the instruction log. Faucet operations never reach the log, so
// a faucet-enabled node always rebuilds.
func syncProjections(ctx context.Context, db *sql.DB, cfg *config.Config, program *treasury.Program, l *ledger.Ledger, seq int64, logger zerolog.Logger) error {
	watermark, err := projection.Watermark(ctx, db)
	if err != nil {
		return fmt.Errorf("read projection watermark: %w", err)
	}
	if watermark == seq && !cfg.Server.FaucetEnabled {
		return nil
	}
	logger.Info().Int64("watermark", watermark).Int64("sequence", seq).Msg("rebuilding projections")
	if err := projection.Rebuild(ctx, db, program.ID(), l.Snapshot(), seq, newLogger(cfg, "projection")); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}
	return nil
}
