package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/config"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/indexer"
	"github.com/malbeclabs/netstate/indexer/pkg/metrics"
	"github.com/malbeclabs/netstate/indexer/pkg/postgres"
	"github.com/malbeclabs/netstate/indexer/pkg/server"
	"github.com/malbeclabs/netstate/indexer/pkg/sqlite"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
	"github.com/malbeclabs/netstate/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"

	defaultListenAddr      = "0.0.0.0:8080"
	defaultSQLitePath      = "netstate.db"
	defaultRefreshInterval = 15 * time.Minute
)

type backend interface {
	DB() *sql.DB
	Dialect() dataset.Dialect
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading environment variables (missing file is ignored)")

	// Store configuration
	backendFlag := flag.String("backend", backendSQLite, "snapshot store backend: sqlite or postgres (or set NETSTATE_BACKEND env var)")
	sqlitePathFlag := flag.String("sqlite-path", defaultSQLitePath, "SQLite database file (or set NETSTATE_SQLITE_PATH env var)")
	sqliteCreateDirFlag := flag.Bool("sqlite-create-dir", false, "create the SQLite database directory if it is missing")
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL connection string (or set NETSTATE_POSTGRES_URL env var)")

	// Jobs
	jobsFileFlag := flag.String("jobs-file", "", "YAML job file (or set NETSTATE_JOBS_FILE env var)")
	jobsFlag := flag.StringSlice("job", nil, "job to run; repeatable, defaults to every job in the job file")
	refreshIntervalFlag := flag.Duration("refresh-interval", 0, "collection interval in serve mode, overrides the job file (or set NETSTATE_REFRESH_INTERVAL env var)")

	// Server
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set NETSTATE_LISTEN_ADDR env var)")
	corsOriginsFlag := flag.StringSlice("cors-origin", nil, "allowed CORS origin; repeatable")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "maximum time to wait for in-flight requests during shutdown")

	// Commands
	onceFlag := flag.Bool("once", false, "run one collection and exit")
	validateFlag := flag.Bool("validate", false, "evaluate validation rules over stored snapshots, print transitions as JSON and exit")
	migrateStatusFlag := flag.Bool("migrate-status", false, "show snapshot store migration status and exit")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	log := logger.New(*verboseFlag)

	if v := os.Getenv("NETSTATE_BACKEND"); v != "" {
		*backendFlag = v
	}
	if v := os.Getenv("NETSTATE_SQLITE_PATH"); v != "" {
		*sqlitePathFlag = v
	}
	if v := os.Getenv("NETSTATE_POSTGRES_URL"); v != "" {
		*postgresURLFlag = v
	}
	if v := os.Getenv("NETSTATE_JOBS_FILE"); v != "" {
		*jobsFileFlag = v
	}
	if v := os.Getenv("NETSTATE_LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("NETSTATE_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NETSTATE_REFRESH_INTERVAL: %w", err)
		}
		*refreshIntervalFlag = d
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry error reporting enabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := openBackend(ctx, log, *backendFlag, *sqlitePathFlag, *sqliteCreateDirFlag, *postgresURLFlag)
	if err != nil {
		return err
	}
	defer db.Close()

	if *migrateStatusFlag {
		return dataset.MigrationStatus(ctx, log, db.DB(), db.Dialect())
	}
	if err := dataset.RunMigrations(ctx, log, db.DB(), db.Dialect()); err != nil {
		return err
	}

	store, err := dataset.NewStore(dataset.StoreConfig{
		Logger:  log,
		DB:      db.DB(),
		Dialect: db.Dialect(),
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	v, err := validator.New(validator.Config{Logger: log, Store: store})
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	jobs := &config.File{DefaultDependencies: true, DefaultValidations: true}
	if *jobsFileFlag != "" {
		if jobs, err = config.Load(*jobsFileFlag); err != nil {
			return err
		}
	}

	if *validateFlag {
		return printTransitions(ctx, v, jobs.Rules())
	}

	registry, err := jobs.Collectors(log)
	if err != nil {
		return err
	}
	refreshInterval := jobs.RefreshInterval
	if *refreshIntervalFlag > 0 {
		refreshInterval = *refreshIntervalFlag
	}
	if refreshInterval == 0 {
		refreshInterval = defaultRefreshInterval
	}

	idx, err := indexer.New(indexer.Config{
		Logger:          log,
		Clock:           clockwork.NewRealClock(),
		Store:           store,
		Collectors:      registry,
		Dependencies:    jobs.JobDependencies(),
		Jobs:            *jobsFlag,
		Indexes:         jobs.Indexes(),
		Validator:       v,
		Rules:           jobs.Rules(),
		RefreshInterval: refreshInterval,
		OnJobError:      reportJobError,
	})
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}
	defer idx.Close()

	if *onceFlag {
		return runOnce(ctx, idx, registry)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Store:           store,
		Validator:       v,
		Readiness:       idx,
		AllowedOrigins:  *corsOriginsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	idx.Start(ctx)
	return srv.Run(ctx)
}

func openBackend(ctx context.Context, log *slog.Logger, name, sqlitePath string, createDir bool, postgresURL string) (backend, error) {
	switch name {
	case backendSQLite:
		client, err := sqlite.NewClient(ctx, log, sqlite.Config{Path: sqlitePath, CreateDir: createDir})
		if err != nil {
			return nil, err
		}
		return client, nil
	case backendPostgres:
		if postgresURL == "" {
			return nil, errors.New("--postgres-url is required for the postgres backend")
		}
		client, err := postgres.NewClient(ctx, log, postgres.Config{URL: postgresURL})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func runOnce(ctx context.Context, idx *indexer.Indexer, registry *collector.Registry) error {
	if len(registry.Jobs()) == 0 {
		return errors.New("no jobs configured, pass --jobs-file")
	}
	run, err := idx.RunOnce(ctx)
	if err != nil {
		return err
	}
	failed := run.Failed()
	if len(failed) == len(run.Jobs) {
		return fmt.Errorf("all %d jobs failed", len(failed))
	}
	return nil
}

func printTransitions(ctx context.Context, v *validator.Validator, rules []validator.Rule) error {
	results, err := v.ValidateAll(ctx, rules)
	out := make(map[string][]validator.DiffRecord, len(results))
	for _, r := range results {
		if r.Err == nil {
			out[r.Rule.String()] = r.Records
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return fmt.Errorf("failed to write transitions: %w", encErr)
	}
	return err
}

func reportJobError(job string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job", job)
		sentry.CaptureException(err)
	})
}
