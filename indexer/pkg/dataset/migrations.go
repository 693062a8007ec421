package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

// goose keeps its dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func setupGoose(log *slog.Logger, dialect Dialect) (string, error) {
	fsys, dir := dialect.Migrations()
	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect.Name()); err != nil {
		return "", fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return dir, nil
}

// RunMigrations brings the dataset registry schema up to date.
func RunMigrations(ctx context.Context, log *slog.Logger, db *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	log.Info("dataset: running registry migrations", "dialect", dialect.Name())
	dir, err := setupGoose(log, dialect)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("dataset: registry migrations completed")
	return nil
}

// MigrationVersion returns the applied registry schema version.
func MigrationVersion(ctx context.Context, log *slog.Logger, db *sql.DB, dialect Dialect) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := setupGoose(log, dialect); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, nil
}

// MigrationStatus logs the state of every registry migration.
func MigrationStatus(ctx context.Context, log *slog.Logger, db *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := setupGoose(log, dialect)
	if err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, dir)
}
