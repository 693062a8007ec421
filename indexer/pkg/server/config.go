package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Store is the read side of the snapshot store.
type Store interface {
	Ping(ctx context.Context) error
	Datasets(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, name string) (*dataset.Schema, error)
	Timestamps(ctx context.Context, name string) ([]dataset.Timestamp, error)
	ReadSnapshot(ctx context.Context, name string, ts dataset.Timestamp) (*dataset.Snapshot, error)
	LatestSnapshot(ctx context.Context, name string) (*dataset.Snapshot, error)
}

type Validator interface {
	Validate(ctx context.Context, rule validator.Rule) ([]validator.DiffRecord, error)
}

// Readiness gates /readyz, typically on the indexer's first run.
type Readiness interface {
	Ready() bool
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	Store             Store
	Validator         Validator
	Readiness         Readiness

	// AllowedOrigins enables CORS for browser clients.
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Validator == nil {
		return errors.New("validator is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
