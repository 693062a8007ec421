// Package file collects a dataset from a CSV or JSON export on disk.
package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

type Config struct {
	Logger *slog.Logger
	Path   string

	// Format defaults to the file extension.
	Format Format

	// RecordsPath selects the records inside a JSON document.
	RecordsPath string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("path is required")
	}
	if cfg.Format == "" {
		switch strings.ToLower(filepath.Ext(cfg.Path)) {
		case ".csv":
			cfg.Format = FormatCSV
		case ".json":
			cfg.Format = FormatJSON
		default:
			return fmt.Errorf("cannot infer format of %s", cfg.Path)
		}
	}
	switch cfg.Format {
	case FormatCSV:
		if cfg.RecordsPath != "" {
			return errors.New("records path only applies to JSON")
		}
	case FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}
	return nil
}

type Collector struct {
	log *slog.Logger
	cfg Config
}

var _ collector.Collector = (*Collector)(nil)

func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{log: cfg.Logger, cfg: cfg}, nil
}

func (c *Collector) Collect(ctx context.Context) (*dataset.Table, error) {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.cfg.Path, err)
	}
	defer f.Close()

	var table *dataset.Table
	switch c.cfg.Format {
	case FormatCSV:
		table, err = readCSV(ctx, f)
	case FormatJSON:
		var records []map[string]any
		records, err = collector.DecodeRecords(f, c.cfg.RecordsPath)
		if err == nil {
			table = dataset.FromRecords(records)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.cfg.Path, err)
	}
	c.log.Debug("file: collected", "path", c.cfg.Path, "format", c.cfg.Format, "rows", table.Len())
	return table, nil
}

func readCSV(ctx context.Context, r io.Reader) (*dataset.Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return dataset.NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = collector.ColumnName(h)
	}
	table := dataset.NewTable(columns...)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			return table, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = collector.ParseValue(cell)
		}
		if err := table.Append(row...); err != nil {
			return nil, err
		}
	}
}
