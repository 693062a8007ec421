package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/netstate/indexer/pkg/metrics"
	"github.com/malbeclabs/netstate/utils/pkg/dberror"
	"github.com/malbeclabs/netstate/utils/pkg/retry"
)

type StoreConfig struct {
	Logger  *slog.Logger
	DB      *sql.DB
	Dialect Dialect
	Clock   clockwork.Clock

	// Retry governs retries of an ingest transaction that failed with a
	// transient error such as lock contention.
	Retry retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("database is required")
	}
	if cfg.Dialect == nil {
		return errors.New("dialect is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{
			MaxAttempts: 3,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		}
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = dberror.IsTransient
	}
	return nil
}

// Store persists dataset snapshots in a SQL database and keeps the registry
// of dataset schemas.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Ping checks that the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.cfg.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

type IngestResult struct {
	Dataset        string
	Timestamp      Timestamp
	Rows           int
	Created        bool
	AddedColumns   []string
	// WidenedColumns lists existing columns whose type was widened so that
	// the batch's values fit.
	WidenedColumns []string
	IndexCreated   bool
}

// Ingest appends table to dataset as the snapshot labelled ts. The dataset is
// created on first use and gains a nullable column for every batch column it
// does not have yet. A column whose values no longer fit its type is widened
// (integer to real, anything else to text). Schema changes and row inserts
// commit together. When index is set it is created afterwards; an index that
// already exists is not an error. An empty table is a no-op.
func (s *Store) Ingest(ctx context.Context, name string, table *Table, ts Timestamp, index *Index) (*IngestResult, error) {
	if table.Len() == 0 {
		s.log.Debug("dataset: empty batch, nothing to ingest", "dataset", name, "timestamp", ts.Label())
		return &IngestResult{Dataset: name, Timestamp: ts}, nil
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if ts.IsZero() {
		return nil, errors.New("timestamp is required")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if index != nil {
		if err := ValidateName(index.Name); err != nil {
			return nil, fmt.Errorf("invalid index: %w", err)
		}
		if len(index.Columns) == 0 {
			return nil, fmt.Errorf("index %s has no columns", index.Name)
		}
	}
	table = s.dropReservedColumns(name, table)

	start := time.Now()
	var res *IngestResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		r, err := s.ingestTx(ctx, name, table, ts)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	metrics.IngestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestTotal.WithLabelValues(name, "error").Inc()
		return nil, s.classify(fmt.Errorf("failed to ingest %s: %w", name, err))
	}
	metrics.IngestTotal.WithLabelValues(name, "success").Inc()
	metrics.IngestRowsTotal.WithLabelValues(name).Add(float64(res.Rows))
	if len(res.AddedColumns) > 0 {
		metrics.SchemaColumnsAddedTotal.WithLabelValues(name).Add(float64(len(res.AddedColumns)))
	}

	s.log.Info("dataset: ingested snapshot",
		"dataset", name,
		"timestamp", ts.Label(),
		"rows", res.Rows,
		"created", res.Created,
		"added_columns", len(res.AddedColumns),
		"widened_columns", len(res.WidenedColumns),
	)

	if index != nil {
		created, err := s.createIndex(ctx, name, index)
		if err != nil {
			return res, err
		}
		res.IndexCreated = created
	}
	return res, nil
}

func (s *Store) dropReservedColumns(name string, table *Table) *Table {
	drop := make(map[int]struct{})
	for j, c := range table.Columns {
		if IsReserved(c) {
			s.log.Warn("dataset: dropping reserved column from batch", "dataset", name, "column", c)
			drop[j] = struct{}{}
		}
	}
	return table.without(drop)
}

func (s *Store) ingestTx(ctx context.Context, name string, table *Table, ts Timestamp) (*IngestResult, error) {
	d := s.cfg.Dialect
	tx, err := s.cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.LockDataset(ctx, tx, TableName(name)); err != nil {
		return nil, fmt.Errorf("failed to lock dataset: %w", err)
	}

	now := s.cfg.Clock.Now().UTC()
	res := &IngestResult{Dataset: name, Timestamp: ts}

	schema, err := loadSchema(ctx, tx, d, name)
	switch {
	case errors.Is(err, ErrDatasetNotFound):
		schema, err = s.createDataset(ctx, tx, name, table, now)
		if err != nil {
			return nil, err
		}
		res.Created = true
	case err != nil:
		return nil, err
	default:
		res.AddedColumns, err = s.addMissingColumns(ctx, tx, schema, table, now)
		if err != nil {
			return nil, err
		}
	}

	res.WidenedColumns, err = s.widenColumns(ctx, tx, schema, table)
	if err != nil {
		return nil, err
	}

	cols, err := schema.ResolveColumns(table.Columns)
	if err != nil {
		return nil, err
	}
	if err := insertRows(ctx, tx, d, schema.Table, cols, table.Rows, ts); err != nil {
		return nil, err
	}
	res.Rows = len(table.Rows)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

func (s *Store) createDataset(ctx context.Context, tx *sql.Tx, name string, table *Table, now time.Time) (*Schema, error) {
	d := s.cfg.Dialect
	schema := &Schema{
		Dataset:   name,
		Table:     TableName(name),
		CreatedAt: now,
		Columns:   reservedColumns(now),
	}
	for j, c := range table.Columns {
		schema.Columns = append(schema.Columns, Column{
			Name:     c,
			Type:     inferColumnType(table.Rows, j),
			Nullable: true,
			Position: len(schema.Columns),
			AddedAt:  now,
		})
	}

	defs := []string{
		d.SurrogateKeyDef(d.QuoteIdent(IDColumn)),
		d.QuoteIdent(TimestampColumn) + " " + d.ColumnType(TypeText) + " NOT NULL",
	}
	for _, c := range schema.DataColumns() {
		defs = append(defs, d.QuoteIdent(c.Name)+" "+d.ColumnType(c.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdent(schema.Table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", schema.Table, err)
	}
	tsIndex := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		d.QuoteIdent(timestampIndexName(schema.Table)), d.QuoteIdent(schema.Table), d.QuoteIdent(TimestampColumn))
	if _, err := tx.ExecContext(ctx, tsIndex); err != nil {
		return nil, fmt.Errorf("failed to create timestamp index on %s: %w", schema.Table, err)
	}

	if err := insertDataset(ctx, tx, d, schema); err != nil {
		return nil, err
	}
	for _, c := range schema.Columns {
		if err := insertColumn(ctx, tx, d, name, c); err != nil {
			return nil, err
		}
	}

	s.log.Info("dataset: created dataset", "dataset", name, "table", schema.Table, "columns", len(schema.Columns))
	return schema, nil
}

func (s *Store) addMissingColumns(ctx context.Context, tx *sql.Tx, schema *Schema, table *Table, now time.Time) ([]string, error) {
	d := s.cfg.Dialect
	var added []string
	for j, c := range table.Columns {
		if _, ok := schema.Column(c); ok {
			continue
		}
		col := Column{
			Name:     c,
			Type:     inferColumnType(table.Rows, j),
			Nullable: true,
			Position: len(schema.Columns),
			AddedAt:  now,
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			d.QuoteIdent(schema.Table), d.QuoteIdent(col.Name), d.ColumnType(col.Type))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to add column %s to %s: %w", col.Name, schema.Table, err)
		}
		if err := insertColumn(ctx, tx, d, schema.Dataset, col); err != nil {
			return nil, err
		}
		schema.Columns = append(schema.Columns, col)
		added = append(added, col.Name)
		s.log.Info("dataset: added column", "dataset", schema.Dataset, "column", col.Name, "type", col.Type)
	}
	return added, nil
}

// widenColumns changes the type of every existing column that cannot hold
// the batch's values, so drifting collector output is stored instead of
// rejected.
func (s *Store) widenColumns(ctx context.Context, tx *sql.Tx, schema *Schema, table *Table) ([]string, error) {
	d := s.cfg.Dialect
	var widened []string
	for j, c := range table.Columns {
		i := slices.IndexFunc(schema.Columns, func(col Column) bool { return strings.EqualFold(col.Name, c) })
		if i < 0 {
			continue
		}
		col := &schema.Columns[i]
		to, ok := widenColumnType(col.Type, table.Rows, j)
		if !ok {
			continue
		}
		if err := d.AlterColumnType(ctx, tx, schema.Table, col.Name, col.Type, to); err != nil {
			return nil, fmt.Errorf("failed to change type of column %s on %s to %s: %w", col.Name, schema.Table, to, err)
		}
		if err := updateColumnType(ctx, tx, d, schema.Dataset, col.Name, to); err != nil {
			return nil, err
		}
		s.log.Info("dataset: widened column", "dataset", schema.Dataset, "column", col.Name, "from", col.Type, "to", to)
		col.Type = to
		widened = append(widened, col.Name)
	}
	return widened, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, d Dialect, tableName string, cols []Column, rows [][]any, ts Timestamp) error {
	names := make([]string, 0, len(cols)+1)
	params := make([]string, 0, len(cols)+1)
	names = append(names, d.QuoteIdent(TimestampColumn))
	params = append(params, d.Placeholder(1))
	for i, c := range cols {
		names = append(names, d.QuoteIdent(c.Name))
		params = append(params, d.Placeholder(i+2))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdent(tableName), strings.Join(names, ", "), strings.Join(params, ", "))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	label := ts.Label()
	args := make([]any, len(cols)+1)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled during insert: %w", err)
		}
		args[0] = label
		for j, c := range cols {
			v, err := ConvertValue(c.Type, row[j])
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", i, c.Name, err)
			}
			args[j+1] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into %s: %w", i, tableName, err)
		}
	}
	return nil
}

// createIndex creates a caller-named index. It reports false without error
// when an object with that name already exists.
func (s *Store) createIndex(ctx context.Context, name string, index *Index) (bool, error) {
	d := s.cfg.Dialect
	schema, err := s.Schema(ctx, name)
	if err != nil {
		return false, err
	}
	cols, err := schema.ResolveColumns(index.Columns)
	if err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", index.Name, err)
	}
	quoted := make([]string, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c.Name)
		names[i] = c.Name
	}

	tx, err := s.cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	ddl := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", d.QuoteIdent(index.Name), d.QuoteIdent(schema.Table), strings.Join(quoted, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		if d.IsDuplicateObject(err) {
			s.log.Info("dataset: index already exists", "dataset", name, "index", index.Name)
			return false, nil
		}
		return false, fmt.Errorf("failed to create index %s: %w", index.Name, err)
	}
	if err := insertIndex(ctx, tx, d, name, index.Name, names, s.cfg.Clock.Now().UTC()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit index %s: %w", index.Name, err)
	}
	s.log.Info("dataset: created index", "dataset", name, "index", index.Name, "columns", names)
	return true, nil
}

// classify marks connectivity failures with ErrStoreUnavailable.
func (s *Store) classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if dberror.Classify(err) == dberror.ErrorTypeConnectivity {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func timestampIndexName(table string) string {
	return "ns_" + strings.ToLower(table) + "_timestamp"
}
