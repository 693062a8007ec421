package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadSchema(ctx context.Context, q querier, d Dialect, name string) (*Schema, error) {
	var (
		schema    Schema
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT name, table_name, created_at FROM netstate_datasets WHERE table_name = %s", d.Placeholder(1)),
		TableName(name),
	).Scan(&schema.Dataset, &schema.Table, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", name, err)
	}
	if schema.CreatedAt, err = parseRegistryTime(createdAt); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT name, type, nullable, position, added_at FROM netstate_columns WHERE dataset = %s ORDER BY position", d.Placeholder(1)),
		schema.Dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns of %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c       Column
			typ     string
			addedAt string
		)
		if err := rows.Scan(&c.Name, &typ, &c.Nullable, &c.Position, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", name, err)
		}
		if c.Type, err = ParseColumnType(typ); err != nil {
			return nil, err
		}
		if c.AddedAt, err = parseRegistryTime(addedAt); err != nil {
			return nil, err
		}
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load columns of %s: %w", name, err)
	}
	rows.Close()

	idxRows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT name, columns FROM netstate_indexes WHERE dataset = %s ORDER BY name", d.Placeholder(1)),
		schema.Dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexes of %s: %w", name, err)
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var (
			idx  Index
			cols string
		)
		if err := idxRows.Scan(&idx.Name, &cols); err != nil {
			return nil, fmt.Errorf("failed to scan index of %s: %w", name, err)
		}
		if err := json.Unmarshal([]byte(cols), &idx.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode columns of index %s: %w", idx.Name, err)
		}
		schema.Indexes = append(schema.Indexes, idx)
	}
	if err := idxRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load indexes of %s: %w", name, err)
	}
	return &schema, nil
}

func listDatasets(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM netstate_datasets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan dataset name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return names, nil
}

func insertDataset(ctx context.Context, q querier, d Dialect, schema *Schema) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO netstate_datasets (name, table_name, created_at) VALUES (%s, %s, %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3)),
		schema.Dataset, schema.Table, formatRegistryTime(schema.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to register dataset %s: %w", schema.Dataset, err)
	}
	return nil
}

func insertColumn(ctx context.Context, q querier, d Dialect, dataset string, c Column) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO netstate_columns (dataset, name, position, type, nullable, added_at) VALUES (%s, %s, %s, %s, %s, %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		dataset, c.Name, c.Position, string(c.Type), c.Nullable, formatRegistryTime(c.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to register column %s.%s: %w", dataset, c.Name, err)
	}
	return nil
}

func updateColumnType(ctx context.Context, q querier, d Dialect, dataset, column string, ct ColumnType) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf("UPDATE netstate_columns SET type = %s WHERE dataset = %s AND name = %s",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3)),
		string(ct), dataset, column,
	)
	if err != nil {
		return fmt.Errorf("failed to update type of column %s.%s: %w", dataset, column, err)
	}
	return nil
}

func insertIndex(ctx context.Context, q querier, d Dialect, dataset, name string, columns []string, now time.Time) error {
	cols, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("failed to encode index columns: %w", err)
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO netstate_indexes (name, dataset, columns, created_at) VALUES (%s, %s, %s, %s)",
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4)),
		name, dataset, string(cols), formatRegistryTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to register index %s: %w", name, err)
	}
	return nil
}

func formatRegistryTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseRegistryTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid registry time %q: %w", s, err)
	}
	return t, nil
}
