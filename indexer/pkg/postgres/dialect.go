package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/malbeclabs/netstate/indexer"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

const (
	sqlStateDuplicateTable  = "42P07"
	sqlStateDuplicateObject = "42710"
)

// Dialect implements dataset.Dialect for PostgreSQL.
type Dialect struct{}

var _ dataset.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Migrations() (fs.FS, string) {
	return indexer.PostgresMigrationsFS, indexer.PostgresMigrationsDir
}

func (Dialect) QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(ct dataset.ColumnType) string {
	switch ct {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeReal:
		return "DOUBLE PRECISION"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (Dialect) SurrogateKeyDef(quotedName string) string {
	return quotedName + " BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
}

// LockDataset takes a transaction-scoped advisory lock keyed on the table
// name, released on commit or rollback.
func (Dialect) LockDataset(ctx context.Context, tx *sql.Tx, table string) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", table)
	return err
}

func (d Dialect) AlterColumnType(ctx context.Context, tx *sql.Tx, table, column string, _, to dataset.ColumnType) error {
	typ := d.ColumnType(to)
	col := d.QuoteIdent(column)
	_, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		d.QuoteIdent(table), col, typ, col, typ))
	return err
}

func (Dialect) IsDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateDuplicateTable || pgErr.Code == sqlStateDuplicateObject
}
