package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/malbeclabs/netstate/indexer"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

// Dialect implements dataset.Dialect for SQLite.
type Dialect struct{}

var _ dataset.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite3" }

func (Dialect) Migrations() (fs.FS, string) {
	return indexer.SQLiteMigrationsFS, indexer.SQLiteMigrationsDir
}

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(ct dataset.ColumnType) string {
	switch ct {
	case dataset.TypeInteger:
		return "INTEGER"
	case dataset.TypeReal:
		return "REAL"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (Dialect) SurrogateKeyDef(quotedName string) string {
	return quotedName + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

// LockDataset is a no-op: transactions start IMMEDIATE and already hold the
// database write lock.
func (Dialect) LockDataset(context.Context, *sql.Tx, string) error { return nil }

// AlterColumnType only has to update the registry: SQLite keeps each value's
// storage class regardless of the declared type, and reads of a text column
// format whatever was stored before.
func (Dialect) AlterColumnType(context.Context, *sql.Tx, string, string, dataset.ColumnType, dataset.ColumnType) error {
	return nil
}

func (Dialect) IsDuplicateObject(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code != sqlite3.ErrError {
		return false
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
