package dataset

import (
	"context"
	"database/sql"
	"io/fs"
)

// Dialect captures what differs between the SQL backends the store runs on.
type Dialect interface {
	// Name is the goose dialect name, e.g. "sqlite3" or "postgres".
	Name() string

	// Migrations returns the registry migrations and their directory in fsys.
	Migrations() (fsys fs.FS, dir string)

	QuoteIdent(name string) string

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string

	ColumnType(ct ColumnType) string

	// SurrogateKeyDef is the column definition of the auto-assigned id.
	SurrogateKeyDef(quotedName string) string

	// LockDataset serializes writers of one dataset for the rest of tx.
	LockDataset(ctx context.Context, tx *sql.Tx, table string) error

	// AlterColumnType changes the stored type of an existing column from one
	// column type to a wider one, converting the rows already written.
	AlterColumnType(ctx context.Context, tx *sql.Tx, table, column string, from, to ColumnType) error

	// IsDuplicateObject reports whether err means the object already exists.
	IsDuplicateObject(err error) bool
}
