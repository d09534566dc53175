package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableExists reports whether a table named name exists.
func TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("probe table %s: %w", name, err)
	}
	return count > 0, nil
}

// Columns returns the column names of table. A missing table yields an
// empty set.
func Columns(ctx context.Context, q Querier, table string) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("probe columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		columns[strings.ToLower(name)] = struct{}{}
	}
	return columns, rows.Err()
}

// pickColumn returns the first alias present in columns.
func pickColumn(columns map[string]struct{}, aliases []string) (string, bool) {
	for _, alias := range aliases {
		if _, ok := columns[strings.ToLower(alias)]; ok {
			return alias, true
		}
	}
	return "", false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// col renders table.column with both parts quoted.
func col(table, column string) string {
	return quoteIdent(table) + "." + quoteIdent(column)
}
