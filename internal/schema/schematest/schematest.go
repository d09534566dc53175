// Package schematest builds vendor-shaped history stores for tests.
package schematest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/hxscrub/internal/schema"
)

// ChromiumDDL mirrors the tables of a Chromium "History" file that the
// sanitizer touches.
var ChromiumDDL = []string{
	`CREATE TABLE meta (key LONGVARCHAR NOT NULL UNIQUE PRIMARY KEY, value LONGVARCHAR)`,
	`CREATE TABLE urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url LONGVARCHAR NOT NULL DEFAULT '',
		title LONGVARCHAR NOT NULL DEFAULT '',
		visit_count INTEGER DEFAULT 0 NOT NULL,
		typed_count INTEGER DEFAULT 0 NOT NULL,
		last_visit_time INTEGER NOT NULL DEFAULT 0,
		hidden INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE TABLE visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url INTEGER NOT NULL,
		visit_time INTEGER NOT NULL,
		from_visit INTEGER,
		transition INTEGER DEFAULT 0 NOT NULL,
		segment_id INTEGER,
		visit_duration INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE INDEX visits_url_index ON visits (url)`,
	`CREATE INDEX visits_time_index ON visits (visit_time)`,
	`CREATE TABLE keyword_search_terms (
		keyword_id INTEGER NOT NULL,
		url_id INTEGER NOT NULL,
		term LONGVARCHAR NOT NULL,
		normalized_term LONGVARCHAR NOT NULL
	)`,
	`CREATE TABLE segments (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		url_id INTEGER NOT NULL
	)`,
	`CREATE INDEX segments_url_id ON segments (url_id)`,
	`CREATE TABLE segment_usage (
		id INTEGER PRIMARY KEY,
		segment_id INTEGER NOT NULL,
		time_slot INTEGER NOT NULL,
		visit_count INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE TABLE visit_source (id INTEGER PRIMARY KEY, source INTEGER NOT NULL)`,
	`CREATE TABLE downloads (
		id INTEGER PRIMARY KEY,
		guid VARCHAR NOT NULL DEFAULT '',
		target_path LONGVARCHAR NOT NULL DEFAULT '',
		start_time INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE downloads_url_chains (
		id INTEGER NOT NULL,
		chain_index INTEGER NOT NULL,
		url LONGVARCHAR NOT NULL,
		PRIMARY KEY (id, chain_index)
	)`,
}

// GeckoDDL mirrors the subset of Firefox "places.sqlite" the sanitizer
// touches.
var GeckoDDL = []string{
	`CREATE TABLE moz_places (
		id INTEGER PRIMARY KEY,
		url LONGVARCHAR,
		title LONGVARCHAR,
		rev_host LONGVARCHAR,
		visit_count INTEGER DEFAULT 0,
		hidden INTEGER DEFAULT 0 NOT NULL,
		frecency INTEGER DEFAULT -1 NOT NULL,
		last_visit_date INTEGER,
		foreign_count INTEGER DEFAULT 0 NOT NULL
	)`,
	`CREATE TABLE moz_historyvisits (
		id INTEGER PRIMARY KEY,
		from_visit INTEGER,
		place_id INTEGER,
		visit_date INTEGER,
		visit_type INTEGER,
		session INTEGER
	)`,
	`CREATE INDEX moz_historyvisits_placedateindex ON moz_historyvisits (place_id, visit_date)`,
	`CREATE TABLE moz_inputhistory (
		place_id INTEGER NOT NULL,
		input LONGVARCHAR NOT NULL,
		use_count INTEGER,
		PRIMARY KEY (place_id, input)
	)`,
	`CREATE TABLE moz_bookmarks (
		id INTEGER PRIMARY KEY,
		type INTEGER,
		fk INTEGER DEFAULT NULL,
		parent INTEGER,
		position INTEGER,
		title LONGVARCHAR
	)`,
	`CREATE TABLE moz_annos (
		id INTEGER PRIMARY KEY,
		place_id INTEGER NOT NULL,
		anno_attribute_id INTEGER,
		content LONGVARCHAR
	)`,
}

// WebKitDDL mirrors Safari's "History.db".
var WebKitDDL = []string{
	`CREATE TABLE history_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		domain_expansion TEXT NULL,
		visit_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE history_visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		history_item INTEGER NOT NULL REFERENCES history_items(id) ON DELETE CASCADE,
		visit_time REAL NOT NULL,
		title TEXT NULL
	)`,
	`CREATE TABLE history_items_to_tags (
		history_item INTEGER NOT NULL,
		tag_id INTEGER NOT NULL
	)`,
}

// DDL returns the fixture schema of f.
func DDL(f schema.Family) []string {
	switch f {
	case schema.Chromium:
		return ChromiumDDL
	case schema.Gecko:
		return GeckoDDL
	case schema.WebKit:
		return WebKitDDL
	default:
		return nil
	}
}

// StoreName returns the file name browsers of f use for their history store.
func StoreName(f schema.Family) string {
	switch f {
	case schema.Gecko:
		return "places.sqlite"
	case schema.WebKit:
		return "History.db"
	default:
		return "History"
	}
}

// Apply executes stmts inside one transaction.
func Apply(db *sql.DB, stmts []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
		}
	}
	return tx.Commit()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// Open opens path with a single connection and closes it on cleanup.
func Open(t testing.TB, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// NewStore creates dir/<store name> with f's schema and returns its path and
// an open handle. Close the handle before mutating the file.
func NewStore(t testing.TB, dir string, f schema.Family) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(dir, StoreName(f))
	db := Open(t, path)
	require.NoError(t, Apply(db, DDL(f)))
	return path, db
}

// AddPage inserts a page row with the given id.
func AddPage(t testing.TB, db *sql.DB, f schema.Family, id int64) {
	t.Helper()
	url := fmt.Sprintf("https://example.com/%d", id)
	var err error
	switch f {
	case schema.Chromium:
		_, err = db.Exec(`INSERT INTO urls (id, url, title) VALUES (?, ?, ?)`, id, url, "page")
	case schema.Gecko:
		_, err = db.Exec(`INSERT INTO moz_places (id, url, title) VALUES (?, ?, ?)`, id, url, "page")
	case schema.WebKit:
		_, err = db.Exec(`INSERT INTO history_items (id, url) VALUES (?, ?)`, id, url)
	}
	require.NoError(t, err)
}

// AddVisit inserts a visit of pageID at ts, in f's native time unit.
func AddVisit(t testing.TB, db *sql.DB, f schema.Family, id, pageID, ts int64) {
	t.Helper()
	var err error
	switch f {
	case schema.Chromium:
		_, err = db.Exec(`INSERT INTO visits (id, url, visit_time) VALUES (?, ?, ?)`, id, pageID, ts)
	case schema.Gecko:
		_, err = db.Exec(`INSERT INTO moz_historyvisits (id, place_id, visit_date, visit_type) VALUES (?, ?, ?, 1)`, id, pageID, ts)
	case schema.WebKit:
		_, err = db.Exec(`INSERT INTO history_visits (id, history_item, visit_time) VALUES (?, ?, ?)`, id, pageID, float64(ts))
	}
	require.NoError(t, err)
}

// AddBookmark references pageID from moz_bookmarks.
func AddBookmark(t testing.TB, db *sql.DB, id, pageID int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO moz_bookmarks (id, type, fk, parent, title) VALUES (?, 1, ?, 2, 'bm')`, id, pageID)
	require.NoError(t, err)
}

// AddSearchTerm references pageID from keyword_search_terms.
func AddSearchTerm(t testing.TB, db *sql.DB, pageID int64, term string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO keyword_search_terms (keyword_id, url_id, term, normalized_term) VALUES (1, ?, ?, ?)`,
		pageID, term, term)
	require.NoError(t, err)
}

// AddSegment references pageID from segments and records one day of usage
// for the new segment.
func AddSegment(t testing.TB, db *sql.DB, id, pageID int64, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO segments (id, name, url_id) VALUES (?, ?, ?)`, id, name, pageID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO segment_usage (segment_id, time_slot, visit_count) VALUES (?, 0, 1)`, id)
	require.NoError(t, err)
}

// Count returns the number of rows in table.
func Count(t testing.TB, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// RequireIntegrity fails t unless every visit references an existing page and
// every page is referenced by a visit or a preserving relation.
func RequireIntegrity(t testing.TB, db *sql.DB, d schema.Descriptor, pageRef string) {
	t.Helper()

	var dangling int64
	require.NoError(t, db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM %[1]s v WHERE NOT EXISTS (SELECT 1 FROM %[2]s p WHERE p.%[3]s = v.%[4]s)`,
		d.VisitTable, d.PageTable, d.PageKey, pageRef)).Scan(&dangling))
	require.Zero(t, dangling, "visits referencing missing pages")

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %[1]s p WHERE NOT EXISTS (SELECT 1 FROM %[2]s v WHERE v.%[3]s = p.%[4]s)`,
		d.PageTable, d.VisitTable, pageRef, d.PageKey)
	for _, r := range d.Preserve {
		cols, err := schema.Columns(context.Background(), db, r.Table)
		require.NoError(t, err)
		for _, c := range r.Columns {
			if _, ok := cols[c]; ok {
				query += fmt.Sprintf(` AND NOT EXISTS (SELECT 1 FROM %s b WHERE b.%s = p.%s)`, r.Table, c, d.PageKey)
				break
			}
		}
	}
	var orphans int64
	require.NoError(t, db.QueryRow(query).Scan(&orphans))
	require.Zero(t, orphans, "pages referenced by nothing")
}

// RequireNoDanglingAuxiliary fails t if an auxiliary row references a missing
// page or a dependent row references a missing auxiliary row.
func RequireNoDanglingAuxiliary(t testing.TB, db *sql.DB, d schema.Descriptor) {
	t.Helper()
	ctx := context.Background()

	for _, r := range d.Auxiliary {
		if c, ok := liveColumn(t, db, r.Table, r.Columns); ok {
			var n int64
			require.NoError(t, db.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT COUNT(*) FROM %s x WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = x.%s)`,
				r.Table, d.PageTable, d.PageKey, c)).Scan(&n))
			require.Zero(t, n, "%s rows referencing missing pages", r.Table)
		}
	}
	for _, dep := range d.Dependents {
		if _, ok := liveColumn(t, db, dep.Parent, []string{dep.ParentKey}); !ok {
			continue
		}
		if c, ok := liveColumn(t, db, dep.Table, dep.Columns); ok {
			var n int64
			require.NoError(t, db.QueryRowContext(ctx, fmt.Sprintf(
				`SELECT COUNT(*) FROM %s x WHERE NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = x.%s)`,
				dep.Table, dep.Parent, dep.ParentKey, c)).Scan(&n))
			require.Zero(t, n, "%s rows referencing missing %s", dep.Table, dep.Parent)
		}
	}
}

func liveColumn(t testing.TB, db *sql.DB, table string, aliases []string) (string, bool) {
	t.Helper()
	ok, err := schema.TableExists(context.Background(), db, table)
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	cols, err := schema.Columns(context.Background(), db, table)
	require.NoError(t, err)
	for _, c := range aliases {
		if _, ok := cols[c]; ok {
			return c, true
		}
	}
	return "", false
}
