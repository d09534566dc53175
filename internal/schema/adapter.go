package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
)

// maxBoundParams keeps IN lists under SQLite's historic 999 variable limit.
const maxBoundParams = 500

type boundRelation struct {
	table  string
	column string
}

type boundDependent struct {
	boundRelation
	parent    string
	parentKey string
}

// Adapter is a Descriptor validated against one open database. Its methods
// run directly on the Querier it was bound with and never commit.
type Adapter struct {
	q      Querier
	desc   Descriptor
	logger *slog.Logger

	pageRef  string
	aux      []boundRelation
	visitAux []boundRelation
	deps     []boundDependent
	preserve []boundRelation
	clears   []string
}

// Bind probes q for the tables and columns d names. Missing visit or page
// tables, a missing time column, or a visit table carrying none of the
// page-reference aliases fail with SchemaMismatch. Optional tables that are
// absent are skipped.
func Bind(ctx context.Context, q Querier, d Descriptor, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{q: q, desc: d, logger: logger.With("family", string(d.Family))}

	for _, table := range []string{d.VisitTable, d.PageTable} {
		ok, err := TableExists(ctx, q, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, hxerr.New(hxerr.CodeSchemaMismatch,
				fmt.Sprintf("table %s not found", table), hxerr.FieldFamily(string(d.Family)))
		}
	}

	visitCols, err := Columns(ctx, q, d.VisitTable)
	if err != nil {
		return nil, err
	}
	ref, ok := pickColumn(visitCols, d.PageRefAliases)
	if !ok {
		return nil, hxerr.New(hxerr.CodeSchemaMismatch,
			fmt.Sprintf("%s has none of the page reference columns %s", d.VisitTable, strings.Join(d.PageRefAliases, ", ")),
			hxerr.FieldFamily(string(d.Family)))
	}
	a.pageRef = ref

	for _, c := range []string{d.TimeColumn, d.VisitKey} {
		if _, ok := pickColumn(visitCols, []string{c}); !ok {
			return nil, hxerr.New(hxerr.CodeSchemaMismatch,
				fmt.Sprintf("%s has no %s column", d.VisitTable, c), hxerr.FieldFamily(string(d.Family)))
		}
	}

	pageCols, err := Columns(ctx, q, d.PageTable)
	if err != nil {
		return nil, err
	}
	if _, ok := pickColumn(pageCols, []string{d.PageKey}); !ok {
		return nil, hxerr.New(hxerr.CodeSchemaMismatch,
			fmt.Sprintf("%s has no %s column", d.PageTable, d.PageKey), hxerr.FieldFamily(string(d.Family)))
	}

	if a.aux, err = a.bindRelations(ctx, d.Auxiliary); err != nil {
		return nil, err
	}
	if a.deps, err = a.bindDependents(ctx, d.Dependents); err != nil {
		return nil, err
	}
	if a.visitAux, err = a.bindRelations(ctx, d.VisitAuxiliary); err != nil {
		return nil, err
	}
	if a.preserve, err = a.bindRelations(ctx, d.Preserve); err != nil {
		return nil, err
	}

	for _, table := range d.AllTimeClears {
		ok, err := TableExists(ctx, q, table)
		if err != nil {
			return nil, err
		}
		if ok {
			a.clears = append(a.clears, table)
		}
	}

	a.logger.Debug("schema bound",
		"page_ref", a.pageRef,
		"auxiliary", len(a.aux),
		"visit_auxiliary", len(a.visitAux),
		"preserve", len(a.preserve))
	return a, nil
}

func (a *Adapter) bindRelations(ctx context.Context, rels []Relation) ([]boundRelation, error) {
	var bound []boundRelation
	for _, r := range rels {
		ok, err := TableExists(ctx, a.q, r.Table)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.logger.Debug("optional table absent", "table", r.Table)
			continue
		}
		cols, err := Columns(ctx, a.q, r.Table)
		if err != nil {
			return nil, err
		}
		c, ok := pickColumn(cols, r.Columns)
		if !ok {
			a.logger.Warn("optional table has no known reference column, ignoring",
				"table", r.Table, "aliases", strings.Join(r.Columns, ","))
			continue
		}
		bound = append(bound, boundRelation{table: r.Table, column: c})
	}
	return bound, nil
}

// bindDependents keeps only dependents whose parent table is present too.
func (a *Adapter) bindDependents(ctx context.Context, deps []Dependent) ([]boundDependent, error) {
	var bound []boundDependent
	for _, d := range deps {
		ok, err := TableExists(ctx, a.q, d.Parent)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.logger.Debug("optional table absent", "table", d.Parent)
			continue
		}
		rels, err := a.bindRelations(ctx, []Relation{{Table: d.Table, Columns: d.Columns}})
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			bound = append(bound, boundDependent{boundRelation: r, parent: d.Parent, parentKey: d.ParentKey})
		}
	}
	return bound, nil
}

// Descriptor returns the static description the adapter was bound from.
func (a *Adapter) Descriptor() Descriptor { return a.desc }

// PageRefColumn is the visit→page column found in the live schema.
func (a *Adapter) PageRefColumn() string { return a.pageRef }

// Supports reports whether cutoff can be honoured by this store.
func (a *Adapter) Supports(cutoff int64) bool {
	return !a.desc.WholeTableOnly || cutoff == epoch.NoLowerBound
}

// affectedWhere selects visits at or after cutoff plus visits whose page no
// longer exists. It returns "" when every visit is affected.
func (a *Adapter) affectedWhere(cutoff int64) (string, []any) {
	if cutoff == epoch.NoLowerBound {
		return "", nil
	}
	d := a.desc
	where := fmt.Sprintf(" WHERE %s >= ? OR NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
		col(d.VisitTable, d.TimeColumn),
		quoteIdent(d.PageTable), col(d.PageTable, d.PageKey), col(d.VisitTable, a.pageRef))
	return where, []any{cutoff}
}

func (a *Adapter) checkWindow(cutoff int64) error {
	if a.Supports(cutoff) {
		return nil
	}
	return hxerr.New(hxerr.CodeWindowUnsupported,
		fmt.Sprintf("%s stores only support clearing all history", a.desc.Family),
		hxerr.FieldFamily(string(a.desc.Family)))
}

// CountAffectedVisits counts the visits DeleteVisits would remove.
func (a *Adapter) CountAffectedVisits(ctx context.Context, cutoff int64) (int64, error) {
	if err := a.checkWindow(cutoff); err != nil {
		return 0, err
	}
	where, args := a.affectedWhere(cutoff)

	var n int64
	query := "SELECT COUNT(*) FROM " + quoteIdent(a.desc.VisitTable) + where
	if err := a.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

// DeleteVisits removes the affected visits, then rows of visit-keyed tables
// whose visit is gone. With no lower bound it also empties AllTimeClears.
func (a *Adapter) DeleteVisits(ctx context.Context, cutoff int64) (int64, error) {
	if err := a.checkWindow(cutoff); err != nil {
		return 0, err
	}
	where, args := a.affectedWhere(cutoff)

	res, err := a.q.ExecContext(ctx, "DELETE FROM "+quoteIdent(a.desc.VisitTable)+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete visits: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	d := a.desc
	for _, r := range a.visitAux {
		_, err := a.q.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
			quoteIdent(r.table), quoteIdent(d.VisitTable), col(d.VisitTable, d.VisitKey), col(r.table, r.column)))
		if err != nil {
			return 0, fmt.Errorf("delete from %s: %w", r.table, err)
		}
	}

	if cutoff == epoch.NoLowerBound {
		for _, table := range a.clears {
			if _, err := a.q.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
				return 0, fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}

	return removed, nil
}

// orphanWhere matches pages with no visit and no preserving reference.
func (a *Adapter) orphanWhere() string {
	d := a.desc
	var b strings.Builder
	fmt.Fprintf(&b, " WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
		quoteIdent(d.VisitTable), col(d.VisitTable, a.pageRef), col(d.PageTable, d.PageKey))
	for _, r := range a.preserve {
		fmt.Fprintf(&b, " AND NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
			quoteIdent(r.table), col(r.table, r.column), col(d.PageTable, d.PageKey))
	}
	return b.String()
}

// OrphanPageIDs lists pages that no visit or preserved relation references.
func (a *Adapter) OrphanPageIDs(ctx context.Context) ([]int64, error) {
	d := a.desc
	rows, err := a.q.QueryContext(ctx,
		"SELECT "+col(d.PageTable, d.PageKey)+" FROM "+quoteIdent(d.PageTable)+a.orphanWhere())
	if err != nil {
		return nil, fmt.Errorf("list orphan pages: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan page: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAuxiliaryOrphans removes auxiliary rows referencing pageIDs, then
// dependent rows whose auxiliary parent is gone.
func (a *Adapter) DeleteAuxiliaryOrphans(ctx context.Context, pageIDs []int64) (int64, error) {
	if len(pageIDs) == 0 || len(a.aux) == 0 {
		return 0, nil
	}

	var total int64
	for _, r := range a.aux {
		for start := 0; start < len(pageIDs); start += maxBoundParams {
			end := min(start+maxBoundParams, len(pageIDs))
			chunk := pageIDs[start:end]

			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

			res, err := a.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
				quoteIdent(r.table), quoteIdent(r.column), placeholders), args...)
			if err != nil {
				return total, fmt.Errorf("delete from %s: %w", r.table, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				total += n
			}
		}
	}

	for _, d := range a.deps {
		res, err := a.q.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
			quoteIdent(d.table), quoteIdent(d.parent), col(d.parent, d.parentKey), col(d.table, d.column)))
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", d.table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// DeleteOrphanPages removes every page that no surviving visit or preserved
// relation references.
func (a *Adapter) DeleteOrphanPages(ctx context.Context) (int64, error) {
	res, err := a.q.ExecContext(ctx, "DELETE FROM "+quoteIdent(a.desc.PageTable)+a.orphanWhere())
	if err != nil {
		return 0, fmt.Errorf("delete orphan pages: %w", err)
	}
	return res.RowsAffected()
}

// CountRows returns the visit and page row counts.
func (a *Adapter) CountRows(ctx context.Context) (visits, pages int64, err error) {
	if err = a.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(a.desc.VisitTable)).Scan(&visits); err != nil {
		return 0, 0, fmt.Errorf("count visits: %w", err)
	}
	if err = a.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(a.desc.PageTable)).Scan(&pages); err != nil {
		return 0, 0, fmt.Errorf("count pages: %w", err)
	}
	return visits, pages, nil
}
