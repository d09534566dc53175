package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

const (
	backupSuffix = ".hxbak"
	workSuffix   = ".hxwork"

	defaultBusyTimeout = 5 * time.Second
)

// Mutator prunes history stores through a backup, a disposable working copy,
// and a final swap. The live file is only read until the swap.
type Mutator struct {
	fs          FileSystem
	logger      *slog.Logger
	keepBackup  bool
	busyTimeout time.Duration
	newID       func() string
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithFileSystem replaces the local disk, mainly for failure injection.
func WithFileSystem(fsys FileSystem) Option {
	return func(m *Mutator) { m.fs = fsys }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mutator) { m.logger = logger }
}

// WithKeepBackup leaves the backup on disk after a successful swap.
func WithKeepBackup(keep bool) Option {
	return func(m *Mutator) { m.keepBackup = keep }
}

func WithBusyTimeout(d time.Duration) Option {
	return func(m *Mutator) { m.busyTimeout = d }
}

// NewMutator returns a Mutator working on the local disk.
func NewMutator(opts ...Option) *Mutator {
	m := &Mutator{
		fs:          OSFileSystem{},
		logger:      slog.Default(),
		busyTimeout: defaultBusyTimeout,
		newID:       func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step is one transition of the cycle. code classifies its failures.
type step struct {
	to   State
	code hxerr.Code
	run  func(ctx context.Context) error
}

// cycle carries the state of one store's mutation.
type cycle struct {
	m      *Mutator
	logger *slog.Logger

	live   string
	backup string
	work   string
	desc   schema.Descriptor
	cutoff int64

	state   State
	db      *sql.DB
	tx      *sql.Tx
	adapter *schema.Adapter

	counted int64
	pages   int64
}

// Mutate runs the full prune-and-compact cycle on the store at path. It never
// panics on store errors and never returns an error: the outcome, including
// any failure kind, is in the result.
func (m *Mutator) Mutate(ctx context.Context, path string, desc schema.Descriptor, cutoffs epoch.CutoffSet) MutationResult {
	id := m.newID()
	c := &cycle{
		m:      m,
		logger: m.logger.With("path", path, "family", string(desc.Family)),
		live:   path,
		backup: fmt.Sprintf("%s.%s%s", path, id, backupSuffix),
		work:   fmt.Sprintf("%s.%s%s", path, id, workSuffix),
		desc:   desc,
		cutoff: cutoffs.For(desc.Epoch),
	}
	res := MutationResult{Path: path, Family: desc.Family}

	exists, err := m.fs.Exists(path)
	if err == nil && !exists {
		err = hxerr.New(hxerr.CodeProfileNotFound, "history store not found", c.fields()...)
	}
	if err != nil {
		res.Skipped = hxerr.IsNotFound(err)
		res.Err = hxerr.Classify(err, hxerr.CodeBackupFailed, "stat history store", c.fields()...)
		res.State = StateFailed
		return res
	}

	if desc.WholeTableOnly && !cutoffs.Unbounded() {
		res.Skipped = true
		res.Err = hxerr.New(hxerr.CodeWindowUnsupported,
			fmt.Sprintf("%s stores can only be cleared for all time", desc.Family), c.fields()...)
		return res
	}

	c.removeStale()

	for _, s := range c.steps() {
		if err := ctx.Err(); err != nil {
			return c.fail(res, s.code, err)
		}
		if err := s.run(ctx); err != nil {
			return c.fail(res, s.code, err)
		}
		c.state = s.to
		c.logger.Debug("store transition", "state", c.state.String())
	}

	res.Succeeded = true
	res.State = StateDone
	res.RowsRemoved = c.counted
	res.PagesRemoved = c.pages
	if m.keepBackup {
		res.BackupPath = c.backup
	}
	c.logger.Info("history pruned", "visits", c.counted, "pages", c.pages)
	return res
}

func (c *cycle) fields() []hxerr.Attr {
	return []hxerr.Attr{hxerr.FieldPath(c.live), hxerr.FieldFamily(string(c.desc.Family))}
}

func (c *cycle) steps() []step {
	return []step{
		{to: StateBackedUp, code: hxerr.CodeBackupFailed, run: c.backUp},
		{to: StateWorkingCopyOpen, code: hxerr.CodeCopyFailed, run: c.openWorkingCopy},
		{to: StateCountedAffected, code: hxerr.CodeDeleteFailed, run: c.countAffected},
		{to: StateDeleted, code: hxerr.CodeDeleteFailed, run: c.deleteRows},
		{to: StateCommitted, code: hxerr.CodeDeleteFailed, run: c.commit},
		{to: StateCompacted, code: hxerr.CodeCompactFailed, run: c.compact},
		{to: StateSwapped, code: hxerr.CodeSwapFailed, run: c.swap},
		{to: StateBackupRemoved, code: hxerr.CodeSwapFailed, run: c.removeBackup},
	}
}

// removeStale deletes working copies left by an aborted run. Old backups
// are reported and left for the operator.
func (c *cycle) removeStale() {
	dir, base := filepath.Split(c.live)
	if dir == "" {
		dir = "."
	}
	entries, err := c.m.fs.ReadDir(dir)
	if err != nil {
		c.logger.Debug("cannot scan for stale files", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		switch {
		case strings.Contains(name, workSuffix):
			if err := c.m.fs.Remove(filepath.Join(dir, name)); err != nil {
				c.logger.Warn("cannot remove stale working copy", "file", name, "error", err)
			} else {
				c.logger.Debug("removed stale working copy", "file", name)
			}
		case strings.HasSuffix(name, backupSuffix):
			c.logger.Warn("backup from an earlier run is still present", "file", name)
		}
	}
}

func (c *cycle) backUp(context.Context) error {
	if err := copyWithSidecars(c.m.fs, c.live, c.backup); err != nil {
		return fmt.Errorf("back up %s: %w", filepath.Base(c.live), err)
	}
	return nil
}

func (c *cycle) openWorkingCopy(ctx context.Context) error {
	if err := copyWithSidecars(c.m.fs, c.live, c.work); err != nil {
		return fmt.Errorf("copy working file: %w", err)
	}

	db, err := openSQLite(c.work, c.m.busyTimeout)
	if err != nil {
		return err
	}
	c.db = db

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&version); err != nil {
		return fmt.Errorf("open working copy: %w", err)
	}
	return nil
}

func (c *cycle) countAffected(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	c.tx = tx

	adapter, err := schema.Bind(ctx, tx, c.desc, c.logger)
	if err != nil {
		return err
	}
	c.adapter = adapter

	n, err := adapter.CountAffectedVisits(ctx, c.cutoff)
	if err != nil {
		return err
	}
	c.counted = n
	return nil
}

func (c *cycle) deleteRows(ctx context.Context) error {
	removed, err := c.adapter.DeleteVisits(ctx, c.cutoff)
	if err != nil {
		return err
	}
	if removed != c.counted {
		c.logger.Warn("visit count changed between count and delete", "counted", c.counted, "removed", removed)
	}

	orphans, err := c.adapter.OrphanPageIDs(ctx)
	if err != nil {
		return err
	}
	aux, err := c.adapter.DeleteAuxiliaryOrphans(ctx, orphans)
	if err != nil {
		return err
	}
	pages, err := c.adapter.DeleteOrphanPages(ctx)
	if err != nil {
		return err
	}
	c.pages = pages
	c.logger.Debug("rows deleted", "visits", removed, "auxiliary", aux, "pages", pages)
	return nil
}

func (c *cycle) commit(context.Context) error {
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// compact runs VACUUM outside any transaction, folds the WAL back into the
// main file, and closes the working copy.
func (c *cycle) compact(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close working copy: %w", err)
	}
	return nil
}

// swap replaces the live file with the working copy. The live sidecars
// belong to the old file and go with it.
func (c *cycle) swap(context.Context) error {
	if err := removeWithSidecars(c.m.fs, c.live); err != nil {
		return fmt.Errorf("remove live store: %w", err)
	}
	if err := c.m.fs.Move(c.work, c.live); err != nil {
		return fmt.Errorf("move working copy into place: %w", err)
	}
	if err := removeWithSidecars(c.m.fs, c.work); err != nil {
		c.logger.Warn("cannot remove working copy sidecars", "error", err)
	}
	return nil
}

// removeBackup deletes the backup once the swap has succeeded. Failing to
// delete it does not fail the store.
func (c *cycle) removeBackup(context.Context) error {
	if c.m.keepBackup {
		return nil
	}
	if err := removeWithSidecars(c.m.fs, c.backup); err != nil {
		c.logger.Warn("cannot remove backup", "backup", c.backup, "error", err)
	}
	return nil
}

// fail ends the cycle in Failed. From BackedUp on, a missing live file is
// restored from the backup and the backup is kept.
func (c *cycle) fail(res MutationResult, code hxerr.Code, cause error) MutationResult {
	res.State = c.state
	c.release()

	if err := removeWithSidecars(c.m.fs, c.work); err != nil {
		c.logger.Warn("cannot remove working copy", "work", c.work, "error", err)
	}

	err := hxerr.Classify(cause, code, c.state.String(), c.fields()...)

	if c.state == StateIdle {
		// The backup never completed.
		_ = removeWithSidecars(c.m.fs, c.backup)
	} else {
		res.BackupPath = c.backup
		exists, statErr := c.m.fs.Exists(c.live)
		if statErr != nil || !exists {
			res.RestoreAttempted = true
			if rerr := c.restore(); rerr != nil {
				// A fresh error: oops reports the innermost code of a chain.
				err = hxerr.New(hxerr.CodeRestoreFailed,
					fmt.Sprintf("%v; restore from %s failed: %v", err, c.backup, rerr), c.fields()...)
				c.logger.Error("RESTORE FAILED: live store may be missing", "backup", c.backup, "error", rerr)
			} else {
				c.logger.Warn("live store restored from backup", "backup", c.backup)
			}
		}
	}

	res.Err = err
	c.logger.Error("history prune failed", "state", res.State.String(), "kind", hxerr.KindOf(err), "error", err)
	return res
}

// restore puts the backup, and its WAL if one was saved, back in place.
func (c *cycle) restore() error {
	for _, suffix := range sidecarSuffixes {
		if err := c.m.fs.Remove(c.live + suffix); err != nil {
			c.logger.Warn("cannot remove stale sidecar before restore", "sidecar", c.live+suffix, "error", err)
		}
	}
	if err := c.m.fs.Copy(c.backup, c.live); err != nil {
		_ = c.m.fs.Remove(c.live)
		return fmt.Errorf("copy backup over live store: %w", err)
	}
	ok, err := c.m.fs.Exists(c.backup + "-wal")
	if err != nil {
		return err
	}
	if ok {
		if err := c.m.fs.Copy(c.backup+"-wal", c.live+"-wal"); err != nil {
			return fmt.Errorf("copy backup write-ahead log: %w", err)
		}
	}
	return nil
}

func (c *cycle) release() {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
}

// openSQLite opens path on a single connection so that the transaction and
// the VACUUM that follows it share one handle.
func openSQLite(path string, busy time.Duration) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=%d", path, busy.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
