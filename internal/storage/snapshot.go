package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

// StoreStats is a read-only view of one history store.
type StoreStats struct {
	Path   string
	Size   int64
	Visits int64
	Pages  int64
}

// Stats counts the visits and pages of the store at path. It reads from a
// throwaway copy so that a browser holding the live file locked does not
// block it and nothing is ever written next to the store.
func (m *Mutator) Stats(ctx context.Context, path string, desc schema.Descriptor) (StoreStats, error) {
	st := StoreStats{Path: path}
	fields := []hxerr.Attr{hxerr.FieldPath(path), hxerr.FieldFamily(string(desc.Family))}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, hxerr.New(hxerr.CodeProfileNotFound, "history store not found", fields...)
		}
		return st, hxerr.Wrap(err, hxerr.CodeCopyFailed, "stat history store", fields...)
	}
	st.Size = info.Size()

	dir, err := os.MkdirTemp("", "hxscrub-snapshot-")
	if err != nil {
		return st, hxerr.Wrap(err, hxerr.CodeCopyFailed, "create snapshot directory", fields...)
	}
	defer os.RemoveAll(dir)

	snap := filepath.Join(dir, filepath.Base(path))
	if err := copyWithSidecars(m.fs, path, snap); err != nil {
		return st, hxerr.Wrap(err, hxerr.CodeCopyFailed, "snapshot history store", fields...)
	}

	db, err := openSQLite(snap, m.busyTimeout)
	if err != nil {
		return st, hxerr.Wrap(err, hxerr.CodeCopyFailed, "open snapshot", fields...)
	}
	defer db.Close()

	adapter, err := schema.Bind(ctx, db, desc, m.logger)
	if err != nil {
		return st, hxerr.Classify(err, hxerr.CodeSchemaMismatch, "bind snapshot", fields...)
	}
	st.Visits, st.Pages, err = adapter.CountRows(ctx)
	if err != nil {
		return st, hxerr.Wrap(err, hxerr.CodeCopyFailed, fmt.Sprintf("count rows of %s", filepath.Base(path)), fields...)
	}
	return st, nil
}
