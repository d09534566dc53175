package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/logging"
	"github.com/runnerr0/hxscrub/internal/schema"
	"github.com/runnerr0/hxscrub/internal/schema/schematest"
)

var testNow = time.Unix(1_700_000_000, 0)

func newTestMutator(opts ...Option) *Mutator {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	m := NewMutator(opts...)
	m.newID = func() string { return "t" }
	return m
}

func descriptor(t *testing.T, f schema.Family) schema.Descriptor {
	t.Helper()
	d, err := schema.For(f)
	require.NoError(t, err)
	return d
}

// seedChromium creates a Chromium store holding three pages: page 1 visited
// two days ago, page 2 visited an hour ago, and page 3 visited at both times.
func seedChromium(t *testing.T, dir string) string {
	t.Helper()
	path, db := schematest.NewStore(t, dir, schema.Chromium)
	old := epoch.FromTime(epoch.ChromiumMicros1601, testNow.Add(-48*time.Hour))
	recent := epoch.FromTime(epoch.ChromiumMicros1601, testNow.Add(-time.Hour))

	for id := int64(1); id <= 3; id++ {
		schematest.AddPage(t, db, schema.Chromium, id)
	}
	schematest.AddVisit(t, db, schema.Chromium, 1, 1, old)
	schematest.AddVisit(t, db, schema.Chromium, 2, 2, recent)
	schematest.AddVisit(t, db, schema.Chromium, 3, 3, old)
	schematest.AddVisit(t, db, schema.Chromium, 4, 3, recent)
	schematest.AddSearchTerm(t, db, 2, "recent search")
	require.NoError(t, db.Close())
	return path
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

// faultyFS injects failures into OSFileSystem.
type faultyFS struct {
	OSFileSystem
	copyErr   func(src, dst string) error
	moveErr   func(src, dst string) error
	removeErr func(path string) error
}

func (f faultyFS) Remove(path string) error {
	if f.removeErr != nil {
		if err := f.removeErr(path); err != nil {
			return err
		}
	}
	return f.OSFileSystem.Remove(path)
}

func (f faultyFS) Copy(src, dst string) error {
	if f.copyErr != nil {
		if err := f.copyErr(src, dst); err != nil {
			return err
		}
	}
	return f.OSFileSystem.Copy(src, dst)
}

func (f faultyFS) Move(src, dst string) error {
	if f.moveErr != nil {
		if err := f.moveErr(src, dst); err != nil {
			return err
		}
	}
	return f.OSFileSystem.Move(src, dst)
}

// --- Successful cycles ---

func TestMutate_RelativeWindowRemovesRecentVisits(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	m := newTestMutator()

	res := m.Mutate(context.Background(), path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.NoError(t, res.Err)
	assert.True(t, res.Succeeded)
	assert.False(t, res.Skipped)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, int64(2), res.RowsRemoved)
	assert.Equal(t, int64(1), res.PagesRemoved)
	assert.Empty(t, res.BackupPath)

	db := schematest.Open(t, path)
	assert.Equal(t, int64(2), schematest.Count(t, db, "visits"))
	assert.Equal(t, int64(2), schematest.Count(t, db, "urls"))
	assert.Zero(t, schematest.Count(t, db, "keyword_search_terms"))
	schematest.RequireIntegrity(t, db, descriptor(t, schema.Chromium), "url")

	assert.Equal(t, []string{"History"}, dirNames(t, dir), "backup and working copy must be gone")
}

func TestMutate_IsIdempotent(t *testing.T) {
	path := seedChromium(t, t.TempDir())
	m := newTestMutator()
	cutoffs := epoch.Normalize(epoch.LastDay, testNow)

	first := m.Mutate(context.Background(), path, descriptor(t, schema.Chromium), cutoffs)
	require.NoError(t, first.Err)
	require.Equal(t, int64(2), first.RowsRemoved)

	second := m.Mutate(context.Background(), path, descriptor(t, schema.Chromium), cutoffs)
	require.NoError(t, second.Err)
	assert.True(t, second.Succeeded)
	assert.Zero(t, second.RowsRemoved)
	assert.Zero(t, second.PagesRemoved)
}

func TestMutate_AllTimeKeepsBookmarkedPages(t *testing.T) {
	dir := t.TempDir()
	path, db := schematest.NewStore(t, dir, schema.Gecko)
	for id := int64(1); id <= 4; id++ {
		schematest.AddPage(t, db, schema.Gecko, id)
		schematest.AddVisit(t, db, schema.Gecko, id, id, int64(id)*1_000_000)
	}
	schematest.AddBookmark(t, db, 10, 2)
	require.NoError(t, db.Close())

	m := newTestMutator()
	res := m.Mutate(context.Background(), path, descriptor(t, schema.Gecko), epoch.Normalize(epoch.AllTime(), testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, int64(4), res.RowsRemoved)
	assert.Equal(t, int64(3), res.PagesRemoved)

	db = schematest.Open(t, path)
	assert.Zero(t, schematest.Count(t, db, "moz_historyvisits"))
	assert.Equal(t, int64(1), schematest.Count(t, db, "moz_places"))
	assert.Equal(t, int64(1), schematest.Count(t, db, "moz_bookmarks"))
	schematest.RequireIntegrity(t, db, descriptor(t, schema.Gecko), "place_id")
}

func TestMutate_GeckoRelativeWindowKeepsBookmarkedPages(t *testing.T) {
	path, db := schematest.NewStore(t, t.TempDir(), schema.Gecko)
	old := epoch.FromTime(epoch.GeckoMicros1970, testNow.Add(-72*time.Hour))
	recent := epoch.FromTime(epoch.GeckoMicros1970, testNow.Add(-2*time.Hour))

	for id := int64(1); id <= 3; id++ {
		schematest.AddPage(t, db, schema.Gecko, id)
	}
	schematest.AddVisit(t, db, schema.Gecko, 1, 1, old)
	// page 2 is bookmarked and only visited recently
	schematest.AddVisit(t, db, schema.Gecko, 2, 2, recent)
	schematest.AddVisit(t, db, schema.Gecko, 3, 2, recent+1)
	schematest.AddBookmark(t, db, 10, 2)
	schematest.AddVisit(t, db, schema.Gecko, 4, 3, recent)
	_, err := db.Exec(`INSERT INTO moz_inputhistory (place_id, input, use_count) VALUES (3, 'exa', 1)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	d := descriptor(t, schema.Gecko)
	res := newTestMutator().Mutate(context.Background(), path, d, epoch.Normalize(epoch.LastDay, testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, int64(3), res.RowsRemoved)
	assert.Equal(t, int64(1), res.PagesRemoved)

	db = schematest.Open(t, path)
	assert.Equal(t, int64(1), schematest.Count(t, db, "moz_historyvisits"))
	assert.Equal(t, int64(2), schematest.Count(t, db, "moz_places"))
	assert.Equal(t, int64(1), schematest.Count(t, db, "moz_bookmarks"))
	assert.Zero(t, schematest.Count(t, db, "moz_inputhistory"))

	var bookmarked int64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM moz_places WHERE id = 2`).Scan(&bookmarked))
	assert.Equal(t, int64(1), bookmarked)
	schematest.RequireIntegrity(t, db, d, "place_id")
	schematest.RequireNoDanglingAuxiliary(t, db, d)
}

func TestMutate_ChromiumSegmentsFollowTheirPages(t *testing.T) {
	tests := []struct {
		name     string
		window   epoch.TimeWindow
		segments int64
	}{
		{"last day", epoch.LastDay, 1},
		{"all time", epoch.AllTime(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, db := schematest.NewStore(t, t.TempDir(), schema.Chromium)
			schematest.AddPage(t, db, schema.Chromium, 1)
			schematest.AddPage(t, db, schema.Chromium, 2)
			schematest.AddVisit(t, db, schema.Chromium, 1, 1,
				epoch.FromTime(epoch.ChromiumMicros1601, testNow.Add(-time.Hour)))
			schematest.AddVisit(t, db, schema.Chromium, 2, 2,
				epoch.FromTime(epoch.ChromiumMicros1601, testNow.Add(-72*time.Hour)))
			schematest.AddSegment(t, db, 1, 1, "http://example.com/1")
			schematest.AddSegment(t, db, 2, 2, "http://example.com/2")
			require.NoError(t, db.Close())

			d := descriptor(t, schema.Chromium)
			res := newTestMutator().Mutate(context.Background(), path, d, epoch.Normalize(tt.window, testNow))
			require.NoError(t, res.Err)

			db = schematest.Open(t, path)
			assert.Equal(t, tt.segments, schematest.Count(t, db, "segments"))
			assert.Equal(t, tt.segments, schematest.Count(t, db, "segment_usage"))
			schematest.RequireIntegrity(t, db, d, "url")
			schematest.RequireNoDanglingAuxiliary(t, db, d)
		})
	}
}

func TestMutate_WebKitAllTimeClearsHistory(t *testing.T) {
	path, db := schematest.NewStore(t, t.TempDir(), schema.WebKit)
	schematest.AddPage(t, db, schema.WebKit, 1)
	schematest.AddVisit(t, db, schema.WebKit, 1, 1, 700_000_000)
	schematest.AddVisit(t, db, schema.WebKit, 2, 1, 700_000_100)
	require.NoError(t, db.Close())

	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.WebKit), epoch.Normalize(epoch.AllTime(), testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, int64(2), res.RowsRemoved)

	db = schematest.Open(t, path)
	assert.Zero(t, schematest.Count(t, db, "history_visits"))
	assert.Zero(t, schematest.Count(t, db, "history_items"))
}

func TestMutate_KeepBackup(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)

	res := newTestMutator(WithKeepBackup(true)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, path+".t.hxbak", res.BackupPath)
	assert.Equal(t, before, readFile(t, res.BackupPath))
}

func TestMutate_CarriesWriteAheadLog(t *testing.T) {
	src := t.TempDir()
	_, db := schematest.NewStore(t, src, schema.Chromium)
	_, err := db.Exec("PRAGMA journal_mode=WAL")
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA wal_autocheckpoint=0")
	require.NoError(t, err)
	recent := epoch.FromTime(epoch.ChromiumMicros1601, testNow.Add(-time.Minute))
	for id := int64(1); id <= 5; id++ {
		schematest.AddPage(t, db, schema.Chromium, id)
		schematest.AddVisit(t, db, schema.Chromium, id, id, recent)
	}

	// Copy the pair while the rows still live only in the WAL.
	dir := t.TempDir()
	path := filepath.Join(dir, "History")
	require.NoError(t, copyWithSidecars(OSFileSystem{}, filepath.Join(src, "History"), path))
	require.NoError(t, db.Close())
	require.FileExists(t, path+"-wal")

	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastHour, testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, int64(5), res.RowsRemoved)
	assert.NoFileExists(t, path+"-wal", "stale WAL must not survive the swap")

	check := schematest.Open(t, path)
	assert.Zero(t, schematest.Count(t, check, "visits"))
}

func TestMutate_RemovesStaleWorkingCopies(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	require.NoError(t, os.WriteFile(path+".old.hxwork", []byte("junk"), 0o600))
	require.NoError(t, os.WriteFile(path+".old.hxwork-wal", []byte("junk"), 0o600))
	require.NoError(t, os.WriteFile(path+".old.hxbak", []byte("keep"), 0o600))

	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"History", "History.old.hxbak"}, dirNames(t, dir))
}

// --- Skips ---

func TestMutate_MissingStoreIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastHour, testNow))
	assert.True(t, res.Skipped)
	assert.False(t, res.Succeeded)
	assert.True(t, hxerr.IsNotFound(res.Err))
	assert.Equal(t, "ProfileNotFound", res.Kind())
}

func TestMutate_WebKitRelativeWindowIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path, db := schematest.NewStore(t, dir, schema.WebKit)
	schematest.AddPage(t, db, schema.WebKit, 1)
	schematest.AddVisit(t, db, schema.WebKit, 1, 1, 700_000_000)
	require.NoError(t, db.Close())
	before := readFile(t, path)

	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.WebKit), epoch.Normalize(epoch.LastHour, testNow))
	assert.True(t, res.Skipped)
	assert.True(t, hxerr.HasCode(res.Err, hxerr.CodeWindowUnsupported))
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, []string{"History.db"}, dirNames(t, dir))
}

// --- Failures ---

func TestMutate_SchemaMismatchLeavesLiveUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "History")
	db := schematest.Open(t, path)
	require.NoError(t, schematest.Apply(db, []string{`CREATE TABLE unrelated (id INTEGER PRIMARY KEY)`}))
	require.NoError(t, db.Close())
	before := readFile(t, path)

	res := newTestMutator().Mutate(context.Background(), path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastHour, testNow))
	require.Error(t, res.Err)
	assert.False(t, res.Succeeded)
	assert.False(t, res.Skipped)
	assert.Equal(t, "SchemaMismatch", res.Kind())
	assert.Equal(t, StateWorkingCopyOpen, res.State)
	assert.False(t, res.RestoreAttempted)

	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, path+".t.hxbak", res.BackupPath)
	assert.FileExists(t, res.BackupPath)
	assert.NoFileExists(t, path+".t.hxwork")
	assert.Equal(t, path, hxerr.FieldsOf(res.Err)["path"])
}

func TestMutate_BackupFailureTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	fsys := faultyFS{copyErr: func(_, dst string) error {
		if strings.HasSuffix(dst, backupSuffix) {
			return errors.New("disk full")
		}
		return nil
	}}

	res := newTestMutator(WithFileSystem(fsys)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	assert.Equal(t, "BackupFailed", res.Kind())
	assert.Equal(t, StateIdle, res.State)
	assert.Empty(t, res.BackupPath)
	assert.Equal(t, []string{"History"}, dirNames(t, dir))
}

func TestMutate_SwapFailureRestoresLive(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)
	fsys := faultyFS{moveErr: func(string, string) error { return errors.New("rename refused") }}

	res := newTestMutator(WithFileSystem(fsys)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.Error(t, res.Err)
	assert.Equal(t, "SwapFailed", res.Kind())
	assert.Equal(t, StateCompacted, res.State)
	assert.True(t, res.RestoreAttempted)
	assert.False(t, hxerr.IsDegraded(res.Err))

	assert.Equal(t, before, readFile(t, path), "live store must be restored byte for byte")
	assert.FileExists(t, res.BackupPath)
	assert.NoFileExists(t, path+".t.hxwork")
}

func TestMutate_StuckSidecarKeepsLiveInPlace(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)
	fsys := faultyFS{removeErr: func(p string) error {
		if p == path+"-shm" {
			return errors.New("permission denied")
		}
		return nil
	}}

	res := newTestMutator(WithFileSystem(fsys)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.Error(t, res.Err)
	assert.Equal(t, "SwapFailed", res.Kind())
	assert.False(t, res.RestoreAttempted)
	assert.Equal(t, before, readFile(t, path))
	assert.FileExists(t, res.BackupPath)
}

func TestMutate_RestoreProceedsPastStuckSidecar(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)

	swapped := false
	fsys := faultyFS{
		moveErr: func(string, string) error {
			swapped = true
			return errors.New("rename refused")
		},
		removeErr: func(p string) error {
			if swapped && p == path+"-shm" {
				return errors.New("permission denied")
			}
			return nil
		},
	}

	res := newTestMutator(WithFileSystem(fsys)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.Error(t, res.Err)
	assert.Equal(t, "SwapFailed", res.Kind())
	assert.True(t, res.RestoreAttempted)
	assert.False(t, hxerr.IsDegraded(res.Err))
	assert.Equal(t, before, readFile(t, path))
}

func TestMutate_FailedRestoreIsReported(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	fsys := faultyFS{
		moveErr: func(string, string) error { return errors.New("rename refused") },
		copyErr: func(src, dst string) error {
			if dst == path {
				return errors.New("read-only volume")
			}
			return nil
		},
	}

	res := newTestMutator(WithFileSystem(fsys)).Mutate(context.Background(), path,
		descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.Error(t, res.Err)
	assert.Equal(t, "RestoreFailed", res.Kind())
	assert.True(t, hxerr.IsDegraded(res.Err))
	assert.True(t, res.RestoreAttempted)
	assert.Contains(t, res.ErrorDetail(), "rename refused")
	assert.Contains(t, res.ErrorDetail(), "read-only volume")

	assert.NoFileExists(t, path)
	assert.FileExists(t, res.BackupPath, "the backup is the only copy left")
}

func TestMutate_CancelledContextFailsCleanly(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestMutator().Mutate(ctx, path, descriptor(t, schema.Chromium), epoch.Normalize(epoch.LastDay, testNow))
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.False(t, res.Succeeded)
	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, []string{"History"}, dirNames(t, dir))
}

// --- Stats ---

func TestStats_CountsWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	path := seedChromium(t, dir)
	before := readFile(t, path)

	st, err := newTestMutator().Stats(context.Background(), path, descriptor(t, schema.Chromium))
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Visits)
	assert.Equal(t, int64(3), st.Pages)
	assert.Equal(t, int64(len(before)), st.Size)
	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, []string{"History"}, dirNames(t, dir))
}

func TestStats_MissingStore(t *testing.T) {
	_, err := newTestMutator().Stats(context.Background(), filepath.Join(t.TempDir(), "places.sqlite"), descriptor(t, schema.Gecko))
	assert.True(t, hxerr.IsNotFound(err))
}

// --- File system ---

func TestOSFileSystem_RemoveMissingIsNoError(t *testing.T) {
	assert.NoError(t, OSFileSystem{}.Remove(filepath.Join(t.TempDir(), "absent")))
}

func TestOSFileSystem_CopyKeepsModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o600))
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, stamp, stamp))

	dst := filepath.Join(dir, "b")
	require.NoError(t, OSFileSystem{}.Copy(src, dst))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp))
	assert.Equal(t, []byte("abc"), readFile(t, dst))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "BackedUp", StateBackedUp.String())
	assert.Equal(t, "State(99)", State(99).String())
}
