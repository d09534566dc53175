package cleaner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/hxscrub/internal/cache"
	"github.com/runnerr0/hxscrub/internal/config"
	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/locate"
	"github.com/runnerr0/hxscrub/internal/logging"
	"github.com/runnerr0/hxscrub/internal/schema"
	"github.com/runnerr0/hxscrub/internal/schema/schematest"
	"github.com/runnerr0/hxscrub/internal/storage"
)

type fakeLocator struct {
	targets []locate.Target
	errs    []error
	asked   []string
}

func (f *fakeLocator) Locate(browsers []string) ([]locate.Target, []error) {
	f.asked = browsers
	return f.targets, f.errs
}

type fakeMutator struct {
	results  map[string]storage.MutationResult
	calls    []string
	cutoffs  []epoch.CutoffSet
	deadline []bool
}

func (f *fakeMutator) Mutate(ctx context.Context, path string, desc schema.Descriptor, cutoffs epoch.CutoffSet) storage.MutationResult {
	f.calls = append(f.calls, path)
	f.cutoffs = append(f.cutoffs, cutoffs)
	_, ok := ctx.Deadline()
	f.deadline = append(f.deadline, ok)
	if res, ok := f.results[path]; ok {
		return res
	}
	return storage.MutationResult{Path: path, Family: desc.Family, Succeeded: true, State: storage.StateDone}
}

type fakeSweeper struct {
	results map[string]cache.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeSweeper) Sweep(_ context.Context, dir string) (cache.Result, error) {
	f.calls = append(f.calls, dir)
	return f.results[dir], f.errs[dir]
}

var fixedNow = func() time.Time { return time.Unix(1_700_000_000, 0) }


func target(browser, profile string, f schema.Family) locate.Target {
	return locate.Target{
		Browser:   browser,
		Family:    f,
		Profile:   profile,
		StorePath: "/p/" + browser + "/" + profile,
	}
}

func TestRun_FoldsResults(t *testing.T) {
	loc := &fakeLocator{
		targets: []locate.Target{
			target("chrome", "Default", schema.Chromium),
			target("chrome", "Profile 1", schema.Chromium),
			target("firefox", "x.default", schema.Gecko),
		},
		errs: []error{hxerr.New(hxerr.CodeProfileNotFound, "no brave", hxerr.FieldBrowser("brave"))},
	}
	mut := &fakeMutator{results: map[string]storage.MutationResult{
		"/p/chrome/Default":   {Succeeded: true, RowsRemoved: 3, PagesRemoved: 2},
		"/p/chrome/Profile 1": {Succeeded: true, RowsRemoved: 4, PagesRemoved: 1},
		"/p/firefox/x.default": {
			Err:        hxerr.New(hxerr.CodeSchemaMismatch, "table moz_places not found"),
			BackupPath: "/p/firefox/x.default.bak",
		},
	}}

	c := New(loc, mut, &fakeSweeper{}, Options{
		Window:   epoch.LastDay,
		Browsers: []string{"chrome", "brave", "firefox"},
		History:  true,
		Now:      fixedNow,
	}, logging.Discard())
	sum := c.Run(context.Background())

	assert.Equal(t, []string{"chrome", "brave", "firefox"}, loc.asked)
	assert.Equal(t, int64(7), sum.RowsRemoved)
	assert.Equal(t, int64(3), sum.PagesRemoved)
	assert.Equal(t, []string{"chrome"}, sum.Cleaned)
	assert.Len(t, sum.Reports, 2)
	assert.Equal(t, "the last 24 hours", sum.Window)

	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "brave", sum.Skipped[0].Browser)
	assert.Equal(t, "ProfileNotFound", sum.Skipped[0].Kind)

	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "firefox", sum.Errors[0].Browser)
	assert.Equal(t, "SchemaMismatch", sum.Errors[0].Kind)
	assert.Equal(t, "/p/firefox/x.default.bak", sum.Errors[0].BackupPath)
	assert.True(t, sum.Failed())
	assert.Empty(t, sum.Degraded())

	want := epoch.Normalize(epoch.LastDay, fixedNow())
	for _, got := range mut.cutoffs {
		assert.Equal(t, want, got)
	}
}

func TestRun_SkippedStoreIsNotAFailure(t *testing.T) {
	loc := &fakeLocator{targets: []locate.Target{target("safari", "default", schema.WebKit)}}
	mut := &fakeMutator{results: map[string]storage.MutationResult{
		"/p/safari/default": {Skipped: true, Err: hxerr.New(hxerr.CodeWindowUnsupported, "all time only")},
	}}

	sum := New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true}, logging.Discard()).Run(context.Background())
	assert.False(t, sum.Failed())
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "WindowUnsupported", sum.Skipped[0].Kind)
	assert.Empty(t, sum.Cleaned)
}

func TestRun_DegradedStoresAreReported(t *testing.T) {
	loc := &fakeLocator{targets: []locate.Target{target("chrome", "Default", schema.Chromium)}}
	mut := &fakeMutator{results: map[string]storage.MutationResult{
		"/p/chrome/Default": {Err: hxerr.New(hxerr.CodeRestoreFailed, "restore failed"), RestoreAttempted: true},
	}}

	sum := New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true}, logging.Discard()).Run(context.Background())
	require.Len(t, sum.Degraded(), 1)
	assert.Equal(t, "RestoreFailed", sum.Degraded()[0].Kind)
	assert.Contains(t, sum.Degraded()[0].Error(), "chrome/Default: RestoreFailed")
}

func TestRun_StoreTimeoutWrapsMutation(t *testing.T) {
	loc := &fakeLocator{targets: []locate.Target{target("chrome", "Default", schema.Chromium)}}
	mut := &fakeMutator{}

	New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true, StoreTimeout: time.Minute}, logging.Discard()).
		Run(context.Background())
	assert.Equal(t, []bool{true}, mut.deadline)

	mut = &fakeMutator{}
	New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true}, logging.Discard()).Run(context.Background())
	assert.Equal(t, []bool{false}, mut.deadline)
}

func TestRun_TimeoutKind(t *testing.T) {
	loc := &fakeLocator{targets: []locate.Target{target("chrome", "Default", schema.Chromium)}}
	mut := &fakeMutator{results: map[string]storage.MutationResult{
		"/p/chrome/Default": {Err: hxerr.Classify(context.DeadlineExceeded, hxerr.CodeDeleteFailed, "delete")},
	}}

	sum := New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true}, logging.Discard()).Run(context.Background())
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "Timeout", sum.Errors[0].Kind)
}

func TestRun_CacheOnly(t *testing.T) {
	t1 := target("chrome", "Default", schema.Chromium)
	t1.CacheDirs = []string{"/c/Default/Cache", "/c/shared"}
	t2 := target("chrome", "Profile 1", schema.Chromium)
	t2.CacheDirs = []string{"/c/Profile 1/Cache", "/c/shared"}
	loc := &fakeLocator{targets: []locate.Target{t1, t2}}
	mut := &fakeMutator{}
	sw := &fakeSweeper{
		results: map[string]cache.Result{
			"/c/Default/Cache": {Files: 2, Bytes: 2048},
			"/c/shared":        {Files: 1, Bytes: 100},
		},
		errs: map[string]error{"/c/Profile 1/Cache": errors.New("permission denied")},
	}

	sum := New(loc, mut, sw, Options{Window: epoch.LastHour, Cache: true}, logging.Discard()).Run(context.Background())
	assert.Empty(t, mut.calls, "history is not touched")
	assert.Equal(t, []string{"/c/Default/Cache", "/c/shared", "/c/Profile 1/Cache"}, sw.calls, "shared dirs are swept once")
	assert.Equal(t, int64(2148), sum.CacheBytes)
	assert.Equal(t, int64(3), sum.CacheFiles)
	assert.Equal(t, []string{"chrome"}, sum.Cleaned)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "CacheFailed", sum.Errors[0].Kind)
}

func TestRun_CancelledRunStopsEarly(t *testing.T) {
	loc := &fakeLocator{targets: []locate.Target{target("chrome", "Default", schema.Chromium)}}
	mut := &fakeMutator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := New(loc, mut, &fakeSweeper{}, Options{Window: epoch.LastHour, History: true}, logging.Discard()).Run(ctx)
	assert.Empty(t, mut.calls)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "Interrupted", sum.Errors[0].Kind)
}

// TestRun_EndToEnd drives the real locator and mutator over a fake home.
func TestRun_EndToEnd(t *testing.T) {
	home := t.TempDir()
	profile := filepath.Join(home, ".config", "google-chrome", "Default")
	require.NoError(t, os.MkdirAll(profile, 0o755))
	_, db := schematest.NewStore(t, profile, schema.Chromium)
	recent := epoch.FromTime(epoch.ChromiumMicros1601, fixedNow().Add(-10*time.Minute))
	old := epoch.FromTime(epoch.ChromiumMicros1601, fixedNow().Add(-72*time.Hour))
	schematest.AddPage(t, db, schema.Chromium, 1)
	schematest.AddPage(t, db, schema.Chromium, 2)
	schematest.AddVisit(t, db, schema.Chromium, 1, 1, recent)
	schematest.AddVisit(t, db, schema.Chromium, 2, 2, old)
	require.NoError(t, db.Close())

	catalog := config.DefaultBrowsers()
	loc, err := locate.New(map[string]config.BrowserConfig{
		"chrome":  catalog["chrome"],
		"firefox": catalog["firefox"],
	}, locate.WithHome(home), locate.WithGOOS("linux"), locate.WithLogger(logging.Discard()))
	require.NoError(t, err)

	sum := New(loc, storage.NewMutator(storage.WithLogger(logging.Discard())), cache.NewSweeper(logging.Discard()), Options{
		Window:   epoch.LastHour,
		Browsers: []string{"chrome", "firefox"},
		History:  true,
		Now:      fixedNow,
	}, logging.Discard()).Run(context.Background())

	assert.False(t, sum.Failed())
	assert.Equal(t, int64(1), sum.RowsRemoved)
	assert.Equal(t, int64(1), sum.PagesRemoved)
	assert.Equal(t, []string{"chrome"}, sum.Cleaned)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "firefox", sum.Skipped[0].Browser)
}
