// Package cleaner runs the history and cache cleanup over every located
// browser profile and folds the results into one Summary.
package cleaner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/runnerr0/hxscrub/internal/cache"
	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/locate"
	"github.com/runnerr0/hxscrub/internal/schema"
	"github.com/runnerr0/hxscrub/internal/storage"
)

// Locator resolves browser names to history stores.
type Locator interface {
	Locate(browsers []string) ([]locate.Target, []error)
}

// Mutator prunes one history store.
type Mutator interface {
	Mutate(ctx context.Context, path string, desc schema.Descriptor, cutoffs epoch.CutoffSet) storage.MutationResult
}

// Sweeper empties one cache directory.
type Sweeper interface {
	Sweep(ctx context.Context, dir string) (cache.Result, error)
}

// Options selects what a run cleans.
type Options struct {
	Window   epoch.TimeWindow
	Browsers []string
	History  bool
	Cache    bool
	// StoreTimeout bounds each store's mutation. Zero means no limit.
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Cleaner drives one cleanup run. It keeps no state between runs.
type Cleaner struct {
	locator Locator
	mutator Mutator
	sweeper Sweeper
	opts    Options
	logger  *slog.Logger
}

func New(locator Locator, mutator Mutator, sweeper Sweeper, opts Options, logger *slog.Logger) *Cleaner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{locator: locator, mutator: mutator, sweeper: sweeper, opts: opts, logger: logger}
}

// Run cleans every located target in turn. Failures are collected in the
// Summary; one store failing never stops the others.
func (c *Cleaner) Run(ctx context.Context) Summary {
	sum := Summary{Window: c.opts.Window.String()}
	cutoffs := epoch.Normalize(c.opts.Window, c.opts.Now())
	if !cutoffs.Unbounded() {
		c.logger.Debug("cutoff computed",
			"window", c.opts.Window.String(),
			"since", epoch.ToTime(epoch.GeckoMicros1970, cutoffs.For(epoch.GeckoMicros1970)))
	}

	targets, errs := c.locator.Locate(c.opts.Browsers)
	for _, err := range errs {
		browser, _ := hxerr.FieldsOf(err)["browser"].(string)
		if hxerr.IsNotFound(err) {
			sum.Skipped = append(sum.Skipped, Skip{Browser: browser, Kind: hxerr.KindOf(err), Reason: err.Error()})
			c.logger.Info("browser skipped", "browser", browser, "reason", err.Error())
			continue
		}
		sum.addError(StoreError{Browser: browser, Err: err})
	}

	swept := make(map[string]bool)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			sum.addError(StoreError{
				Browser: t.Browser, Family: t.Family, Profile: t.Profile, Path: t.StorePath,
				Kind: "Interrupted", Err: err,
			})
			continue
		}
		if c.opts.History {
			c.cleanHistory(ctx, t, cutoffs, &sum)
		}
		if c.opts.Cache {
			c.cleanCache(ctx, t, swept, &sum)
		}
	}

	c.logger.Info("run finished",
		"cleaned", len(sum.Cleaned), "visits", sum.RowsRemoved, "pages", sum.PagesRemoved,
		"cache_bytes", sum.CacheBytes, "skipped", len(sum.Skipped), "errors", len(sum.Errors))
	return sum
}

func (c *Cleaner) cleanHistory(ctx context.Context, t locate.Target, cutoffs epoch.CutoffSet, sum *Summary) {
	desc, err := schema.For(t.Family)
	if err != nil {
		sum.addError(StoreError{Browser: t.Browser, Family: t.Family, Profile: t.Profile, Path: t.StorePath,
			Err: hxerr.Wrap(err, hxerr.CodeSchemaMismatch, "select schema")})
		return
	}

	storeCtx := ctx
	if c.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, c.opts.StoreTimeout)
		defer cancel()
	}

	start := time.Now()
	res := c.mutator.Mutate(storeCtx, t.StorePath, desc, cutoffs)
	logger := c.logger.With("browser", t.Browser, "profile", t.Profile)

	switch {
	case res.Succeeded:
		sum.RowsRemoved += res.RowsRemoved
		sum.PagesRemoved += res.PagesRemoved
		sum.Reports = append(sum.Reports, Report{
			Browser:      t.Browser,
			Profile:      t.Profile,
			Family:       t.Family,
			Path:         t.StorePath,
			RowsRemoved:  res.RowsRemoved,
			PagesRemoved: res.PagesRemoved,
			BackupPath:   res.BackupPath,
			Duration:     time.Since(start),
		})
		sum.markCleaned(t.Browser)
		logger.Info("history cleaned", "visits", res.RowsRemoved, "pages", res.PagesRemoved)
	case res.Skipped:
		sum.Skipped = append(sum.Skipped, Skip{
			Browser: t.Browser, Profile: t.Profile, Path: t.StorePath,
			Kind: res.Kind(), Reason: res.ErrorDetail(),
		})
		logger.Info("history skipped", "reason", res.ErrorDetail())
	default:
		e := StoreError{
			Browser: t.Browser, Family: t.Family, Profile: t.Profile, Path: t.StorePath,
			BackupPath: res.BackupPath, Err: res.Err,
		}
		if errors.Is(res.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.Kind = "Timeout"
		}
		sum.addError(e)
	}
}

func (c *Cleaner) cleanCache(ctx context.Context, t locate.Target, swept map[string]bool, sum *Summary) {
	var failed bool
	var total cache.Result
	for _, dir := range t.CacheDirs {
		if swept[dir] {
			continue
		}
		swept[dir] = true

		res, err := c.sweeper.Sweep(ctx, dir)
		total.Add(res)
		if err != nil {
			failed = true
			sum.addError(StoreError{Browser: t.Browser, Family: t.Family, Profile: t.Profile, Path: dir,
				Err: hxerr.Classify(err, hxerr.CodeCacheFailed, "sweep cache")})
		}
	}
	sum.CacheFiles += total.Files
	sum.CacheBytes += total.Bytes
	if total.Failed > 0 {
		c.logger.Warn("some cache files could not be removed", "browser", t.Browser, "profile", t.Profile, "files", total.Failed)
	}
	if !failed && total.Files > 0 {
		sum.markCleaned(t.Browser)
	}
}
