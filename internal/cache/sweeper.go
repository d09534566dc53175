// Package cache removes browser cache files while leaving the directory
// layout, and anything that looks like login or session state, in place.
package cache

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	hxerr "github.com/runnerr0/hxscrub/internal/errors"
)

// protectedKeywords mark files that are never removed, even inside a cache
// directory.
var protectedKeywords = []string{
	"login", "password", "key", "auth", "credential", "token", "identity",
	"account", "sign", "secure", "preference", "bookmarks",
	"session", "tab", "window", "state", "open", "current", "cookies", "visited", "history",
}

// Result summarises one sweep.
type Result struct {
	Dir       string
	Files     int64
	Bytes     int64
	Protected int64
	// Failed counts files that could not be removed.
	Failed int64
}

// Add folds o into r.
func (r *Result) Add(o Result) {
	r.Files += o.Files
	r.Bytes += o.Bytes
	r.Protected += o.Protected
	r.Failed += o.Failed
}

// Sweeper removes regular files below cache directories.
type Sweeper struct {
	logger *slog.Logger
	remove func(string) error
}

func NewSweeper(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{logger: logger, remove: os.Remove}
}

// Sweep removes every unprotected regular file below dir. A missing dir is
// an empty result. Per-file failures are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context, dir string) (Result, error) {
	res := Result{Dir: dir}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, hxerr.Wrap(err, hxerr.CodeCacheFailed, "stat cache directory", hxerr.FieldPath(dir))
	}
	if !info.IsDir() {
		return res, hxerr.New(hxerr.CodeCacheFailed, "cache path is not a directory", hxerr.FieldPath(dir))
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Debug("cannot read cache entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if isProtected(d.Name()) {
			res.Protected++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			res.Failed++
			return nil
		}
		if err := s.remove(path); err != nil {
			res.Failed++
			s.logger.Debug("cannot remove cache file", "path", path, "error", err)
			return nil
		}
		res.Files++
		res.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return res, hxerr.Wrap(err, hxerr.CodeCacheFailed, "sweep cache directory", hxerr.FieldPath(dir))
	}

	s.logger.Debug("cache swept", "dir", dir, "files", res.Files, "bytes", res.Bytes, "failed", res.Failed)
	return res, nil
}

func isProtected(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range protectedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
