package cleaner

import (
	"fmt"
	"slices"
	"time"

	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

// Report is the outcome of one successfully pruned store.
type Report struct {
	Browser      string        `json:"browser"`
	Profile      string        `json:"profile"`
	Family       schema.Family `json:"family"`
	Path         string        `json:"path"`
	RowsRemoved  int64         `json:"rows_removed"`
	PagesRemoved int64         `json:"pages_removed"`
	BackupPath   string        `json:"backup_path,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Skip is a browser or store that was deliberately left alone.
type Skip struct {
	Browser string `json:"browser"`
	Profile string `json:"profile,omitempty"`
	Path    string `json:"path,omitempty"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

// StoreError is a store or cache directory that failed.
type StoreError struct {
	Browser string        `json:"browser"`
	Family  schema.Family `json:"family,omitempty"`
	Profile string        `json:"profile,omitempty"`
	Path    string        `json:"path,omitempty"`
	Kind    string        `json:"kind"`
	Message string        `json:"error"`
	// BackupPath is where the untouched copy of the store was left.
	BackupPath string `json:"backup_path,omitempty"`
	Err        error  `json:"-"`
}

func (e StoreError) Error() string {
	where := e.Browser
	if e.Profile != "" {
		where += "/" + e.Profile
	}
	return fmt.Sprintf("%s: %s: %s", where, e.Kind, e.Message)
}

func (e StoreError) Unwrap() error { return e.Err }

// Summary folds every per-store result of one run.
type Summary struct {
	Window       string `json:"window"`
	RowsRemoved  int64  `json:"rows_removed"`
	PagesRemoved int64  `json:"pages_removed"`
	CacheFiles   int64  `json:"cache_files"`
	CacheBytes   int64  `json:"cache_bytes"`
	// Cleaned lists browsers with at least one successful operation, in
	// first-seen order.
	Cleaned []string     `json:"cleaned"`
	Reports []Report     `json:"reports"`
	Skipped []Skip       `json:"skipped"`
	Errors  []StoreError `json:"errors"`
}

// Failed reports whether any store or cache directory failed.
func (s *Summary) Failed() bool {
	return len(s.Errors) > 0
}

// Degraded returns the failures whose live store may be missing.
func (s *Summary) Degraded() []StoreError {
	var out []StoreError
	for _, e := range s.Errors {
		if hxerr.IsDegraded(e.Err) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Summary) markCleaned(browser string) {
	if !slices.Contains(s.Cleaned, browser) {
		s.Cleaned = append(s.Cleaned, browser)
	}
}

func (s *Summary) addError(e StoreError) {
	if e.Kind == "" {
		e.Kind = hxerr.KindOf(e.Err)
	}
	if e.Kind == "" {
		e.Kind = "Error"
	}
	if e.Message == "" && e.Err != nil {
		e.Message = e.Err.Error()
	}
	s.Errors = append(s.Errors, e)
}
