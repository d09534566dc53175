// Package locate finds the history stores of installed browsers.
package locate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/runnerr0/hxscrub/internal/config"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
)

// Target is one history store of one browser profile.
type Target struct {
	Browser    string
	Family     schema.Family
	Profile    string
	ProfileDir string
	StorePath  string
	// CacheDirs are the existing-or-not cache directories of the profile,
	// followed by the browser's system cache directories.
	CacheDirs []string
}

// Locator resolves browser names to Targets using a catalog.
type Locator struct {
	catalog map[string]config.BrowserConfig
	home    string
	goos    string
	logger  *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithHome overrides the home directory roots are resolved against.
func WithHome(home string) Option {
	return func(l *Locator) { l.home = home }
}

// WithGOOS overrides the operating system used to pick roots.
func WithGOOS(goos string) Option {
	return func(l *Locator) { l.goos = goos }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// New returns a Locator over catalog.
func New(catalog map[string]config.BrowserConfig, opts ...Option) (*Locator, error) {
	l := &Locator{catalog: catalog, goos: runtime.GOOS, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		l.home = home
	}
	return l, nil
}

// Browsers returns the catalog's browser names in sorted order.
func (l *Locator) Browsers() []string {
	names := make([]string, 0, len(l.catalog))
	for name := range l.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Locate returns a Target for every profile of browsers that holds a history
// store. Browsers that are unknown, not installed on this OS, or without
// profiles yield a ProfileNotFound error each; the others are still located.
func (l *Locator) Locate(browsers []string) ([]Target, []error) {
	var (
		targets []Target
		errs    []error
		seen    = make(map[string]bool)
	)
	for _, name := range browsers {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		found, err := l.locateBrowser(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		targets = append(targets, found...)
	}
	return targets, errs
}

func (l *Locator) locateBrowser(name string) ([]Target, error) {
	bc, ok := l.catalog[name]
	if !ok {
		return nil, hxerr.New(hxerr.CodeInputInvalid,
			fmt.Sprintf("unknown browser %q (known: %s)", name, strings.Join(l.Browsers(), ", ")),
			hxerr.FieldBrowser(name))
	}
	family, err := schema.ParseFamily(bc.Family)
	if err != nil {
		return nil, hxerr.Wrap(err, hxerr.CodeConfigInvalid, "browser "+name, hxerr.FieldBrowser(name))
	}

	roots := bc.Roots[l.goos]
	if len(roots) == 0 {
		return nil, hxerr.New(hxerr.CodeProfileNotFound,
			fmt.Sprintf("%s is not supported on %s", name, l.goos), hxerr.FieldBrowser(name))
	}

	var targets []Target
	for _, root := range roots {
		root = l.resolve(root)
		if !isDir(root) {
			l.logger.Debug("browser root not found", "browser", name, "root", root)
			continue
		}
		profiles, err := matchProfiles(bc.Matcher, root)
		if err != nil {
			return nil, hxerr.Wrap(err, hxerr.CodeProfileNotFound, "list profiles", hxerr.FieldBrowser(name))
		}
		for _, dir := range profiles {
			store := filepath.Join(dir, bc.Store)
			if !isFile(store) {
				l.logger.Debug("profile has no history store", "browser", name, "profile", dir)
				continue
			}
			targets = append(targets, Target{
				Browser:    name,
				Family:     family,
				Profile:    profileName(bc.Matcher, root, dir),
				ProfileDir: dir,
				StorePath:  store,
				CacheDirs:  l.cacheDirs(bc, root, dir),
			})
		}
		if len(targets) > 0 {
			break
		}
	}

	if len(targets) == 0 {
		return nil, hxerr.New(hxerr.CodeProfileNotFound,
			fmt.Sprintf("no %s profile with a history store found", name), hxerr.FieldBrowser(name))
	}
	return targets, nil
}

// cacheDirs lists the profile's cache directories and, for profile-scoped
// browsers, the mirrored profile path under each system cache root.
func (l *Locator) cacheDirs(bc config.BrowserConfig, root, profileDir string) []string {
	var dirs []string
	for _, d := range bc.CacheDirs {
		dirs = append(dirs, filepath.Join(profileDir, d))
	}
	rel, err := filepath.Rel(root, profileDir)
	if err != nil {
		rel = "."
	}
	for _, sys := range bc.SystemCaches[l.goos] {
		dir := l.resolve(sys)
		if bc.Matcher != config.MatcherSingle && rel != "." {
			dir = filepath.Join(dir, rel)
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

func (l *Locator) resolve(p string) string {
	p = filepath.FromSlash(p)
	if strings.HasPrefix(p, "~") {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "~"), string(filepath.Separator))
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.home, p)
}

func profileName(matcher, root, dir string) string {
	if matcher == config.MatcherSingle {
		return "default"
	}
	if rel, err := filepath.Rel(root, dir); err == nil {
		return rel
	}
	return filepath.Base(dir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
