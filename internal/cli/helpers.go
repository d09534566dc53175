package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/runnerr0/hxscrub/internal/config"
	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/locate"
	"github.com/runnerr0/hxscrub/internal/logging"
)

var (
	// ErrIncomplete is returned when at least one store could not be cleaned.
	ErrIncomplete = errors.New("some stores could not be cleaned")
	// ErrDegraded is returned when a live store could not be restored.
	ErrDegraded = errors.New("a history store could not be restored from its backup")
)

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrDegraded):
		return 2
	default:
		return 1
	}
}

// environment is the part of the outside world commands depend on.
type environment struct {
	home       string
	goos       string
	stdin      io.Reader
	stderr     io.Writer
	isTerminal func() bool
	now        func() time.Time
}

func systemEnvironment() *environment {
	home, _ := os.UserHomeDir()
	return &environment{
		home:   home,
		goos:   runtime.GOOS,
		stdin:  os.Stdin,
		stderr: os.Stderr,
		isTerminal: func() bool {
			fd := os.Stdin.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
		now: time.Now,
	}
}

// loadConfig reads the config named by --config, or the default config,
// and validates it.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globals != nil && globals.Config != "" {
		path, perr := config.ExpandPath(globals.Config)
		if perr != nil {
			return nil, perr
		}
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, hxerr.Join(errs...)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, globals *GlobalFlags, env *environment) *slog.Logger {
	level := cfg.Logging.Level
	if globals != nil && globals.Verbose {
		level = "debug"
	}
	return logging.New(env.stderr, logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Home:   env.home,
	})
}

func newLocator(cfg *config.Config, env *environment, logger *slog.Logger) (*locate.Locator, error) {
	opts := []locate.Option{locate.WithGOOS(env.goos), locate.WithLogger(logger)}
	if env.home != "" {
		opts = append(opts, locate.WithHome(env.home))
	}
	return locate.New(cfg.Browsers, opts...)
}

// selectBrowsers turns the browser flags into catalog names, falling back to
// the configured defaults when none is given.
func selectBrowsers(f BrowserFlags, cfg *config.Config) []string {
	if f.All {
		return cfg.BrowserNames()
	}

	var names []string
	for _, b := range []struct {
		set  bool
		name string
	}{
		{f.Chrome, "chrome"},
		{f.Brave, "brave"},
		{f.Firefox, "firefox"},
		{f.Safari, "safari"},
	} {
		if b.set {
			names = append(names, b.name)
		}
	}
	for _, name := range f.Browser {
		names = append(names, strings.ToLower(strings.TrimSpace(name)))
	}

	if len(names) == 0 {
		return cfg.Clean.Browsers
	}
	return names
}

// selectWindow resolves the window flags. At most one may be set; none means
// the configured default.
func (c *CleanCommand) selectWindow(cfg *config.Config) (epoch.TimeWindow, error) {
	var chosen []epoch.TimeWindow
	if c.Hour {
		chosen = append(chosen, epoch.LastHour)
	}
	if c.Day {
		chosen = append(chosen, epoch.LastDay)
	}
	if c.Week {
		chosen = append(chosen, epoch.LastWeek)
	}
	if c.AllTime {
		chosen = append(chosen, epoch.AllTime())
	}
	if c.Hours != 0 {
		w, err := epoch.RelativeHours(c.Hours)
		if err != nil {
			return epoch.TimeWindow{}, hxerr.Wrap(err, hxerr.CodeInputInvalid, "--hours")
		}
		chosen = append(chosen, w)
	}

	switch len(chosen) {
	case 0:
		return cfg.Window()
	case 1:
		return chosen[0], nil
	default:
		return epoch.TimeWindow{}, hxerr.New(hxerr.CodeInputInvalid,
			"choose only one of --hour, --day, --week, --all-time, --hours")
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
