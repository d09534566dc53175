package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/runnerr0/hxscrub/internal/cache"
	"github.com/runnerr0/hxscrub/internal/cleaner"
	"github.com/runnerr0/hxscrub/internal/epoch"
	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/storage"
)

// cleanJSON is the JSON output structure for the clean command.
type cleanJSON struct {
	Version string `json:"version"`
	cleaner.Summary
}

// setEnv allows tests to replace the home directory, stdin and clock.
func (c *CleanCommand) setEnv(env *environment) {
	c.env = env
}

// Execute implements the go-flags Commander interface for CleanCommand.
func (c *CleanCommand) Execute(args []string) error {
	env := c.env
	if env == nil {
		env = systemEnvironment()
	}

	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, c.globals, env)

	window, err := c.selectWindow(cfg)
	if err != nil {
		return err
	}

	history, sweepCache := c.History, c.Cache
	if !history && !sweepCache {
		history, sweepCache = cfg.Clean.History, cfg.Clean.Cache
	}
	if !history && !sweepCache {
		return hxerr.New(hxerr.CodeInputInvalid, "nothing to clean: pass --history or --cache")
	}

	browsers := selectBrowsers(c.BrowserFlags, cfg)
	timeout := c.Timeout
	if timeout == 0 {
		timeout = cfg.Clean.StoreTimeout
	}

	loc, err := newLocator(cfg, env, logger)
	if err != nil {
		return err
	}

	if !c.Yes {
		if err := c.confirm(env, browsers, window, history, sweepCache); err != nil {
			return err
		}
	}

	mutator := storage.NewMutator(
		storage.WithLogger(logger),
		storage.WithKeepBackup(c.KeepBackup || cfg.Backup.KeepOnSuccess),
		storage.WithBusyTimeout(cfg.Backup.BusyTimeout),
	)
	run := cleaner.New(loc, mutator, cache.NewSweeper(logger), cleaner.Options{
		Window:       window,
		Browsers:     browsers,
		History:      history,
		Cache:        sweepCache,
		StoreTimeout: timeout,
		Now:          env.now,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	sum := run.Run(ctx)

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cleanJSON{Version: c.version, Summary: sum}); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, &sum)
	}

	if degraded := sum.Degraded(); len(degraded) > 0 {
		return fmt.Errorf("%w: %d store(s), backups kept", ErrDegraded, len(degraded))
	}
	if sum.Failed() {
		return fmt.Errorf("%w: %d error(s)", ErrIncomplete, len(sum.Errors))
	}
	return nil
}

// confirm asks the user to type "y" before anything is touched. Without a
// terminal on stdin it refuses rather than guessing.
func (c *CleanCommand) confirm(env *environment, browsers []string, window epoch.TimeWindow, history, sweepCache bool) error {
	if !env.isTerminal() {
		return hxerr.New(hxerr.CodeInputInvalid, "refusing to prompt: stdin is not a terminal (pass --yes)")
	}

	var out io.Writer = os.Stdout
	if c.globals != nil && c.globals.JSON {
		out = env.stderr
	}

	var what []string
	if history {
		what = append(what, "history")
	}
	if sweepCache {
		what = append(what, "cache")
	}
	fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("This will delete %s from %s.", strings.Join(what, " and "), window.String())))
	fmt.Fprintf(out, "  Browsers: %s\n", strings.Join(browsers, ", "))
	fmt.Fprintln(out, "  Close these browsers first; open ones may rewrite what was removed.")
	fmt.Fprintln(out)
	fmt.Fprint(out, `Type "y" to continue: `)

	scanner := bufio.NewScanner(env.stdin)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	input := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if input != "y" && input != "yes" {
		return fmt.Errorf("aborted: nothing was changed")
	}
	return nil
}
