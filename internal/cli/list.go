package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	hxerr "github.com/runnerr0/hxscrub/internal/errors"
	"github.com/runnerr0/hxscrub/internal/schema"
	"github.com/runnerr0/hxscrub/internal/storage"
)

// listJSON is the JSON output structure for the list command.
type listJSON struct {
	Version string        `json:"version"`
	Stores  []storeJSON   `json:"stores"`
	Missing []missingJSON `json:"missing"`
}

type storeJSON struct {
	Browser   string `json:"browser"`
	Profile   string `json:"profile"`
	Family    string `json:"family"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Visits    int64  `json:"visits"`
	Pages     int64  `json:"pages"`
	Error     string `json:"error,omitempty"`
}

type missingJSON struct {
	Browser string `json:"browser"`
	Reason  string `json:"reason"`
}

func (c *ListCommand) setEnv(env *environment) {
	c.env = env
}

// Execute implements the go-flags Commander interface for ListCommand.
func (c *ListCommand) Execute(args []string) error {
	env := c.env
	if env == nil {
		env = systemEnvironment()
	}

	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, c.globals, env)

	loc, err := newLocator(cfg, env, logger)
	if err != nil {
		return err
	}
	targets, errs := loc.Locate(selectBrowsers(c.BrowserFlags, cfg))

	mutator := storage.NewMutator(storage.WithLogger(logger), storage.WithBusyTimeout(cfg.Backup.BusyTimeout))
	ctx := context.Background()

	out := listJSON{Version: c.version, Stores: []storeJSON{}, Missing: []missingJSON{}}
	for _, t := range targets {
		entry := storeJSON{Browser: t.Browser, Profile: t.Profile, Family: string(t.Family), Path: t.StorePath}
		desc, err := schema.For(t.Family)
		if err == nil {
			var st storage.StoreStats
			st, err = mutator.Stats(ctx, t.StorePath, desc)
			entry.SizeBytes, entry.Visits, entry.Pages = st.Size, st.Visits, st.Pages
		}
		if err != nil {
			entry.Error = err.Error()
		}
		out.Stores = append(out.Stores, entry)
	}
	for _, err := range errs {
		browser, _ := hxerr.FieldsOf(err)["browser"].(string)
		out.Missing = append(out.Missing, missingJSON{Browser: browser, Reason: err.Error()})
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	c.printHuman(out)
	return nil
}

func (c *ListCommand) printHuman(out listJSON) {
	fmt.Println(titleStyle.Render("History stores"))
	if len(out.Stores) == 0 {
		fmt.Println(dimStyle.Render("  none found"))
	}
	for _, s := range out.Stores {
		if s.Error != "" {
			fmt.Printf("  %-8s %-20s %s\n", s.Browser, s.Profile, errorStyle.Render(s.Error))
			continue
		}
		fmt.Printf("  %-8s %-20s %9s  %s visits, %s pages\n", s.Browser, s.Profile,
			formatBytes(s.SizeBytes), formatNumber(s.Visits), formatNumber(s.Pages))
		fmt.Println(dimStyle.Render("    " + s.Path))
	}
	for _, m := range out.Missing {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  - %s: %s", m.Browser, m.Reason)))
	}
}
