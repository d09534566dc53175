package cli

import "time"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// BrowserFlags select which browsers a command works on.
type BrowserFlags struct {
	Chrome  bool     `long:"chrome" description:"Include Google Chrome"`
	Brave   bool     `long:"brave" description:"Include Brave"`
	Firefox bool     `long:"firefox" description:"Include Firefox"`
	Safari  bool     `long:"safari" description:"Include Safari"`
	Browser []string `long:"browser" description:"Include a browser from the catalog by name (repeatable)"`
	All     bool     `long:"all" description:"Include every browser in the catalog"`
}

// CleanCommand prunes browser history and, optionally, caches.
type CleanCommand struct {
	BrowserFlags

	History bool `long:"history" description:"Clean history stores (default from config)"`
	Cache   bool `long:"cache" description:"Clean cache directories (default from config)"`

	Hour    bool  `long:"hour" description:"Remove the last hour"`
	Day     bool  `long:"day" description:"Remove the last 24 hours"`
	Week    bool  `long:"week" description:"Remove the last 7 days"`
	AllTime bool  `long:"all-time" description:"Remove everything"`
	Hours   int64 `long:"hours" description:"Remove the last N hours"`

	Yes        bool          `short:"y" long:"yes" description:"Skip the confirmation prompt"`
	Timeout    time.Duration `long:"timeout" description:"Per-store time limit (e.g. 90s); 0 uses the config value"`
	KeepBackup bool          `long:"keep-backup" description:"Keep each store's backup after a successful run"`

	globals *GlobalFlags
	version string
	env     *environment // injectable for testing; nil means the real system
}

// ListCommand shows the history stores that clean would touch.
type ListCommand struct {
	BrowserFlags

	globals *GlobalFlags
	version string
	env     *environment
}
