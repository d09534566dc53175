package config

import "time"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Clean: CleanConfig{
			Window:       "hour",
			Browsers:     []string{"chrome", "brave", "firefox", "safari"},
			History:      true,
			Cache:        false,
			StoreTimeout: 2 * time.Minute,
		},
		Backup: BackupConfig{
			KeepOnSuccess: false,
			BusyTimeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Browsers: DefaultBrowsers(),
	}
}
