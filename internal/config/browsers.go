package config

// Profile matchers understood by the locator.
const (
	MatcherChromium = "chromium"
	MatcherGecko    = "gecko"
	MatcherSingle   = "single"
)

var chromiumCacheDirs = []string{"Cache", "Code Cache", "GPUCache", "Media Cache"}

// DefaultBrowsers returns the built-in browser catalog. Roots are relative to
// the user's home directory.
func DefaultBrowsers() map[string]BrowserConfig {
	return map[string]BrowserConfig{
		"chrome": {
			Family:  "chromium",
			Matcher: MatcherChromium,
			Store:   "History",
			Roots: map[string][]string{
				"darwin":  {"Library/Application Support/Google/Chrome"},
				"linux":   {".config/google-chrome"},
				"windows": {"AppData/Local/Google/Chrome/User Data"},
			},
			CacheDirs: chromiumCacheDirs,
			SystemCaches: map[string][]string{
				"darwin": {"Library/Caches/Google/Chrome"},
				"linux":  {".cache/google-chrome"},
			},
		},
		"brave": {
			Family:  "chromium",
			Matcher: MatcherChromium,
			Store:   "History",
			Roots: map[string][]string{
				"darwin": {
					"Library/Application Support/BraveSoftware/Brave-Browser",
					"Library/Application Support/Brave-Browser",
				},
				"linux":   {".config/BraveSoftware/Brave-Browser"},
				"windows": {"AppData/Local/BraveSoftware/Brave-Browser/User Data"},
			},
			CacheDirs: chromiumCacheDirs,
			SystemCaches: map[string][]string{
				"darwin": {"Library/Caches/BraveSoftware/Brave-Browser"},
				"linux":  {".cache/BraveSoftware/Brave-Browser"},
			},
		},
		"edge": {
			Family:  "chromium",
			Matcher: MatcherChromium,
			Store:   "History",
			Roots: map[string][]string{
				"darwin":  {"Library/Application Support/Microsoft Edge"},
				"linux":   {".config/microsoft-edge"},
				"windows": {"AppData/Local/Microsoft/Edge/User Data"},
			},
			CacheDirs: chromiumCacheDirs,
			SystemCaches: map[string][]string{
				"darwin": {"Library/Caches/Microsoft Edge"},
				"linux":  {".cache/microsoft-edge"},
			},
		},
		"vivaldi": {
			Family:  "chromium",
			Matcher: MatcherChromium,
			Store:   "History",
			Roots: map[string][]string{
				"darwin":  {"Library/Application Support/Vivaldi"},
				"linux":   {".config/vivaldi"},
				"windows": {"AppData/Local/Vivaldi/User Data"},
			},
			CacheDirs: chromiumCacheDirs,
		},
		"chromium": {
			Family:  "chromium",
			Matcher: MatcherChromium,
			Store:   "History",
			Roots: map[string][]string{
				"darwin":  {"Library/Application Support/Chromium"},
				"linux":   {".config/chromium"},
				"windows": {"AppData/Local/Chromium/User Data"},
			},
			CacheDirs: chromiumCacheDirs,
			SystemCaches: map[string][]string{
				"linux": {".cache/chromium"},
			},
		},
		"firefox": {
			Family:  "gecko",
			Matcher: MatcherGecko,
			Store:   "places.sqlite",
			Roots: map[string][]string{
				"darwin":  {"Library/Application Support/Firefox/Profiles"},
				"linux":   {".mozilla/firefox"},
				"windows": {"AppData/Roaming/Mozilla/Firefox/Profiles"},
			},
			CacheDirs: []string{"cache2", "startupCache"},
			SystemCaches: map[string][]string{
				"darwin": {"Library/Caches/Mozilla/Firefox"},
				"linux":  {".cache/mozilla/firefox"},
			},
		},
		"safari": {
			Family:  "webkit",
			Matcher: MatcherSingle,
			Store:   "History.db",
			Roots: map[string][]string{
				"darwin": {"Library/Safari"},
			},
			SystemCaches: map[string][]string{
				"darwin": {
					"Library/Safari/WebKit/MediaCache",
					"Library/Caches/com.apple.Safari/fsCachedData",
				},
			},
		},
	}
}
