package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/runnerr0/hxscrub/internal/config"
)

// matchProfiles returns the profile directories under root, sorted.
func matchProfiles(matcher, root string) ([]string, error) {
	switch matcher {
	case config.MatcherSingle:
		return []string{root}, nil
	case config.MatcherChromium:
		return matchDirs(root, isChromiumProfile)
	case config.MatcherGecko:
		dirs, err := matchDirs(root, isGeckoProfile)
		if err != nil || len(dirs) > 0 {
			return dirs, err
		}
		// Renamed or custom profiles: take every directory.
		return matchDirs(root, func(string) bool { return true })
	default:
		return nil, fmt.Errorf("unknown profile matcher %q", matcher)
	}
}

func matchDirs(root string, match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && match(e.Name()) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// isChromiumProfile accepts "Default" and "Profile N".
func isChromiumProfile(name string) bool {
	return name == "Default" || strings.HasPrefix(name, "Profile ")
}

// isGeckoProfile accepts the "<salt>.default", "<salt>.default-release" and
// "<salt>.dev-edition-default" style directory names.
func isGeckoProfile(name string) bool {
	return strings.HasSuffix(name, ".default") ||
		strings.Contains(name, ".default-") ||
		strings.HasSuffix(name, "release") ||
		strings.HasSuffix(name, "-default")
}
