// Package epoch converts a user-facing time window into the integer cutoffs
// stored by each browser family.
package epoch

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ChromiumOffsetSeconds is the distance between 1601-01-01 and 1970-01-01.
const ChromiumOffsetSeconds int64 = 11644473600

const microsPerSecond int64 = 1_000_000

// NoLowerBound is the cutoff every family takes under AllTime.
const NoLowerBound int64 = math.MinInt64

// MaxHours is the longest relative window, about 100,000 years. It keeps
// every cutoff well inside int64 for any realistic now.
const MaxHours int64 = 100_000 * 365 * 24

// ErrInvalidWindow is returned for non-positive, oversized or unparseable
// windows.
var ErrInvalidWindow = errors.New("invalid time window")

// Family identifies how a store encodes its visit timestamps.
type Family int

const (
	// ChromiumMicros1601 is microseconds since 1601-01-01 UTC (Chrome, Brave, Edge).
	ChromiumMicros1601 Family = iota
	// GeckoMicros1970 is microseconds since the Unix epoch (Firefox).
	GeckoMicros1970
	// WebKitSeconds1970 is whole seconds since the Unix epoch.
	WebKitSeconds1970
)

func (f Family) String() string {
	switch f {
	case ChromiumMicros1601:
		return "chromium-us-1601"
	case GeckoMicros1970:
		return "gecko-us-1970"
	case WebKitSeconds1970:
		return "webkit-s-1970"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// TimeWindow is either AllTime or the most recent n hours.
type TimeWindow struct {
	hours int64
}

// AllTime selects every row regardless of timestamp.
func AllTime() TimeWindow { return TimeWindow{} }

// RelativeHours selects the most recent n hours, 1 <= n <= MaxHours.
func RelativeHours(n int64) (TimeWindow, error) {
	if n <= 0 {
		return TimeWindow{}, fmt.Errorf("%w: %d hours", ErrInvalidWindow, n)
	}
	if n > MaxHours {
		return TimeWindow{}, fmt.Errorf("%w: %d hours exceeds %d (use all)", ErrInvalidWindow, n, MaxHours)
	}
	return TimeWindow{hours: n}, nil
}

var (
	LastHour = TimeWindow{hours: 1}
	LastDay  = TimeWindow{hours: 24}
	LastWeek = TimeWindow{hours: 168}
)

func (w TimeWindow) IsAllTime() bool { return w.hours == 0 }

func (w TimeWindow) Hours() int64 { return w.hours }

// Seconds is the window length; zero for AllTime.
func (w TimeWindow) Seconds() int64 { return w.hours * 3600 }

func (w TimeWindow) String() string {
	switch w.hours {
	case 0:
		return "all time"
	case 1:
		return "the last hour"
	case 24:
		return "the last 24 hours"
	case 168:
		return "the last week"
	default:
		return fmt.Sprintf("the last %d hours", w.hours)
	}
}

// ParseWindow accepts "hour", "day", "week", "all" (or "all-time") and "<n>h".
func ParseWindow(s string) (TimeWindow, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "hour", "last-hour", "1h":
		return LastHour, nil
	case "day", "last-day", "24h":
		return LastDay, nil
	case "week", "last-week", "168h":
		return LastWeek, nil
	case "all", "all-time", "alltime":
		return AllTime(), nil
	}

	if strings.HasSuffix(v, "h") {
		n, err := strconv.ParseInt(strings.TrimSuffix(v, "h"), 10, 64)
		if err == nil {
			return RelativeHours(n)
		}
	}
	return TimeWindow{}, fmt.Errorf("%w: %q (use hour, day, week, all, or <n>h)", ErrInvalidWindow, s)
}

// CutoffSet holds one cutoff per family in that family's native unit.
type CutoffSet struct {
	chromium int64
	gecko    int64
	webkit   int64
}

// For returns the cutoff for f. Unknown families get NoLowerBound.
func (c CutoffSet) For(f Family) int64 {
	switch f {
	case ChromiumMicros1601:
		return c.chromium
	case GeckoMicros1970:
		return c.gecko
	case WebKitSeconds1970:
		return c.webkit
	default:
		return NoLowerBound
	}
}

// Unbounded reports whether the set was derived from AllTime.
func (c CutoffSet) Unbounded() bool {
	return c.chromium == NoLowerBound && c.gecko == NoLowerBound && c.webkit == NoLowerBound
}

// Normalize derives the per-family cutoffs for w relative to now. Only the
// whole-second part of now is used.
func Normalize(w TimeWindow, now time.Time) CutoffSet {
	if w.IsAllTime() {
		return CutoffSet{chromium: NoLowerBound, gecko: NoLowerBound, webkit: NoLowerBound}
	}

	start := now.Unix() - w.Seconds()
	return CutoffSet{
		chromium: (start + ChromiumOffsetSeconds) * microsPerSecond,
		gecko:    start * microsPerSecond,
		webkit:   start,
	}
}

// ToTime converts a native timestamp back to wall-clock time.
func ToTime(f Family, v int64) time.Time {
	switch f {
	case ChromiumMicros1601:
		return time.UnixMicro(v - ChromiumOffsetSeconds*microsPerSecond).UTC()
	case GeckoMicros1970:
		return time.UnixMicro(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}

// FromTime converts t to f's native unit, truncated to whole seconds.
func FromTime(f Family, t time.Time) int64 {
	s := t.Unix()
	switch f {
	case ChromiumMicros1601:
		return (s + ChromiumOffsetSeconds) * microsPerSecond
	case GeckoMicros1970:
		return s * microsPerSecond
	default:
		return s
	}
}
