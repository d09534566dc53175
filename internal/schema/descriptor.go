// Package schema describes the history tables of each browser family and
// binds those descriptions to a live database before anything is deleted.
package schema

import (
	"fmt"
	"strings"

	"github.com/runnerr0/hxscrub/internal/epoch"
)

// Family is a browser engine family sharing one history schema.
type Family string

const (
	Chromium Family = "chromium"
	Gecko    Family = "gecko"
	WebKit   Family = "webkit"
)

// Relation is a table holding a reference column. Columns lists the accepted
// names for that column, most preferred first.
type Relation struct {
	Table   string
	Columns []string
}

// Dependent is a table keyed on an auxiliary table rather than on pages. Its
// rows go once the Parent row they reference is gone.
type Dependent struct {
	Table     string
	Columns   []string
	Parent    string
	ParentKey string
}

// Descriptor is the static shape of one family's history store.
type Descriptor struct {
	Family Family
	Epoch  epoch.Family

	VisitTable string
	VisitKey   string
	TimeColumn string
	// PageRefAliases are the names the visit→page column has carried
	// across vendor versions.
	PageRefAliases []string

	PageTable string
	PageKey   string

	// Auxiliary tables reference pages and lose rows with their page.
	Auxiliary []Relation
	// Dependents hang off Auxiliary tables.
	Dependents []Dependent
	// VisitAuxiliary tables reference visits and lose rows with their visit.
	VisitAuxiliary []Relation
	// Preserve tables keep the pages they reference alive.
	Preserve []Relation
	// AllTimeClears are emptied only when there is no lower bound.
	AllTimeClears []string

	// WholeTableOnly stores support AllTime and nothing finer.
	WholeTableOnly bool
}

var descriptors = map[Family]Descriptor{
	Chromium: {
		Family:         Chromium,
		Epoch:          epoch.ChromiumMicros1601,
		VisitTable:     "visits",
		VisitKey:       "id",
		TimeColumn:     "visit_time",
		PageRefAliases: []string{"url_id", "url"},
		PageTable:      "urls",
		PageKey:        "id",
		Auxiliary: []Relation{
			{Table: "keyword_search_terms", Columns: []string{"url_id"}},
			{Table: "segments", Columns: []string{"url_id"}},
		},
		Dependents: []Dependent{
			{Table: "segment_usage", Columns: []string{"segment_id"}, Parent: "segments", ParentKey: "id"},
		},
		VisitAuxiliary: []Relation{
			{Table: "visit_source", Columns: []string{"id"}},
			{Table: "content_annotations", Columns: []string{"visit_id"}},
			{Table: "context_annotations", Columns: []string{"visit_id"}},
		},
		AllTimeClears: []string{"downloads", "downloads_url_chains", "downloads_slices"},
	},
	Gecko: {
		Family:         Gecko,
		Epoch:          epoch.GeckoMicros1970,
		VisitTable:     "moz_historyvisits",
		VisitKey:       "id",
		TimeColumn:     "visit_date",
		PageRefAliases: []string{"place_id"},
		PageTable:      "moz_places",
		PageKey:        "id",
		Auxiliary: []Relation{
			{Table: "moz_inputhistory", Columns: []string{"place_id"}},
			{Table: "moz_annos", Columns: []string{"place_id"}},
			{Table: "moz_places_metadata", Columns: []string{"place_id"}},
		},
		Preserve: []Relation{
			{Table: "moz_bookmarks", Columns: []string{"fk", "place_id"}},
			{Table: "moz_keywords", Columns: []string{"place_id"}},
		},
	},
	WebKit: {
		Family:         WebKit,
		Epoch:          epoch.WebKitSeconds1970,
		VisitTable:     "history_visits",
		VisitKey:       "id",
		TimeColumn:     "visit_time",
		PageRefAliases: []string{"history_item"},
		PageTable:      "history_items",
		PageKey:        "id",
		Auxiliary: []Relation{
			{Table: "history_items_to_tags", Columns: []string{"history_item"}},
		},
		WholeTableOnly: true,
	},
}

// Families returns every supported family.
func Families() []Family {
	return []Family{Chromium, Gecko, WebKit}
}

// For returns the descriptor of f.
func For(f Family) (Descriptor, error) {
	d, ok := descriptors[f]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown browser family %q", f)
	}
	return d, nil
}

// ParseFamily maps a config or flag value to a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := descriptors[f]; !ok {
		return "", fmt.Errorf("unknown browser family %q (want chromium, gecko, or webkit)", s)
	}
	return f, nil
}
