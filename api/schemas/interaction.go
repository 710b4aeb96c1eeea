package schemas

// -- Interaction Log Schemas --

// InteractionEvent is an immutable record of one observed browser interaction.
// Timestamp is unix milliseconds, as reported by the browser.
type InteractionEvent struct {
	ID        int64                  `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Type      string                 `json:"type"`
	URL       string                 `json:"url"`
	Selector  string                 `json:"selector,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	TabTarget string                 `json:"tabTarget,omitempty"`
}

// SortOrder values accepted by InteractionFilter.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// InteractionFilter selects events for get and search. Every field that is set
// must hold (logical AND). Pointers distinguish "unset" from zero.
type InteractionFilter struct {
	StartTime       *int64   `json:"startTime,omitempty"`
	EndTime         *int64   `json:"endTime,omitempty"`
	Limit           *int     `json:"limit,omitempty"`
	Offset          int      `json:"offset,omitempty"`
	Types           []string `json:"types,omitempty"`
	URLPattern      string   `json:"urlPattern,omitempty"`
	SelectorPattern string   `json:"selectorPattern,omitempty"`
	SortOrder       string   `json:"sortOrder,omitempty"`
}

// TimeRange is an inclusive [Start, End] window in unix milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// PruneCriteria describes which events a prune call removes.
//
// Filters (time bounds, types, patterns) form the eligible set. KeepLast and
// KeepFirst protect the newest/oldest eligible events. RemoveOldest caps the
// removal to the N oldest unprotected events.
type PruneCriteria struct {
	Before          *int64     `json:"before,omitempty"`
	After           *int64     `json:"after,omitempty"`
	Between         *TimeRange `json:"between,omitempty"`
	KeepLast        *int       `json:"keepLast,omitempty"`
	KeepFirst       *int       `json:"keepFirst,omitempty"`
	RemoveOldest    *int       `json:"removeOldest,omitempty"`
	Types           []string   `json:"types,omitempty"`
	ExcludeTypes    []string   `json:"excludeTypes,omitempty"`
	URLPattern      string     `json:"urlPattern,omitempty"`
	SelectorPattern string     `json:"selectorPattern,omitempty"`
}

// InteractionPage is the result of get and search calls.
type InteractionPage struct {
	Interactions []InteractionEvent `json:"interactions"`
	Count        int                `json:"count"`
	Total        int                `json:"total"`
}

// PruneResult reports how many events a prune call removed.
type PruneResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}
