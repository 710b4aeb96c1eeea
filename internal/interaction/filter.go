package interaction

import (
	"strings"

	"github.com/sackio/unibrowse-sub002/api/schemas"
)

// predicate reports whether one event satisfies a single criterion.
type predicate func(ev *schemas.InteractionEvent) bool

// matcher is the conjunction of its predicates. An empty matcher matches
// every event.
type matcher []predicate

func (m matcher) match(ev *schemas.InteractionEvent) bool {
	for _, p := range m {
		if !p(ev) {
			return false
		}
	}
	return true
}

func (m matcher) empty() bool { return len(m) == 0 }

func atOrAfter(t int64) predicate {
	return func(ev *schemas.InteractionEvent) bool { return ev.Timestamp >= t }
}

func atOrBefore(t int64) predicate {
	return func(ev *schemas.InteractionEvent) bool { return ev.Timestamp <= t }
}

func strictlyBefore(t int64) predicate {
	return func(ev *schemas.InteractionEvent) bool { return ev.Timestamp < t }
}

func strictlyAfter(t int64) predicate {
	return func(ev *schemas.InteractionEvent) bool { return ev.Timestamp > t }
}

func typeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = true
	}
	return set
}

func typeIn(types []string) predicate {
	set := typeSet(types)
	return func(ev *schemas.InteractionEvent) bool { return set[strings.ToLower(ev.Type)] }
}

func typeNotIn(types []string) predicate {
	set := typeSet(types)
	return func(ev *schemas.InteractionEvent) bool { return !set[strings.ToLower(ev.Type)] }
}

func urlContains(pattern string) predicate {
	p := strings.ToLower(pattern)
	return func(ev *schemas.InteractionEvent) bool { return strings.Contains(strings.ToLower(ev.URL), p) }
}

func selectorContains(pattern string) predicate {
	p := strings.ToLower(pattern)
	return func(ev *schemas.InteractionEvent) bool {
		return strings.Contains(strings.ToLower(ev.Selector), p)
	}
}

// textContains matches the url, the selector or any string found anywhere
// in the event's data, nested maps and arrays included.
func textContains(query string) predicate {
	q := strings.ToLower(query)
	return func(ev *schemas.InteractionEvent) bool {
		if strings.Contains(strings.ToLower(ev.URL), q) || strings.Contains(strings.ToLower(ev.Selector), q) {
			return true
		}
		return valueContains(ev.Data, q)
	}
}

func valueContains(v interface{}, q string) bool {
	switch x := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(x), q)
	case map[string]interface{}:
		for _, inner := range x {
			if valueContains(inner, q) {
				return true
			}
		}
	case []interface{}:
		for _, inner := range x {
			if valueContains(inner, q) {
				return true
			}
		}
	case []string:
		for _, inner := range x {
			if strings.Contains(strings.ToLower(inner), q) {
				return true
			}
		}
	}
	return false
}

// compileFilter builds the matcher shared by get and search. Contradictory
// time bounds are not an error here; they simply match nothing.
func compileFilter(f schemas.InteractionFilter) (matcher, error) {
	if f.Limit != nil && *f.Limit < 0 {
		return nil, schemas.NewValidationError("limit must not be negative, got %d", *f.Limit)
	}
	if f.Offset < 0 {
		return nil, schemas.NewValidationError("offset must not be negative, got %d", f.Offset)
	}
	switch strings.ToLower(f.SortOrder) {
	case "", schemas.SortAsc, schemas.SortDesc:
	default:
		return nil, schemas.NewValidationError("sortOrder must be %q or %q, got %q", schemas.SortAsc, schemas.SortDesc, f.SortOrder)
	}

	var m matcher
	if f.StartTime != nil {
		m = append(m, atOrAfter(*f.StartTime))
	}
	if f.EndTime != nil {
		m = append(m, atOrBefore(*f.EndTime))
	}
	if len(f.Types) > 0 {
		m = append(m, typeIn(f.Types))
	}
	if f.URLPattern != "" {
		m = append(m, urlContains(f.URLPattern))
	}
	if f.SelectorPattern != "" {
		m = append(m, selectorContains(f.SelectorPattern))
	}
	return m, nil
}

// compilePrune builds the eligibility matcher of a prune call and rejects
// self-contradictory criteria.
func compilePrune(c schemas.PruneCriteria) (matcher, error) {
	if c.Between != nil && c.Between.Start > c.Between.End {
		return nil, schemas.NewValidationError("between.start (%d) is after between.end (%d)", c.Between.Start, c.Between.End)
	}
	if c.Before != nil && c.After != nil && *c.Before <= *c.After {
		return nil, schemas.NewValidationError("before (%d) must be later than after (%d)", *c.Before, *c.After)
	}
	for name, n := range map[string]*int{"keepLast": c.KeepLast, "keepFirst": c.KeepFirst, "removeOldest": c.RemoveOldest} {
		if n != nil && *n < 0 {
			return nil, schemas.NewValidationError("%s must not be negative, got %d", name, *n)
		}
	}

	var m matcher
	if c.Before != nil {
		m = append(m, strictlyBefore(*c.Before))
	}
	if c.After != nil {
		m = append(m, strictlyAfter(*c.After))
	}
	if c.Between != nil {
		m = append(m, atOrAfter(c.Between.Start), atOrBefore(c.Between.End))
	}
	if len(c.Types) > 0 {
		m = append(m, typeIn(c.Types))
	}
	if len(c.ExcludeTypes) > 0 {
		m = append(m, typeNotIn(c.ExcludeTypes))
	}
	if c.URLPattern != "" {
		m = append(m, urlContains(c.URLPattern))
	}
	if c.SelectorPattern != "" {
		m = append(m, selectorContains(c.SelectorPattern))
	}
	return m, nil
}
