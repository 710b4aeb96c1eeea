// Package interaction records browser interaction events in arrival order
// and serves filtered retrieval, free-text search and multi-criterion
// pruning over them.
package interaction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sackio/unibrowse-sub002/api/schemas"
	"go.uber.org/zap"
)

// Journal durably mirrors the log. Writes happen inside the log's critical
// section, before the in-memory sequence changes.
type Journal interface {
	Append(ctx context.Context, ev schemas.InteractionEvent) error
	Delete(ctx context.Context, ids []int64) error
	LoadAll(ctx context.Context) ([]schemas.InteractionEvent, error)
}

// Log is the ordered event sequence. Ids are assigned from a counter that
// only moves forward, so ids stay unique even after pruning.
type Log struct {
	mu        sync.RWMutex
	events    []schemas.InteractionEvent
	nextID    int64
	maxEvents int

	journal Journal
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity bounds the log to n events; older events are evicted first.
// Zero means unbounded.
func WithCapacity(n int) Option {
	return func(l *Log) { l.maxEvents = n }
}

// WithJournal mirrors every append and removal to j.
func WithJournal(j Journal) Option {
	return func(l *Log) { l.journal = j }
}

// WithClock overrides the time source used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates an empty log.
func NewLog(logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		nextID: 1,
		log:    logger.Named("interaction_log"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open hydrates the log from its journal, if any.
func (l *Log) Open(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	events, err := l.journal.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load interaction journal: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
	l.nextID = 1
	if n := len(events); n > 0 {
		l.nextID = events[n-1].ID + 1
	}
	l.log.Info("Loaded interactions from journal.", zap.Int("count", len(events)), zap.Int64("next_id", l.nextID))
	return l.evictLocked(ctx)
}

// Append assigns the next sequence id and stores ev. A missing timestamp is
// filled with the current time; a timestamp older than the newest event is
// raised to it so timestamps never decrease with id.
func (l *Log) Append(ctx context.Context, ev schemas.InteractionEvent) (schemas.InteractionEvent, error) {
	var missing []string
	if strings.TrimSpace(ev.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(ev.URL) == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		return schemas.InteractionEvent{}, schemas.NewValidationError("interaction is missing required fields: %s", strings.Join(missing, ", "))
	}
	if ev.Timestamp < 0 {
		return schemas.InteractionEvent{}, schemas.NewValidationError("timestamp must not be negative, got %d", ev.Timestamp)
	}
	ev.Data = copyData(ev.Data)

	l.mu.Lock()
	defer l.mu.Unlock()

	ev.ID = l.nextID
	if ev.Timestamp == 0 {
		ev.Timestamp = l.now().UnixMilli()
	}
	if n := len(l.events); n > 0 && ev.Timestamp < l.events[n-1].Timestamp {
		ev.Timestamp = l.events[n-1].Timestamp
	}

	if l.journal != nil {
		if err := l.journal.Append(ctx, ev); err != nil {
			return schemas.InteractionEvent{}, fmt.Errorf("failed to journal interaction: %w", err)
		}
	}
	l.events = append(l.events, ev)
	l.nextID++

	if err := l.evictLocked(ctx); err != nil {
		l.log.Error("Failed to evict interactions over capacity.", zap.Error(err))
	}
	return ev, nil
}

// evictLocked drops the oldest events beyond capacity. Callers hold mu.
func (l *Log) evictLocked(ctx context.Context) error {
	if l.maxEvents <= 0 || len(l.events) <= l.maxEvents {
		return nil
	}
	overflow := len(l.events) - l.maxEvents
	positions := make([]int, overflow)
	for i := range positions {
		positions[i] = i
	}
	kept, ids := without(l.events, positions)
	if l.journal != nil {
		if err := l.journal.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete evicted interactions: %w", err)
		}
	}
	l.events = kept
	l.log.Debug("Evicted interactions over capacity.", zap.Int("count", overflow), zap.Int("capacity", l.maxEvents))
	return nil
}

// Get returns the events matching filter.
func (l *Log) Get(ctx context.Context, filter schemas.InteractionFilter) (schemas.InteractionPage, error) {
	m, err := compileFilter(filter)
	if err != nil {
		return schemas.InteractionPage{}, err
	}
	return l.page(m, filter), nil
}

// Search is Get with an added free-text predicate over url, selector and
// every string in the event's data. An empty query matches everything.
func (l *Log) Search(ctx context.Context, query string, filter schemas.InteractionFilter) (schemas.InteractionPage, error) {
	m, err := compileFilter(filter)
	if err != nil {
		return schemas.InteractionPage{}, err
	}
	if query != "" {
		m = append(m, textContains(query))
	}
	return l.page(m, filter), nil
}

// page filters under the read lock, then sorts and slices the copy.
func (l *Log) page(m matcher, filter schemas.InteractionFilter) schemas.InteractionPage {
	l.mu.RLock()
	matched := make([]schemas.InteractionEvent, 0, len(l.events))
	for i := range l.events {
		if m.match(&l.events[i]) {
			matched = append(matched, l.events[i])
		}
	}
	l.mu.RUnlock()

	if strings.EqualFold(filter.SortOrder, schemas.SortDesc) {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	total := len(matched)
	if filter.Offset >= total {
		matched = matched[:0]
	} else {
		matched = matched[filter.Offset:]
	}
	if filter.Limit != nil && *filter.Limit > 0 && *filter.Limit < len(matched) {
		matched = matched[:*filter.Limit]
	}

	out := make([]schemas.InteractionEvent, len(matched))
	for i := range matched {
		out[i] = matched[i]
		out[i].Data = copyData(matched[i].Data)
	}
	return schemas.InteractionPage{Interactions: out, Count: len(out), Total: total}
}

// Prune removes the events selected by criteria and reports how many went.
func (l *Log) Prune(ctx context.Context, criteria schemas.PruneCriteria) (schemas.PruneResult, error) {
	m, err := compilePrune(criteria)
	if err != nil {
		return schemas.PruneResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	positions := planPrune(l.events, m, criteria)
	if len(positions) == 0 {
		return schemas.PruneResult{Removed: 0, Remaining: len(l.events)}, nil
	}

	kept, ids := without(l.events, positions)
	if l.journal != nil {
		if err := l.journal.Delete(ctx, ids); err != nil {
			return schemas.PruneResult{}, fmt.Errorf("failed to delete pruned interactions: %w", err)
		}
	}
	l.events = kept

	l.log.Info("Pruned interactions.", zap.Int("removed", len(ids)), zap.Int("remaining", len(kept)))
	return schemas.PruneResult{Removed: len(ids), Remaining: len(kept)}, nil
}

// Len returns the number of events currently held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// copyData makes a shallow copy of an event's data so callers cannot mutate
// stored events through the map.
func copyData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
