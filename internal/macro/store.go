// Package macro keeps reusable browser-action recipes keyed by (site, name)
// and runs them through a browser-side Executor.
package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"go.uber.org/zap"
)

// Executor runs a macro's code in a browser and returns its raw result.
type Executor interface {
	Execute(ctx context.Context, run schemas.MacroRun) (json.RawMessage, error)
}

type key struct {
	site string
	name string
}

// Store is the in-memory macro table. All mutations of one (site, name)
// pair are serialized by a single mutex.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*schemas.Macro
	byKey map[key]string

	repo     Repository
	executor Executor
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRepository writes every mutation through to repo.
func WithRepository(repo Repository) Option {
	return func(s *Store) { s.repo = repo }
}

// WithExecutor sets the collaborator that runs macros.
func WithExecutor(e Executor) Option {
	return func(s *Store) { s.executor = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		byID:  make(map[string]*schemas.Macro),
		byKey: make(map[key]string),
		log:   logger.Named("macro_store"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetExecutor replaces the executor after construction.
func (s *Store) SetExecutor(e Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executor = e
}

// Load replaces the table with the repository's contents.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	macros, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load macros: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*schemas.Macro, len(macros))
	s.byKey = make(map[key]string, len(macros))
	for i := range macros {
		m := macros[i].Clone()
		s.byID[m.ID] = &m
		s.byKey[key{m.Site, m.Name}] = m.ID
	}
	s.log.Info("Loaded macros from repository.", zap.Int("count", len(macros)))
	return nil
}

// Store creates or updates the macro keyed by (site, name). An update keeps
// the id, the execution counters, reliability and createdAt.
func (s *Store) Store(ctx context.Context, in schemas.Macro) (schemas.StoreMacroResult, error) {
	var missing []string
	if strings.TrimSpace(in.Site) == "" {
		missing = append(missing, "site")
	}
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.Code) == "" {
		missing = append(missing, "code")
	}
	if len(missing) > 0 {
		return schemas.StoreMacroResult{}, schemas.NewValidationError("macro is missing required fields: %s", strings.Join(missing, ", "))
	}
	if err := validateSpecs(in.Parameters); err != nil {
		return schemas.StoreMacroResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	k := key{in.Site, in.Name}
	rec := in.Clone()
	outcome := schemas.OutcomeCreated

	if id, ok := s.byKey[k]; ok {
		existing := s.byID[id]
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		rec.SuccessCount = existing.SuccessCount
		rec.FailureCount = existing.FailureCount
		rec.Reliability = existing.Reliability
		outcome = schemas.OutcomeUpdated
	} else {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		rec.SuccessCount = 0
		rec.FailureCount = 0
		rec.Reliability = 0
	}
	rec.UpdatedAt = now

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, rec); err != nil {
			return schemas.StoreMacroResult{}, fmt.Errorf("failed to persist macro: %w", err)
		}
	}
	s.byID[rec.ID] = &rec
	s.byKey[k] = rec.ID

	s.log.Debug("Stored macro.", zap.String("macro_id", rec.ID), zap.String("site", rec.Site), zap.String("name", rec.Name), zap.String("outcome", string(outcome)))
	return schemas.StoreMacroResult{
		ID:      rec.ID,
		Outcome: outcome,
		Message: fmt.Sprintf("Macro %q %s for %s", rec.Name, outcome, rec.Site),
	}, nil
}

// Get returns a copy of one macro.
func (s *Store) Get(ctx context.Context, id string) (schemas.Macro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return schemas.Macro{}, schemas.NewNotFoundError("macro not found: %s", id)
	}
	return m.Clone(), nil
}

// List returns macros matching filter, most recently updated first with ties
// broken by id. An empty search matches everything.
func (s *Store) List(ctx context.Context, filter schemas.MacroFilter) []schemas.Macro {
	term := strings.ToLower(filter.Search)

	s.mu.RLock()
	out := make([]schemas.Macro, 0, len(s.byID))
	for _, m := range s.byID {
		if term == "" || matches(m, term) {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(m *schemas.Macro, term string) bool {
	for _, field := range []string{m.Name, m.Description, m.Category, m.Site} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// Len returns the number of stored macros.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Execute validates params against the macro's declarations, runs it through
// the executor and records the outcome. A validation failure leaves the
// counters untouched. An executor failure is counted and returned unchanged.
func (s *Store) Execute(ctx context.Context, id string, params map[string]interface{}) (schemas.ExecuteMacroResult, error) {
	s.mu.RLock()
	m, ok := s.byID[id]
	var snapshot schemas.Macro
	if ok {
		snapshot = m.Clone()
	}
	executor := s.executor
	s.mu.RUnlock()

	if !ok {
		return schemas.ExecuteMacroResult{}, schemas.NewNotFoundError("macro not found: %s", id)
	}

	resolved, warnings, err := resolveParams(snapshot.Parameters, params)
	if err != nil {
		return schemas.ExecuteMacroResult{}, err
	}
	if executor == nil {
		return schemas.ExecuteMacroResult{}, schemas.NewConnectionError(nil, "no browser executor is available")
	}

	log := s.log.With(zap.String("macro_id", id), zap.String("site", snapshot.Site), zap.String("name", snapshot.Name))
	for _, w := range warnings {
		log.Warn("Macro parameter warning.", zap.String("warning", w))
	}

	result, execErr := executor.Execute(ctx, schemas.MacroRun{
		MacroID:    snapshot.ID,
		Site:       snapshot.Site,
		Name:       snapshot.Name,
		Code:       snapshot.Code,
		Params:     resolved,
		ReturnType: snapshot.ReturnType,
	})

	success, failure, reliability := s.recordOutcome(ctx, id, execErr == nil)
	if execErr != nil {
		log.Warn("Macro execution failed.", zap.Error(execErr), zap.Int64("failure_count", failure))
		return schemas.ExecuteMacroResult{}, execErr
	}

	log.Debug("Macro executed.", zap.Int64("success_count", success), zap.Float64("reliability", reliability))
	return schemas.ExecuteMacroResult{
		MacroID:      id,
		Result:       result,
		Warnings:     warnings,
		SuccessCount: success,
		FailureCount: failure,
		Reliability:  reliability,
	}, nil
}

// recordOutcome bumps one counter and recomputes reliability under the lock.
func (s *Store) recordOutcome(ctx context.Context, id string, ok bool) (success, failure int64, reliability float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, found := s.byID[id]
	if !found {
		return 0, 0, 0
	}
	if ok {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	m.Reliability = float64(m.SuccessCount) / float64(m.SuccessCount+m.FailureCount)

	if s.repo != nil {
		if err := s.repo.UpdateCounters(context.WithoutCancel(ctx), m.ID, m.SuccessCount, m.FailureCount, m.Reliability); err != nil {
			s.log.Error("Failed to persist macro counters.", zap.String("macro_id", m.ID), zap.Error(err))
		}
	}
	return m.SuccessCount, m.FailureCount, m.Reliability
}
