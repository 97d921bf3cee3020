package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/metrics"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/store"
)

var (
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("attempt: not found")

	// ErrNoActiveContext is returned when an attempt starts on a scale that
	// was never calibrated.
	ErrNoActiveContext = errors.New("attempt: scale has no active context")

	// ErrNilDependency is returned by New for missing collaborators.
	ErrNilDependency = errors.New("attempt: required dependency is nil")
)

// entry serializes the operations on one attempt.
type entry struct {
	mu    sync.Mutex
	state *domain.AttemptState
}

// Service runs attempts.
type Service struct {
	store    store.Store
	selector *selector.Selector
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	attempts map[uuid.UUID]*entry
	live     int

	snapMu    sync.RWMutex
	snapshots map[uuid.UUID]*domain.Snapshot
}

// New builds a Service. Metrics may be nil.
func New(st store.Store, sel *selector.Selector, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}
	if sel == nil {
		return nil, fmt.Errorf("%w: selector", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		selector:  sel,
		metrics:   m,
		logger:    logger.With(slog.String("component", "attempt_service")),
		now:       time.Now,
		attempts:  make(map[uuid.UUID]*entry),
		snapshots: make(map[uuid.UUID]*domain.Snapshot),
	}, nil
}

// Start opens an attempt for personID on scaleID under the scale's active
// context.
func (s *Service) Start(ctx context.Context, personID, scaleID uuid.UUID) (*domain.AttemptState, error) {
	if _, err := s.store.GetScale(ctx, scaleID); err != nil {
		return nil, err
	}
	active, err := s.store.ActiveContext(ctx, scaleID)
	if errors.Is(err, store.ErrContextNotFound) {
		return nil, ErrNoActiveContext
	}
	if err != nil {
		return nil, err
	}
	state, err := domain.NewAttemptState(personID, scaleID, active.ID, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.attempts[state.ID] = &entry{state: state}
	s.mu.Unlock()
	s.adjustLive(1)

	s.logger.Info("attempt started",
		slog.String("attempt_id", state.ID.String()),
		slog.String("person_id", personID.String()),
		slog.String("scale_id", scaleID.String()),
		slog.String("context_id", active.ID.String()))
	return state.Clone(), nil
}

// Get returns a copy of the attempt's current state.
func (s *Service) Get(id uuid.UUID) (*domain.AttemptState, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Next asks the selector for the attempt's next item. Asking again before
// answering returns the same item.
func (s *Service) Next(ctx context.Context, id uuid.UUID) (selector.Result, *domain.AttemptState, error) {
	e, err := s.entry(id)
	if err != nil {
		return selector.Result{}, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := s.pool(ctx, e.state)
	if err != nil {
		return selector.Result{}, nil, err
	}
	res, next, err := s.selector.NextItem(e.state, pool)
	if err != nil {
		return selector.Result{}, nil, err
	}
	wasTerminated := e.state.Terminated()
	e.state = next

	if !wasTerminated {
		if res.Terminated() {
			s.metrics.ObserveDecision(string(res.Reason))
			s.adjustLive(-1)
		} else {
			s.metrics.ObserveDecision(metrics.DecisionIssued)
		}
	}
	return res, next.Clone(), nil
}

// Respond scores the pending item and records the response. The attempt
// only advances when the response was stored.
func (s *Service) Respond(ctx context.Context, id, itemID uuid.UUID, fraction float64) (*domain.AttemptState, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := s.pool(ctx, e.state)
	if err != nil {
		return nil, err
	}
	next, err := s.selector.ApplyResponse(e.state, pool, itemID, fraction)
	if err != nil {
		return nil, err
	}
	last := next.History[len(next.History)-1]
	if err := s.store.AddResponse(ctx, domain.ResponseRecord{
		PersonID:   next.PersonID,
		ItemID:     last.ItemID,
		Fraction:   last.Fraction,
		AnsweredAt: last.AnsweredAt,
	}); err != nil {
		return nil, fmt.Errorf("record response: %w", err)
	}
	e.state = next
	s.metrics.ObserveResponse()
	return next.Clone(), nil
}

// Forget drops an attempt from memory.
func (s *Service) Forget(id uuid.UUID) {
	s.mu.Lock()
	e, ok := s.attempts[id]
	delete(s.attempts, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	live := !e.state.Terminated()
	e.mu.Unlock()
	if live {
		s.adjustLive(-1)
	}
}

func (s *Service) entry(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return e, nil
}

// adjustLive moves the live attempt count and publishes it.
func (s *Service) adjustLive(delta int) {
	s.mu.Lock()
	s.live += delta
	n := s.live
	s.mu.Unlock()
	s.metrics.SetActiveAttempts(n)
}

// pool gathers what the selector reads for one decision.
func (s *Service) pool(ctx context.Context, state *domain.AttemptState) (selector.Pool, error) {
	snap, err := s.snapshot(ctx, state.ContextID)
	if err != nil {
		return selector.Pool{}, err
	}
	scales, err := s.store.ListScales(ctx)
	if err != nil {
		return selector.Pool{}, err
	}
	tree, err := domain.NewScaleTree(scales)
	if err != nil {
		return selector.Pool{}, err
	}
	scope := append([]uuid.UUID{state.ScaleID}, tree.Descendants(state.ScaleID)...)
	items, err := s.store.Pool(ctx, scope, state.PersonID)
	if err != nil {
		return selector.Pool{}, err
	}
	return selector.Pool{Snapshot: snap, Tree: tree, Items: items}, nil
}

// snapshot loads a context once. Contexts never change after publication.
func (s *Service) snapshot(ctx context.Context, contextID uuid.UUID) (*domain.Snapshot, error) {
	s.snapMu.RLock()
	snap, ok := s.snapshots[contextID]
	s.snapMu.RUnlock()
	if ok {
		return snap, nil
	}

	snap, err := s.store.Snapshot(ctx, contextID)
	if err != nil {
		return nil, err
	}
	s.snapMu.Lock()
	s.snapshots[contextID] = snap
	s.snapMu.Unlock()
	return snap, nil
}

// HandleEvent preloads newly published contexts so the first attempt on
// them does not pay for the load.
func (s *Service) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeContextPublished {
		return nil
	}
	var p events.ContextPublished
	if err := event.UnmarshalPayload(&p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if _, err := s.snapshot(ctx, p.ContextID); err != nil {
		return fmt.Errorf("preload context %s: %w", p.ContextID, err)
	}
	s.logger.Debug("context preloaded",
		slog.String("scale_id", p.ScaleID.String()),
		slog.String("context_id", p.ContextID.String()))
	return nil
}

var _ events.EventHandler = (*Service)(nil)
