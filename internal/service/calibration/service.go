package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/metrics"
	"github.com/phrazzld/scry-cat/internal/store"
	"github.com/phrazzld/scry-cat/internal/strategy"
)

var (
	// ErrNothingToCalibrate is returned when a scale has no responses.
	ErrNothingToCalibrate = errors.New("calibration: no responses for scale")

	// ErrNilDependency is returned by New for missing collaborators.
	ErrNilDependency = errors.New("calibration: required dependency is nil")
)

// Request selects what a run calibrates.
type Request struct {
	ScaleID uuid.UUID

	// Force runs even when every response was already used by an earlier
	// context.
	Force bool

	// Name labels the new context.
	Name string
}

// Report summarizes one run.
type Report struct {
	// Context is the published context, nil when the run was skipped.
	Context *domain.Context

	// Skipped is set when nothing new arrived since the active context.
	Skipped bool

	Responses int
	Marked    int64
	Items     map[domain.ItemParamStatus]int
	Selected  map[string]int
}

// Service runs calibrations and manages the contexts of each scale.
type Service struct {
	store    store.Store
	strategy *strategy.Strategy
	emitter  events.EventEmitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Service. The emitter and metrics may be nil.
func New(st store.Store, strat *strategy.Strategy, emitter events.EventEmitter, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}
	if strat == nil {
		return nil, fmt.Errorf("%w: strategy", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		strategy: strat,
		emitter:  emitter,
		metrics:  m,
		logger:   logger.With(slog.String("component", "calibration_service")),
		now:      time.Now,
	}, nil
}

// Calibrate runs the model strategy over the scale's responses and
// publishes the result. It returns store.ErrContextConflict when another
// run or override published first, and the context's error when cancelled.
func (s *Service) Calibrate(ctx context.Context, req Request) (*Report, error) {
	start := s.now()
	rep, err := s.calibrate(ctx, req)
	status := runStatus(rep, err)
	s.metrics.ObserveCalibration(status, s.now().Sub(start))

	log := s.logger.With(
		slog.String("scale_id", req.ScaleID.String()),
		slog.String("status", status),
		slog.Duration("elapsed", s.now().Sub(start)))
	switch status {
	case metrics.RunPublished, metrics.RunEmpty:
		log.Info("calibration finished")
	case metrics.RunFailed:
		log.Error("calibration failed", slog.String("error", err.Error()))
	default:
		log.Warn("calibration abandoned", slog.String("error", err.Error()))
	}
	return rep, err
}

func runStatus(rep *Report, err error) string {
	switch {
	case err == nil && rep.Skipped:
		return metrics.RunEmpty
	case err == nil:
		return metrics.RunPublished
	case errors.Is(err, store.ErrContextConflict):
		return metrics.RunConflict
	case errors.Is(err, context.Canceled):
		return metrics.RunSuperseded
	case errors.Is(err, ErrNothingToCalibrate):
		return metrics.RunEmpty
	default:
		return metrics.RunFailed
	}
}

func (s *Service) calibrate(ctx context.Context, req Request) (*Report, error) {
	scopes, err := s.scope(ctx, req.ScaleID)
	if err != nil {
		return nil, err
	}
	parent, prior, err := s.prior(ctx, req.ScaleID)
	if err != nil {
		return nil, err
	}

	filter := store.ResponseFilter{ScaleIDs: scopes, Until: s.now()}
	if parent != nil && !req.Force {
		fresh := filter
		fresh.Unprocessed = true
		pending, err := s.store.ListResponses(ctx, fresh)
		if err != nil {
			return nil, fmt.Errorf("list unprocessed responses: %w", err)
		}
		if len(pending) == 0 {
			return &Report{Skipped: true}, nil
		}
	}

	responses, err := s.store.ListResponses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if len(responses) == 0 {
		return nil, ErrNothingToCalibrate
	}

	in := strategy.Input{
		ScaleID:   req.ScaleID,
		Name:      req.Name,
		Responses: responses,
		Prior:     prior,
	}
	if parent != nil {
		in.ParentID = parent.ID
	}
	out, err := s.strategy.SelectBestModel(ctx, in)
	if err != nil {
		if errors.Is(err, catcalc.ErrNoResponses) {
			return nil, fmt.Errorf("%w: %v", ErrNothingToCalibrate, err)
		}
		return nil, err
	}
	// A superseded run must not publish.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.store.Publish(ctx, out.Context, out.Items, out.Persons); err != nil {
		return nil, err
	}

	rep := &Report{
		Context:   &out.Context,
		Responses: len(responses),
		Items:     make(map[domain.ItemParamStatus]int),
		Selected:  make(map[string]int),
	}
	for _, ip := range out.Items {
		rep.Items[ip.Status]++
	}
	for _, model := range out.Selected {
		rep.Selected[model]++
	}

	// Published contexts stand on their own; unmarked responses only make
	// the next run skip less eagerly.
	rep.Marked, err = s.store.MarkProcessed(context.WithoutCancel(ctx), filter, out.Context.ID)
	if err != nil {
		s.logger.Warn("failed to mark responses processed",
			slog.String("context_id", out.Context.ID.String()),
			slog.String("error", err.Error()))
	}

	byStatus := make(map[string]int, len(rep.Items))
	for st, n := range rep.Items {
		byStatus[string(st)] = n
	}
	s.metrics.ObserveItemOutcomes(byStatus)
	s.metrics.ObserveSelectedModels(rep.Selected)
	s.announce(context.WithoutCancel(ctx), out.Context)
	return rep, nil
}

// scope returns the scale and every scale below it.
func (s *Service) scope(ctx context.Context, scaleID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.store.GetScale(ctx, scaleID); err != nil {
		return nil, err
	}
	tree, err := s.tree(ctx)
	if err != nil {
		return nil, err
	}
	return append([]uuid.UUID{scaleID}, tree.Descendants(scaleID)...), nil
}

func (s *Service) tree(ctx context.Context) (*domain.ScaleTree, error) {
	scales, err := s.store.ListScales(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scales: %w", err)
	}
	return domain.NewScaleTree(scales)
}

// prior returns the active context of the scale with its item parameters,
// or nil when the scale was never calibrated.
func (s *Service) prior(ctx context.Context, scaleID uuid.UUID) (*domain.Context, map[uuid.UUID]domain.ItemParam, error) {
	snap, err := s.activeSnapshot(ctx, scaleID)
	if errors.Is(err, store.ErrContextNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &snap.Context, snap.Items, nil
}

func (s *Service) activeSnapshot(ctx context.Context, scaleID uuid.UUID) (*domain.Snapshot, error) {
	active, err := s.store.ActiveContext(ctx, scaleID)
	if err != nil {
		return nil, err
	}
	return s.store.Snapshot(ctx, active.ID)
}

// announce emits ContextPublished. Failures are logged; the context is
// already active.
func (s *Service) announce(ctx context.Context, c domain.Context) {
	if s.emitter == nil {
		return
	}
	event, err := events.NewEvent(events.TypeContextPublished, events.ContextPublished{
		ScaleID:   c.ScaleID,
		ContextID: c.ID,
		ParentID:  c.ParentID,
	})
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	if err != nil {
		s.logger.Warn("failed to announce context",
			slog.String("context_id", c.ID.String()),
			slog.String("error", err.Error()))
	}
}

// Active returns the active context of a scale.
func (s *Service) Active(ctx context.Context, scaleID uuid.UUID) (*domain.Context, error) {
	return s.store.ActiveContext(ctx, scaleID)
}

// History lists the contexts of a scale, newest first.
func (s *Service) History(ctx context.Context, scaleID uuid.UUID) ([]domain.Context, error) {
	if _, err := s.store.GetScale(ctx, scaleID); err != nil {
		return nil, err
	}
	return s.store.ListContexts(ctx, scaleID)
}
