package calibration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/metrics"
	"github.com/phrazzld/scry-cat/internal/store"
	"github.com/phrazzld/scry-cat/internal/strategy"
	"github.com/phrazzld/scry-cat/internal/testdb"
	"github.com/phrazzld/scry-cat/internal/testutils"
)

type recorder struct {
	mu     sync.Mutex
	events []events.ContextPublished
}

func (r *recorder) EmitEvent(_ context.Context, e *events.Event) error {
	var p events.ContextPublished
	if err := e.UnmarshalPayload(&p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
	return nil
}

type fixture struct {
	st     store.Store
	svc    *Service
	events *recorder
	root   uuid.UUID
	child  uuid.UUID
	other  uuid.UUID
	items  []uuid.UUID // four on root, two on child
	stray  uuid.UUID   // on other
	person []uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{st: testdb.NewStore(t), events: &recorder{}, root: uuid.New(), child: uuid.New(), other: uuid.New()}
	require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: f.root, Name: "math"}))
	require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: f.child, ParentID: f.root, Name: "algebra"}))
	require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: f.other, Name: "reading"}))

	rng := testutils.NewRand(7)
	var sim []testutils.SimItem
	for i := 0; i < 6; i++ {
		scale := f.root
		if i >= 4 {
			scale = f.child
		}
		id := testutils.NewID(rng)
		require.NoError(t, f.st.CreateItem(ctx, domain.Item{ID: id, ScaleID: scale, Active: true}))
		f.items = append(f.items, id)
		sim = append(sim, testutils.SimItem{
			ID:     id,
			Model:  irt.NewRasch(),
			Params: domain.Parameters{Difficulty: -1 + 0.4*float64(i), Discrimination: 1},
		})
	}
	f.stray = uuid.New()
	require.NoError(t, f.st.CreateItem(ctx, domain.Item{ID: f.stray, ScaleID: f.other, Active: true}))

	sample := testutils.Simulate(testutils.NewRand(8), sim, testutils.NormalAbilities(testutils.NewRand(9), 100))
	for _, r := range sample.Responses {
		require.NoError(t, f.st.AddResponse(ctx, r))
	}
	for id := range sample.Abilities {
		f.person = append(f.person, id)
	}

	logger, _ := testutils.NewCaptureLogger()
	est, err := catcalc.NewEstimator(catcalc.Config{}, irt.DefaultTrustRegion(), irt.DefaultRegistry(), logger)
	require.NoError(t, err)
	strat, err := strategy.New(strategy.Config{Criterion: strategy.CriterionAIC, Models: []string{irt.ModelRasch}}, est, logger)
	require.NoError(t, err)
	f.svc, err = New(f.st, strat, f.events, metrics.New(), logger)
	require.NoError(t, err)
	return f
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestCalibratePublishesContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root, Name: "nightly"})

	require.NoError(t, err)
	require.NotNil(t, rep.Context)
	assert.Equal(t, 600, rep.Responses)
	assert.Equal(t, int64(600), rep.Marked)
	assert.Equal(t, 6, rep.Items[domain.ItemParamStatusCalculatedAutomatically])
	assert.Equal(t, 6, rep.Selected[irt.ModelRasch])
	assert.Equal(t, uuid.Nil, rep.Context.ParentID)
	assert.Equal(t, "nightly", rep.Context.Name)

	active, err := f.svc.Active(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, rep.Context.ID, active.ID)

	snap, err := f.st.Snapshot(ctx, rep.Context.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 6, "sub-scale items are calibrated with the root")
	assert.Len(t, snap.Persons, 100)

	easiest, hardest := snap.Items[f.items[0]], snap.Items[f.items[5]]
	assert.Less(t, easiest.Params.Difficulty, hardest.Params.Difficulty)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.ContextPublished{ScaleID: f.root, ContextID: rep.Context.ID}, f.events.events[0])
}

func TestCalibrateSkipsWithoutNewResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	require.NoError(t, err)

	again, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Nil(t, again.Context)

	forced, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root, Force: true})
	require.NoError(t, err)
	require.NotNil(t, forced.Context)
	assert.Equal(t, first.Context.ID, forced.Context.ParentID)
	assert.Zero(t, forced.Marked)

	require.NoError(t, f.st.AddResponse(ctx, domain.ResponseRecord{
		PersonID: f.person[0], ItemID: f.items[4], Fraction: 1, AnsweredAt: time.Now().Add(-time.Minute),
	}))
	fresh, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	require.NoError(t, err)
	require.NotNil(t, fresh.Context)
	assert.Equal(t, forced.Context.ID, fresh.Context.ParentID)
	assert.Equal(t, int64(1), fresh.Marked)
	assert.Equal(t, 601, fresh.Responses)

	history, err := f.svc.History(ctx, f.root)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCalibrateErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Calibrate(context.Background(), Request{ScaleID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrScaleNotFound)

	empty := uuid.New()
	require.NoError(t, f.st.CreateScale(context.Background(), domain.Scale{ID: empty, Name: "empty"}))
	_, err = f.svc.Calibrate(context.Background(), Request{ScaleID: empty})
	assert.ErrorIs(t, err, ErrNothingToCalibrate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.svc.Active(context.Background(), f.root)
	assert.ErrorIs(t, err, store.ErrContextNotFound, "a cancelled run publishes nothing")
}

// racingStore publishes a competing context right before the wrapped
// Publish runs.
type racingStore struct {
	store.Store
	once sync.Once
	race func()
}

func (s *racingStore) Publish(ctx context.Context, c domain.Context, items []domain.ItemParam, persons []domain.PersonParam) error {
	s.once.Do(s.race)
	return s.Store.Publish(ctx, c, items, persons)
}

func TestCalibrateLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rival, err := domain.NewContext(f.root, uuid.Nil, "rival", time.Now())
	require.NoError(t, err)

	racing := &racingStore{Store: f.st, race: func() {
		require.NoError(t, f.st.Publish(ctx, *rival, nil, nil))
	}}
	svc, err := New(racing, f.svc.strategy, nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.Calibrate(ctx, Request{ScaleID: f.root})

	assert.ErrorIs(t, err, store.ErrContextConflict)
	active, err := f.svc.Active(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, rival.ID, active.ID)

	n, err := f.st.MarkProcessed(ctx, store.ResponseFilter{}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(600), n, "a losing run leaves responses unprocessed")
}

func TestOverrideItemSurvivesRecalibration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	require.NoError(t, err)

	pinned := domain.Parameters{Difficulty: 2.5, Discrimination: 1}
	c, err := f.svc.OverrideItem(ctx, f.root, Override{
		ItemID: f.items[1], Status: domain.ItemParamStatusSetManually, Model: irt.ModelRasch, Params: pinned,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Context.ID, c.ParentID)
	assert.Equal(t, first.Context.Criterion, c.Criterion)

	before, err := f.st.Snapshot(ctx, first.Context.ID)
	require.NoError(t, err)
	after, err := f.st.Snapshot(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, after.Items, 6)
	assert.Equal(t, domain.ItemParamStatusSetManually, after.Items[f.items[1]].Status)
	assert.Equal(t, pinned, after.Items[f.items[1]].Params)
	assert.Equal(t, before.Items[f.items[0]].Params, after.Items[f.items[0]].Params)
	assert.Equal(t, c.ID, after.Items[f.items[0]].ContextID)
	assert.Len(t, after.Persons, 100)

	excluded, err := f.svc.OverrideItem(ctx, f.root, Override{ItemID: f.items[4], Status: domain.ItemParamStatusExcludedManually})
	require.NoError(t, err)

	rerun, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root, Force: true})
	require.NoError(t, err)
	assert.Equal(t, excluded.ID, rerun.Context.ParentID)

	snap, err := f.st.Snapshot(ctx, rerun.Context.ID)
	require.NoError(t, err)
	assert.Equal(t, pinned, snap.Items[f.items[1]].Params)
	assert.Equal(t, domain.ItemParamStatusSetManually, snap.Items[f.items[1]].Status)
	assert.Equal(t, domain.ItemParamStatusExcludedManually, snap.Items[f.items[4]].Status)
	assert.Equal(t, 4, rerun.Items[domain.ItemParamStatusCalculatedAutomatically])
}

func TestOverrideItemRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		scale   uuid.UUID
		o       Override
		wantErr error
	}{
		{
			name:    "automatic status",
			scale:   f.root,
			o:       Override{ItemID: f.items[0], Status: domain.ItemParamStatusCalculatedAutomatically},
			wantErr: ErrInvalidOverride,
		},
		{
			name:    "item on another scale",
			scale:   f.root,
			o:       Override{ItemID: f.stray, Status: domain.ItemParamStatusExcludedManually, Model: irt.ModelRasch, Params: domain.Parameters{Discrimination: 1}},
			wantErr: ErrItemOutsideScale,
		},
		{
			name:    "parent item on sub-scale",
			scale:   f.child,
			o:       Override{ItemID: f.items[0], Status: domain.ItemParamStatusExcludedManually},
			wantErr: ErrItemOutsideScale,
		},
		{
			name:    "exclusion without parameters",
			scale:   f.root,
			o:       Override{ItemID: f.items[0], Status: domain.ItemParamStatusExcludedManually},
			wantErr: ErrInvalidOverride,
		},
		{
			name:    "unknown model",
			scale:   f.root,
			o:       Override{ItemID: f.items[0], Status: domain.ItemParamStatusSetManually, Model: "nominal", Params: domain.Parameters{Discrimination: 1}},
			wantErr: ErrInvalidOverride,
		},
		{
			name:  "thresholds on a dichotomous model",
			scale: f.root,
			o: Override{ItemID: f.items[0], Status: domain.ItemParamStatusSetManually, Model: irt.ModelRasch, Params: domain.Parameters{
				Discrimination: 1, Thresholds: []domain.Threshold{{Fraction: 1, Difficulty: 0}},
			}},
			wantErr: ErrInvalidOverride,
		},
		{
			name:    "unknown item",
			scale:   f.root,
			o:       Override{ItemID: uuid.New(), Status: domain.ItemParamStatusExcludedManually},
			wantErr: store.ErrItemNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.OverrideItem(ctx, tt.scale, tt.o)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root})
	require.NoError(t, err)
	second, err := f.svc.Calibrate(ctx, Request{ScaleID: f.root, Force: true})
	require.NoError(t, err)

	got, err := f.svc.Rollback(ctx, f.root, first.Context.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Context.ID, got.ID)

	active, err := f.svc.Active(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, first.Context.ID, active.ID)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, first.Context.ID, last.ContextID)
	assert.Equal(t, second.Context.ID, last.ParentID)

	same, err := f.svc.Rollback(ctx, f.root, first.Context.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Context.ID, same.ID)

	_, err = f.svc.Rollback(ctx, f.root, uuid.New())
	assert.ErrorIs(t, err, store.ErrContextNotFound)
}
