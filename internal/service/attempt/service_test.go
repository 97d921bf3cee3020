package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/metrics"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/store"
	"github.com/phrazzld/scry-cat/internal/testdb"
	"github.com/phrazzld/scry-cat/internal/testutils"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st      store.Store
	svc     *Service
	metrics *metrics.Metrics
	root    uuid.UUID
	child   uuid.UUID
	items   []uuid.UUID // three on root, one on child
	context domain.Context
}

func newFixture(t *testing.T, cfg selector.Config) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{st: testdb.NewStore(t), metrics: metrics.New(), root: uuid.New(), child: uuid.New()}
	require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: f.root, Name: "math"}))
	require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: f.child, ParentID: f.root, Name: "algebra"}))

	f.context = domain.Context{ID: uuid.New(), ScaleID: f.root, Name: "seed", CreatedAt: testNow}
	var params []domain.ItemParam
	for i, b := range []float64{-1, 0, 1, 0.5} {
		scale := f.root
		if i == 3 {
			scale = f.child
		}
		id := uuid.New()
		require.NoError(t, f.st.CreateItem(ctx, domain.Item{ID: id, ScaleID: scale, Active: true}))
		f.items = append(f.items, id)
		params = append(params, domain.ItemParam{
			ItemID:        id,
			ContextID:     f.context.ID,
			Model:         irt.ModelRasch,
			Params:        domain.Parameters{Difficulty: b, Discrimination: 1},
			Status:        domain.ItemParamStatusCalculatedAutomatically,
			StandardError: 0.2,
			ResponseCount: 50,
			UpdatedAt:     testNow,
		})
	}
	require.NoError(t, f.st.Publish(ctx, f.context, params, nil))

	logger, _ := testutils.NewCaptureLogger()
	sel, err := selector.New(cfg, irt.DefaultRegistry(), logger)
	require.NoError(t, err)
	f.svc, err = New(f.st, sel, f.metrics, logger)
	require.NoError(t, err)
	return f
}

// value reads a counter or gauge from the registry. Label filters are
// name, value pairs.
func (f *fixture) value(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				var found bool
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func (f *fixture) decisions(t *testing.T, outcome string) float64 {
	return f.value(t, "scrycat_selector_decisions_total", "outcome", outcome)
}

func (f *fixture) active(t *testing.T) float64 {
	return f.value(t, "scrycat_selector_active_attempts")
}

func noEarlyStop(maxQuestions int) selector.Config {
	return selector.Config{
		MaxQuestions:          maxQuestions,
		StandardErrorStrategy: selector.StandardErrorDisabled,
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestStart(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()
	person := uuid.New()

	state, err := f.svc.Start(ctx, person, f.root)

	require.NoError(t, err)
	assert.Equal(t, person, state.PersonID)
	assert.Equal(t, f.root, state.ScaleID)
	assert.Equal(t, f.context.ID, state.ContextID)
	assert.Equal(t, domain.AttemptStatusAwaitingFirstItem, state.Status)

	got, err := f.svc.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, state, got)
	assert.Equal(t, 1.0, f.active(t))

	t.Run("unknown scale", func(t *testing.T) {
		_, err := f.svc.Start(ctx, person, uuid.New())
		assert.ErrorIs(t, err, store.ErrScaleNotFound)
	})

	t.Run("scale never calibrated", func(t *testing.T) {
		bare := uuid.New()
		require.NoError(t, f.st.CreateScale(ctx, domain.Scale{ID: bare, Name: "bare"}))
		_, err := f.svc.Start(ctx, person, bare)
		assert.ErrorIs(t, err, ErrNoActiveContext)
	})

	t.Run("unknown attempt", func(t *testing.T) {
		_, err := f.svc.Get(uuid.New())
		assert.ErrorIs(t, err, ErrAttemptNotFound)
		_, _, err = f.svc.Next(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAttemptNotFound)
		_, err = f.svc.Respond(ctx, uuid.New(), uuid.New(), 1)
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})
}

func TestAttemptRunsToMaximum(t *testing.T) {
	f := newFixture(t, noEarlyStop(3))
	ctx := context.Background()
	person := uuid.New()
	state, err := f.svc.Start(ctx, person, f.root)
	require.NoError(t, err)

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		res, _, err := f.svc.Next(ctx, state.ID)
		require.NoError(t, err)
		require.False(t, res.Terminated(), "question %d", i)
		assert.False(t, seen[res.Item.ItemID], "item issued twice")
		seen[res.Item.ItemID] = true

		again, _, err := f.svc.Next(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, res.Item.ItemID, again.Item.ItemID, "pending item is reissued")

		state, err = f.svc.Respond(ctx, state.ID, res.Item.ItemID, float64(i%2))
		require.NoError(t, err)
		assert.Len(t, state.History, i+1)
	}

	res, final, err := f.svc.Next(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationReachedMaximumQuestions, res.Reason)
	assert.True(t, final.Terminated())
	assert.Equal(t, 0.0, f.active(t))

	// Asking again keeps the stored reason without counting a new decision.
	res, _, err = f.svc.Next(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationReachedMaximumQuestions, res.Reason)
	assert.Equal(t, 1.0, f.decisions(t, string(domain.TerminationReachedMaximumQuestions)))
	assert.Equal(t, 6.0, f.decisions(t, metrics.DecisionIssued))
	assert.Equal(t, 3.0, f.value(t, "scrycat_selector_responses_total"))

	responses, err := f.st.ListResponses(ctx, store.ResponseFilter{ScaleIDs: []uuid.UUID{f.root, f.child}})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	for _, r := range responses {
		assert.Equal(t, person, r.PersonID)
		assert.True(t, seen[r.ItemID])
	}

	pool, err := f.st.Pool(ctx, []uuid.UUID{f.root, f.child}, person)
	require.NoError(t, err)
	var attempted int
	for _, it := range pool {
		if !it.LastAttemptedAt.IsZero() {
			attempted++
		}
	}
	assert.Equal(t, 3, attempted)
}

func TestAttemptOnSubscale(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()

	// The child scale has no context of its own.
	_, err := f.svc.Start(ctx, uuid.New(), f.child)
	assert.ErrorIs(t, err, ErrNoActiveContext)

	state, err := f.svc.Start(ctx, uuid.New(), f.root)
	require.NoError(t, err)
	var issued []uuid.UUID
	for {
		res, _, err := f.svc.Next(ctx, state.ID)
		require.NoError(t, err)
		if res.Terminated() {
			assert.Equal(t, domain.TerminationNoRemainingQuestions, res.Reason)
			break
		}
		issued = append(issued, res.Item.ItemID)
		state, err = f.svc.Respond(ctx, state.ID, res.Item.ItemID, 1)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, f.items, issued, "sub-scale items belong to the root attempt")
	assert.Contains(t, state.Abilities, f.child)
	assert.Equal(t, 1, state.Abilities[f.child].Count)
	assert.Equal(t, 4, state.Abilities[f.root].Count)
}

func TestRespondRejections(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()
	state, err := f.svc.Start(ctx, uuid.New(), f.root)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, state.ID, f.items[0], 1)
	assert.ErrorIs(t, err, selector.ErrItemNotIssued)

	res, _, err := f.svc.Next(ctx, state.ID)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, state.ID, res.Item.ItemID, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidFraction)

	got, err := f.svc.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Item.ItemID, got.PendingItem, "rejected answers leave the attempt unchanged")
	assert.Empty(t, got.History)
}

type failingStore struct {
	store.Store
}

var errWrite = errors.New("disk full")

func (failingStore) AddResponse(context.Context, domain.ResponseRecord) error { return errWrite }

func TestRespondKeepsStateWhenStoreFails(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()
	f.svc.store = failingStore{Store: f.st}

	state, err := f.svc.Start(ctx, uuid.New(), f.root)
	require.NoError(t, err)
	res, _, err := f.svc.Next(ctx, state.ID)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, state.ID, res.Item.ItemID, 1)
	assert.ErrorIs(t, err, errWrite)

	got, err := f.svc.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Item.ItemID, got.PendingItem)
	assert.Empty(t, got.History)
}

func TestAttemptKeepsBoundContext(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()
	state, err := f.svc.Start(ctx, uuid.New(), f.root)
	require.NoError(t, err)
	_, _, err = f.svc.Next(ctx, state.ID)
	require.NoError(t, err)

	// A newer context drops every item but the first.
	next := domain.Context{ID: uuid.New(), ScaleID: f.root, ParentID: f.context.ID, CreatedAt: testNow.Add(time.Hour)}
	require.NoError(t, f.st.Publish(ctx, next, []domain.ItemParam{{
		ItemID:    f.items[0],
		ContextID: next.ID,
		Model:     irt.ModelRasch,
		Params:    domain.Parameters{Discrimination: 1},
		Status:    domain.ItemParamStatusCalculatedAutomatically,
	}}, nil))

	var n int
	for {
		res, current, err := f.svc.Next(ctx, state.ID)
		require.NoError(t, err)
		assert.Equal(t, f.context.ID, current.ContextID)
		if res.Terminated() {
			break
		}
		n++
		_, err = f.svc.Respond(ctx, state.ID, res.Item.ItemID, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, n)

	fresh, err := f.svc.Start(ctx, uuid.New(), f.root)
	require.NoError(t, err)
	assert.Equal(t, next.ID, fresh.ContextID)
}

func TestConcurrentAttempts(t *testing.T) {
	f := newFixture(t, noEarlyStop(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := f.svc.Start(ctx, uuid.New(), f.root)
			if err != nil {
				errs <- err
				return
			}
			for {
				res, _, err := f.svc.Next(ctx, state.ID)
				if err != nil {
					errs <- err
					return
				}
				if res.Terminated() {
					return
				}
				if _, err := f.svc.Respond(ctx, state.ID, res.Item.ItemID, 1); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	responses, err := f.st.ListResponses(ctx, store.ResponseFilter{ScaleIDs: []uuid.UUID{f.root, f.child}})
	require.NoError(t, err)
	assert.Len(t, responses, 16)
	assert.Equal(t, 0.0, f.active(t))
}

func TestForget(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	state, err := f.svc.Start(context.Background(), uuid.New(), f.root)
	require.NoError(t, err)

	f.svc.Forget(state.ID)

	_, err = f.svc.Get(state.ID)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.Equal(t, 0.0, f.active(t))
}

func TestHandleEventPreloadsContext(t *testing.T) {
	f := newFixture(t, noEarlyStop(0))
	ctx := context.Background()

	event, err := events.NewEvent(events.TypeContextPublished, events.ContextPublished{ScaleID: f.root, ContextID: f.context.ID})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleEvent(ctx, event))
	assert.Contains(t, f.svc.snapshots, f.context.ID)

	ignored, err := events.NewEvent(events.TypeCalibrationRequested, events.CalibrationRequested{ScaleID: f.root})
	require.NoError(t, err)
	assert.NoError(t, f.svc.HandleEvent(ctx, ignored))

	missing, err := events.NewEvent(events.TypeContextPublished, events.ContextPublished{ScaleID: f.root, ContextID: uuid.New()})
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.HandleEvent(ctx, missing), store.ErrContextNotFound)
}
