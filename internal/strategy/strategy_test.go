package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/testutils"
)

func newTestStrategy(t *testing.T, cfg Config) *Strategy {
	t.Helper()
	logger, _ := testutils.NewCaptureLogger()
	est, err := catcalc.NewEstimator(catcalc.Config{}, irt.DefaultTrustRegion(), irt.DefaultRegistry(), logger)
	require.NoError(t, err)
	s, err := New(cfg, est, logger)
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	est, err := catcalc.NewEstimator(catcalc.Config{}, irt.DefaultTrustRegion(), irt.DefaultRegistry(), nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"unknown criterion", Config{Criterion: "dic", Models: []string{irt.ModelRasch}}, ErrUnknownCriterion},
		{"no models", Config{Criterion: CriterionAIC}, ErrNoModels},
		{"unknown model", Config{Criterion: CriterionBIC, Models: []string{"nominal"}}, irt.ErrUnknownModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, est, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCandidatesFollowRegistryOrder(t *testing.T) {
	s := newTestStrategy(t, Config{
		Criterion: CriterionAIC,
		Models:    []string{irt.ModelGRMGeneralized, irt.ModelRaschBirnbaumA, irt.ModelRasch},
	})

	var names []string
	for _, m := range s.models {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{irt.ModelRasch, irt.ModelRaschBirnbaumA, irt.ModelGRMGeneralized}, names)
}

func TestBestBreaksTies(t *testing.T) {
	s := &Strategy{criterion: CriterionAIC}

	tests := []struct {
		name string
		fits []Fit
		want int
	}{
		{
			name: "lowest score wins",
			fits: []Fit{{Params: 1, AIC: 10}, {Params: 2, AIC: 8}},
			want: 1,
		},
		{
			name: "tie goes to fewer parameters",
			fits: []Fit{{Params: 2, AIC: 10}, {Params: 1, AIC: 10 + 1e-12}},
			want: 1,
		},
		{
			name: "full tie goes to the earlier candidate",
			fits: []Fit{{Params: 1, AIC: 10}, {Params: 1, AIC: 10}},
			want: 0,
		},
		{
			name: "failed fits never win",
			fits: []Fit{{Params: 1, AIC: 1, Err: catcalc.ErrNoResponses}, {Params: 2, AIC: 50}},
			want: 1,
		},
		{
			name: "nothing estimated",
			fits: []Fit{{Err: catcalc.ErrNoResponses}},
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.best(tt.fits))
		})
	}
}

func TestBestUsesConfiguredCriterion(t *testing.T) {
	fits := []Fit{{Params: 1, AIC: 10, BIC: 20}, {Params: 2, AIC: 9, BIC: 25}}

	assert.Equal(t, 1, (&Strategy{criterion: CriterionAIC}).best(fits))
	assert.Equal(t, 0, (&Strategy{criterion: CriterionBIC}).best(fits))
}

func TestPrefersGeneratingModel(t *testing.T) {
	t.Parallel()
	rng := testutils.NewRand(41)
	var items []testutils.SimItem
	for i := 0; i < 10; i++ {
		a := 0.4
		if i%2 == 1 {
			a = 2.5
		}
		items = append(items, testutils.SimItem{
			ID:     testutils.NewID(rng),
			Model:  irt.NewRaschBirnbaumA(),
			Params: domain.Parameters{Difficulty: -1 + 2*float64(i)/9, Discrimination: a},
		})
	}
	sample := testutils.Simulate(testutils.NewRand(42), items, testutils.NormalAbilities(testutils.NewRand(43), 1000))
	s := newTestStrategy(t, Config{Criterion: CriterionAIC, Models: []string{irt.ModelRasch, irt.ModelRaschBirnbaumA}})

	out, err := s.SelectBestModel(context.Background(), Input{ScaleID: uuid.New(), Responses: sample.Responses})
	require.NoError(t, err)

	var twoPL int
	for _, it := range items {
		if out.Selected[it.ID] == irt.ModelRaschBirnbaumA {
			twoPL++
		}
		require.Len(t, out.Fits[it.ID], 2)
	}
	assert.GreaterOrEqual(t, twoPL, 8)
	assert.Len(t, out.Items, 10)
	assert.Len(t, out.Persons, 1000)
	for _, p := range out.Persons {
		assert.Equal(t, out.Context.ID, p.ContextID)
		assert.False(t, math.IsNaN(p.Ability))
	}
}

func TestLockedParametersPassThrough(t *testing.T) {
	rng := testutils.NewRand(51)
	var items []testutils.SimItem
	for i := 0; i < 6; i++ {
		items = append(items, testutils.SimItem{
			ID:     testutils.NewID(rng),
			Model:  irt.NewRasch(),
			Params: domain.Parameters{Difficulty: -1.5 + 0.6*float64(i), Discrimination: 1},
		})
	}
	sample := testutils.Simulate(testutils.NewRand(52), items, testutils.NormalAbilities(testutils.NewRand(53), 300))

	parent := uuid.New()
	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	manual := domain.ItemParam{
		ItemID:    items[0].ID,
		ContextID: parent,
		Model:     irt.ModelRaschBirnbaumA,
		Params:    domain.Parameters{Difficulty: 4.2, Discrimination: 0.5},
		Status:    domain.ItemParamStatusSetManually,
		UpdatedAt: updated,
	}
	excluded := domain.ItemParam{
		ItemID:    items[1].ID,
		ContextID: parent,
		Model:     irt.ModelRasch,
		Params:    domain.Parameters{Difficulty: -5, Discrimination: 1},
		Status:    domain.ItemParamStatusExcludedManually,
		UpdatedAt: updated,
	}
	prior := map[uuid.UUID]domain.ItemParam{manual.ItemID: manual, excluded.ItemID: excluded}

	s := newTestStrategy(t, Config{Criterion: CriterionBIC, Models: []string{irt.ModelRasch, irt.ModelRaschBirnbaumA}})
	out, err := s.SelectBestModel(context.Background(), Input{
		ScaleID:   uuid.New(),
		ParentID:  parent,
		Name:      "nightly",
		Responses: sample.Responses,
		Prior:     prior,
	})
	require.NoError(t, err)

	assert.Equal(t, parent, out.Context.ParentID)
	assert.NotEqual(t, parent, out.Context.ID)
	assert.Equal(t, "nightly", out.Context.Name)
	assert.Equal(t, CriterionBIC, out.Context.Criterion)

	byID := make(map[uuid.UUID]domain.ItemParam)
	for _, ip := range out.Items {
		assert.Equal(t, out.Context.ID, ip.ContextID)
		byID[ip.ItemID] = ip
	}
	require.Len(t, byID, 6)

	for _, want := range []domain.ItemParam{manual, excluded} {
		got := byID[want.ItemID]
		assert.Equal(t, want.Model, got.Model)
		assert.Equal(t, want.Params, got.Params)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, updated, got.UpdatedAt)
		assert.NotContains(t, out.Fits, want.ItemID)
		assert.NotContains(t, out.Selected, want.ItemID)
	}
	for _, it := range items[2:] {
		assert.Equal(t, domain.ItemParamStatusCalculatedAutomatically, byID[it.ID].Status)
	}
	assert.Equal(t, 4.2, manual.Params.Difficulty, "prior must not be mutated")
}

func TestUnestimableItemsKeepPriorOrBecomeNotCalculated(t *testing.T) {
	persons := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	carried := uuid.New()
	fresh := uuid.New()
	varied := uuid.New()
	other := uuid.New()
	now := time.Now()

	var responses []domain.ResponseRecord
	for i, p := range persons {
		responses = append(responses,
			domain.ResponseRecord{PersonID: p, ItemID: carried, Fraction: 1, AnsweredAt: now},
			domain.ResponseRecord{PersonID: p, ItemID: fresh, Fraction: 0, AnsweredAt: now},
			domain.ResponseRecord{PersonID: p, ItemID: varied, Fraction: float64(i % 2), AnsweredAt: now},
			domain.ResponseRecord{PersonID: p, ItemID: other, Fraction: float64((i / 2) % 2), AnsweredAt: now},
		)
	}
	prior := map[uuid.UUID]domain.ItemParam{
		carried: {
			ItemID: carried,
			Model:  irt.ModelRasch,
			Params: domain.Parameters{Difficulty: -2.5, Discrimination: 1},
			Status: domain.ItemParamStatusCalculatedAutomatically,
		},
	}

	s := newTestStrategy(t, Config{Criterion: CriterionAIC, Models: []string{irt.ModelRasch}})
	out, err := s.SelectBestModel(context.Background(), Input{ScaleID: uuid.New(), Responses: responses, Prior: prior})
	require.NoError(t, err)

	byID := make(map[uuid.UUID]domain.ItemParam)
	for _, ip := range out.Items {
		byID[ip.ItemID] = ip
	}
	assert.Equal(t, domain.ItemParamStatusCalculatedAutomatically, byID[carried].Status)
	assert.Equal(t, -2.5, byID[carried].Params.Difficulty)
	assert.Equal(t, out.Context.ID, byID[carried].ContextID)
	assert.NotContains(t, out.Selected, carried)

	assert.Equal(t, domain.ItemParamStatusNotCalculated, byID[fresh].Status)
	assert.Equal(t, irt.ModelRasch, byID[fresh].Model)
	assert.NotContains(t, out.Selected, fresh)

	assert.Equal(t, irt.ModelRasch, out.Selected[varied])
	assert.Len(t, out.Persons, 4)
}

func TestSelectBestModelHonoursCancellation(t *testing.T) {
	sample := testutils.Simulate(testutils.NewRand(61), []testutils.SimItem{{
		ID:     uuid.New(),
		Model:  irt.NewRasch(),
		Params: domain.Parameters{Discrimination: 1},
	}}, testutils.NormalAbilities(testutils.NewRand(62), 20))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newTestStrategy(t, DefaultConfig()).SelectBestModel(ctx, Input{ScaleID: uuid.New(), Responses: sample.Responses})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestSelectBestModelRequiresResponses(t *testing.T) {
	_, err := newTestStrategy(t, DefaultConfig()).SelectBestModel(context.Background(), Input{ScaleID: uuid.New()})
	assert.ErrorIs(t, err, catcalc.ErrNoResponses)
}
