package testutils

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
)

// SimItem is an item with its generating model and parameters.
type SimItem struct {
	ID     uuid.UUID
	Model  irt.Model
	Params domain.Parameters
}

// Sample is a simulated calibration sample.
type Sample struct {
	Items     []SimItem
	Abilities map[uuid.UUID]float64
	Responses []domain.ResponseRecord
}

// NewRand returns a deterministic random source for simulations.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// NormalAbilities draws n abilities from N(0, 1). Person ids come from rng
// too, so equal seeds give equal samples.
func NormalAbilities(rng *rand.Rand, n int) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, n)
	for i := 0; i < n; i++ {
		out[NewID(rng)] = rng.NormFloat64()
	}
	return out
}

// NewID returns a version 4 UUID drawn from rng.
func NewID(rng *rand.Rand) uuid.UUID {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		panic(err)
	}
	return id
}

// Simulate lets every person answer every item once. Responses are drawn
// from the item's category probabilities at the person's ability.
func Simulate(rng *rand.Rand, items []SimItem, abilities map[uuid.UUID]float64) Sample {
	s := Sample{Items: items, Abilities: abilities}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 0, len(abilities))
	for id := range abilities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, pid := range ids {
		theta := abilities[pid]
		for _, it := range items {
			s.Responses = append(s.Responses, domain.ResponseRecord{
				PersonID:   pid,
				ItemID:     it.ID,
				Fraction:   Draw(rng, it.Model, it.Params, theta),
				AnsweredAt: at,
			})
		}
	}
	return s
}

// Draw samples one response fraction for an item at ability theta.
func Draw(rng *rand.Rand, m irt.Model, p domain.Parameters, theta float64) float64 {
	cats := []float64{0, 1}
	if m.Polytomous() {
		cats = p.Fractions()
	}
	u := rng.Float64()
	var acc float64
	for _, x := range cats {
		acc += m.Likelihood(theta, p, x)
		if u < acc {
			return x
		}
	}
	return cats[len(cats)-1]
}

// Correlation returns the Pearson correlation of two equally long series.
func Correlation(a, b []float64) float64 {
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var sab, saa, sbb float64
	for i := range a {
		sab += (a[i] - ma) * (b[i] - mb)
		saa += (a[i] - ma) * (a[i] - ma)
		sbb += (b[i] - mb) * (b[i] - mb)
	}
	return sab / math.Sqrt(saa*sbb)
}
