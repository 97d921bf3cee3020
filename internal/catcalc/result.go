package catcalc

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
)

// ItemResult is the outcome of one item. Exactly one of the following holds:
// the item was estimated (Err nil, Skipped and Locked false), re-estimation
// failed (Err set), it lacked data (Skipped) or it was held by hand (Locked).
type ItemResult struct {
	ItemID        uuid.UUID
	Model         string
	Params        domain.Parameters
	Status        domain.ItemParamStatus
	Converged     bool
	Skipped       bool
	Locked        bool
	Err           error
	Iterations    int
	LogLikelihood float64
	ResponseCount int
	StandardError float64
}

// Estimated reports whether the parameters in the result were produced by
// this run.
func (r ItemResult) Estimated() bool {
	return r.Err == nil && !r.Skipped && !r.Locked
}

// PersonResult is the ability estimate of one person.
type PersonResult struct {
	PersonID      uuid.UUID
	Ability       float64
	StandardError float64
	Converged     bool
	Err           error
	ResponseCount int
}

// Result is the outcome of fitting one model to a calibration sample. Items
// and Persons are ordered by id.
type Result struct {
	Model         string
	Items         []ItemResult
	Persons       []PersonResult
	Converged     bool
	Rounds        int
	LogLikelihood float64
	ResponseCount int
}

// Item returns the result for one item.
func (r *Result) Item(id uuid.UUID) (ItemResult, bool) {
	for _, it := range r.Items {
		if it.ItemID == id {
			return it, true
		}
	}
	return ItemResult{}, false
}

// Failed counts items whose re-estimation failed.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// ItemParams converts the item results into parameters of the given context.
func (r *Result) ItemParams(contextID uuid.UUID, now time.Time) []domain.ItemParam {
	out := make([]domain.ItemParam, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, domain.ItemParam{
			ItemID:        it.ItemID,
			ContextID:     contextID,
			Model:         it.Model,
			Params:        it.Params.Clone(),
			Status:        it.Status,
			StandardError: it.StandardError,
			ResponseCount: it.ResponseCount,
			UpdatedAt:     now.UTC(),
		})
	}
	return out
}

// PersonParams converts the person results into parameters of the given
// scale and context.
func (r *Result) PersonParams(scaleID, contextID uuid.UUID) []domain.PersonParam {
	out := make([]domain.PersonParam, 0, len(r.Persons))
	for _, p := range r.Persons {
		out = append(out, domain.PersonParam{
			PersonID:      p.PersonID,
			ScaleID:       scaleID,
			ContextID:     contextID,
			Ability:       p.Ability,
			StandardError: p.StandardError,
			ResponseCount: p.ResponseCount,
		})
	}
	return out
}
