package domain

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for ResponseRecord
var (
	ErrEmptyResponsePersonID = errors.New("response person ID cannot be empty")
	ErrEmptyResponseItemID   = errors.New("response item ID cannot be empty")
	ErrInvalidFraction       = errors.New("response fraction must lie in [0, 1]")
)

// ResponseRecord is one scored answer of a person to an item. Fraction
// encodes partial credit: 0 is wrong, 1 fully correct. Records are never
// modified once written.
type ResponseRecord struct {
	PersonID   uuid.UUID `json:"person_id"`
	ItemID     uuid.UUID `json:"item_id"`
	Fraction   float64   `json:"fraction"`
	AnsweredAt time.Time `json:"answered_at"`
}

// NewResponseRecord creates a validated response record stamped with the
// given time.
func NewResponseRecord(personID, itemID uuid.UUID, fraction float64, at time.Time) (ResponseRecord, error) {
	r := ResponseRecord{
		PersonID:   personID,
		ItemID:     itemID,
		Fraction:   fraction,
		AnsweredAt: at.UTC(),
	}
	if err := r.Validate(); err != nil {
		return ResponseRecord{}, err
	}
	return r, nil
}

// Validate checks if the ResponseRecord has valid data.
func (r ResponseRecord) Validate() error {
	if r.PersonID == uuid.Nil {
		return ErrEmptyResponsePersonID
	}
	if r.ItemID == uuid.Nil {
		return ErrEmptyResponseItemID
	}
	if math.IsNaN(r.Fraction) || r.Fraction < 0 || r.Fraction > 1 {
		return ErrInvalidFraction
	}
	return nil
}
