package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemParamStatus records who produced an item parameter and whether the
// estimator may overwrite it.
type ItemParamStatus string

// Possible item parameter status values
const (
	ItemParamStatusNotCalculated           ItemParamStatus = "not_calculated"
	ItemParamStatusCalculatedAutomatically ItemParamStatus = "calculated_automatically"
	ItemParamStatusSetManually             ItemParamStatus = "set_manually"
	ItemParamStatusExcludedManually        ItemParamStatus = "excluded_manually"
)

// Common validation errors for ItemParam
var (
	ErrEmptyItemParamItemID = errors.New("item param item ID cannot be empty")
	ErrEmptyItemParamModel  = errors.New("item param model cannot be empty")
	ErrInvalidItemStatus    = errors.New("invalid item param status")
)

// ItemParam is the calibrated parameter set of one item under one model.
// Within a context there is at most one ItemParam per (item, model).
type ItemParam struct {
	ItemID        uuid.UUID       `json:"item_id"`
	ContextID     uuid.UUID       `json:"context_id"`
	Model         string          `json:"model"`
	Params        Parameters      `json:"params"`
	Status        ItemParamStatus `json:"status"`
	StandardError float64         `json:"standard_error"`
	ResponseCount int             `json:"response_count"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks if the ItemParam has valid data.
func (p *ItemParam) Validate() error {
	if p.ItemID == uuid.Nil {
		return ErrEmptyItemParamItemID
	}
	if p.Model == "" {
		return ErrEmptyItemParamModel
	}
	if !IsValidItemParamStatus(p.Status) {
		return ErrInvalidItemStatus
	}
	if err := p.Params.Validate(); err != nil {
		return fmt.Errorf("item %s: %w", p.ItemID, err)
	}
	return nil
}

// Locked reports whether the parameter was set or excluded by hand and
// therefore must survive recalibration untouched.
func (p *ItemParam) Locked() bool {
	return p.Status.Locked()
}

// Usable reports whether the parameter can drive ability estimation and
// item selection.
func (p *ItemParam) Usable() bool {
	return p.Status == ItemParamStatusCalculatedAutomatically || p.Status == ItemParamStatusSetManually
}

// Locked reports whether the status forbids automatic overwrites.
func (s ItemParamStatus) Locked() bool {
	return s == ItemParamStatusSetManually || s == ItemParamStatusExcludedManually
}

// IsValidItemParamStatus checks if the given status is a valid ItemParamStatus.
func IsValidItemParamStatus(status ItemParamStatus) bool {
	switch status {
	case ItemParamStatusNotCalculated, ItemParamStatusCalculatedAutomatically,
		ItemParamStatusSetManually, ItemParamStatusExcludedManually:
		return true
	default:
		return false
	}
}

// PersonParam is the ability estimate of one person on one scale within a
// context.
type PersonParam struct {
	PersonID      uuid.UUID `json:"person_id"`
	ScaleID       uuid.UUID `json:"scale_id"`
	ContextID     uuid.UUID `json:"context_id"`
	Ability       float64   `json:"ability"`
	StandardError float64   `json:"standard_error"`
	ResponseCount int       `json:"response_count"`
}
