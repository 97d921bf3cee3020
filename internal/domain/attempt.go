package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the position of an attempt in its state machine.
type AttemptStatus string

// Possible attempt status values
const (
	AttemptStatusAwaitingFirstItem AttemptStatus = "awaiting_first_item"
	AttemptStatusInProgress        AttemptStatus = "in_progress"
	AttemptStatusTerminated        AttemptStatus = "terminated"
)

// TerminationReason explains why an attempt stopped issuing items.
type TerminationReason string

// Possible termination reasons, in the order they are checked
const (
	TerminationNone                    TerminationReason = ""
	TerminationReachedMaximumQuestions TerminationReason = "reached_maximum_questions"
	TerminationNoRemainingQuestions    TerminationReason = "no_remaining_questions"
	TerminationStandardErrorReached    TerminationReason = "standard_error_reached"
	TerminationTimeLimitReached        TerminationReason = "time_limit_reached"
)

// Common validation errors for AttemptState
var (
	ErrEmptyAttemptID       = errors.New("attempt ID cannot be empty")
	ErrEmptyAttemptPersonID = errors.New("attempt person ID cannot be empty")
	ErrEmptyAttemptScaleID  = errors.New("attempt scale ID cannot be empty")
	ErrInvalidAttemptStatus = errors.New("invalid attempt status")
)

// AbilityEstimate is the running ability of the examinee on one scale.
// StandardError is +Inf until an item carrying information was answered.
type AbilityEstimate struct {
	Ability       float64 `json:"ability"`
	StandardError float64 `json:"standard_error"`
	Count         int     `json:"count"`
}

// AttemptEntry is one administered item of an attempt.
type AttemptEntry struct {
	ItemID     uuid.UUID `json:"item_id"`
	ScaleID    uuid.UUID `json:"scale_id"`
	Fraction   float64   `json:"fraction"`
	AnsweredAt time.Time `json:"answered_at"`
}

// AttemptState is the live state of one adaptive test attempt. Values are
// treated as immutable: every transition returns a fresh copy built with
// Clone, so earlier states can be kept or compared safely.
type AttemptState struct {
	ID          uuid.UUID                     `json:"id"`
	PersonID    uuid.UUID                     `json:"person_id"`
	ScaleID     uuid.UUID                     `json:"scale_id"`
	ContextID   uuid.UUID                     `json:"context_id"`
	Status      AttemptStatus                 `json:"status"`
	Reason      TerminationReason             `json:"reason,omitempty"`
	Abilities   map[uuid.UUID]AbilityEstimate `json:"abilities"`
	History     []AttemptEntry                `json:"history"`
	PendingItem uuid.UUID                     `json:"pending_item"`
	StartedAt   time.Time                     `json:"started_at"`
}

// NewAttemptState creates an attempt awaiting its first item.
func NewAttemptState(personID, scaleID, contextID uuid.UUID, now time.Time) (*AttemptState, error) {
	a := &AttemptState{
		ID:        uuid.New(),
		PersonID:  personID,
		ScaleID:   scaleID,
		ContextID: contextID,
		Status:    AttemptStatusAwaitingFirstItem,
		Abilities: make(map[uuid.UUID]AbilityEstimate),
		StartedAt: now.UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks if the AttemptState has valid data.
func (a *AttemptState) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyAttemptID
	}
	if a.PersonID == uuid.Nil {
		return ErrEmptyAttemptPersonID
	}
	if a.ScaleID == uuid.Nil {
		return ErrEmptyAttemptScaleID
	}
	switch a.Status {
	case AttemptStatusAwaitingFirstItem, AttemptStatusInProgress, AttemptStatusTerminated:
	default:
		return ErrInvalidAttemptStatus
	}
	return nil
}

// Clone returns a deep copy of the state.
func (a *AttemptState) Clone() *AttemptState {
	c := *a
	c.Abilities = make(map[uuid.UUID]AbilityEstimate, len(a.Abilities))
	for k, v := range a.Abilities {
		c.Abilities[k] = v
	}
	c.History = append([]AttemptEntry(nil), a.History...)
	return &c
}

// Administered reports whether the item was already answered in this attempt.
func (a *AttemptState) Administered(itemID uuid.UUID) bool {
	for _, e := range a.History {
		if e.ItemID == itemID {
			return true
		}
	}
	return false
}

// CountOnScale returns how many answered items count towards the scale. An
// item counts towards its own scale and every ancestor of it.
func (a *AttemptState) CountOnScale(scaleID uuid.UUID) int {
	return a.Abilities[scaleID].Count
}

// Terminated reports whether the attempt reached its final state.
func (a *AttemptState) Terminated() bool {
	return a.Status == AttemptStatusTerminated
}
