package api

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
	"github.com/phrazzld/scry-cat/internal/task"
)

// StartAttemptRequest defines the payload for opening an attempt.
type StartAttemptRequest struct {
	PersonID string `json:"person_id" validate:"required,uuid"`
	ScaleID  string `json:"scale_id"  validate:"required,uuid"`
}

// RespondRequest carries the scored answer to the pending item. Fraction is
// a pointer so that an explicit 0 passes the required check.
type RespondRequest struct {
	ItemID   string   `json:"item_id"  validate:"required,uuid"`
	Fraction *float64 `json:"fraction" validate:"required,gte=0,lte=1"`
}

// CalibrationRequest is the optional body of a calibration trigger.
type CalibrationRequest struct {
	Force bool   `json:"force"`
	Name  string `json:"name" validate:"max=200"`
}

// OverrideRequest replaces the parameters of one item.
type OverrideRequest struct {
	Status string             `json:"status" validate:"required,oneof=set_manually excluded_manually not_calculated"`
	Model  string             `json:"model"  validate:"max=64"`
	Params *domain.Parameters `json:"params"`
}

// ruleError is a cross-field validation failure whose text is safe to
// return to the client.
type ruleError string

func (e ruleError) Error() string { return string(e) }

// Validate checks rules the struct tags cannot express.
func (o OverrideRequest) Validate() error {
	if o.Status == string(domain.ItemParamStatusSetManually) && (o.Model == "" || o.Params == nil) {
		return ruleError("set_manually requires model and params")
	}
	if o.Params != nil && o.Model == "" {
		return ruleError("params require a model")
	}
	return nil
}

// RollbackRequest points a scale back at an earlier context.
type RollbackRequest struct {
	ContextID string `json:"context_id" validate:"required,uuid"`
}

// AbilityResponse is one scale estimate of an attempt. A standard error of
// null means no answer carried information yet.
type AbilityResponse struct {
	ScaleID       uuid.UUID `json:"scale_id"`
	Ability       float64   `json:"ability"`
	StandardError *float64  `json:"standard_error"`
	Count         int       `json:"count"`
}

// AttemptResponse describes an attempt.
type AttemptResponse struct {
	ID            uuid.UUID         `json:"id"`
	PersonID      uuid.UUID         `json:"person_id"`
	ScaleID       uuid.UUID         `json:"scale_id"`
	ContextID     uuid.UUID         `json:"context_id"`
	Status        string            `json:"status"`
	Reason        string            `json:"termination_reason,omitempty"`
	PendingItemID *uuid.UUID        `json:"pending_item_id,omitempty"`
	Answered      int               `json:"answered"`
	Abilities     []AbilityResponse `json:"abilities"`
	StartedAt     time.Time         `json:"started_at"`
}

// IssuedItemResponse is the item handed to the person.
type IssuedItemResponse struct {
	ItemID  uuid.UUID         `json:"item_id"`
	ScaleID uuid.UUID         `json:"scale_id"`
	Model   string            `json:"model"`
	Params  domain.Parameters `json:"params"`
}

// NextItemResponse is either an item or the reason the attempt stopped.
type NextItemResponse struct {
	Item    *IssuedItemResponse `json:"item,omitempty"`
	Reason  string              `json:"termination_reason,omitempty"`
	Attempt AttemptResponse     `json:"attempt"`
}

// ContextResponse describes a published context.
type ContextResponse struct {
	ID        uuid.UUID  `json:"id"`
	ScaleID   uuid.UUID  `json:"scale_id"`
	ParentID  *uuid.UUID `json:"parent_id"`
	Name      string     `json:"name"`
	Criterion string     `json:"criterion"`
	Converged bool       `json:"converged"`
	CreatedAt time.Time  `json:"created_at"`
}

// CalibrationAcceptedResponse acknowledges a queued calibration.
type CalibrationAcceptedResponse struct {
	TaskID  uuid.UUID `json:"task_id"`
	ScaleID uuid.UUID `json:"scale_id"`
	Status  string    `json:"status"`
}

// HealthResponse reports liveness and database reachability.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// finite returns nil for values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func attemptToResponse(s *domain.AttemptState) AttemptResponse {
	resp := AttemptResponse{
		ID:        s.ID,
		PersonID:  s.PersonID,
		ScaleID:   s.ScaleID,
		ContextID: s.ContextID,
		Status:    string(s.Status),
		Reason:    string(s.Reason),
		Answered:  len(s.History),
		Abilities: make([]AbilityResponse, 0, len(s.Abilities)),
		StartedAt: s.StartedAt,
	}
	if s.PendingItem != uuid.Nil {
		pending := s.PendingItem
		resp.PendingItemID = &pending
	}
	for scaleID, est := range s.Abilities {
		resp.Abilities = append(resp.Abilities, AbilityResponse{
			ScaleID:       scaleID,
			Ability:       est.Ability,
			StandardError: finite(est.StandardError),
			Count:         est.Count,
		})
	}
	sort.Slice(resp.Abilities, func(i, j int) bool {
		return resp.Abilities[i].ScaleID.String() < resp.Abilities[j].ScaleID.String()
	})
	return resp
}

func nextToResponse(res selector.Result, s *domain.AttemptState) NextItemResponse {
	resp := NextItemResponse{Attempt: attemptToResponse(s)}
	if res.Terminated() {
		resp.Reason = string(res.Reason)
		return resp
	}
	resp.Item = &IssuedItemResponse{
		ItemID:  res.Item.ItemID,
		ScaleID: res.ScaleID,
		Model:   res.Item.Model,
		Params:  res.Item.Params,
	}
	return resp
}

func contextToResponse(c *domain.Context) ContextResponse {
	resp := ContextResponse{
		ID:        c.ID,
		ScaleID:   c.ScaleID,
		Name:      c.Name,
		Criterion: c.Criterion,
		Converged: c.Converged,
		CreatedAt: c.CreatedAt,
	}
	if c.ParentID != uuid.Nil {
		parent := c.ParentID
		resp.ParentID = &parent
	}
	return resp
}

func taskToResponse(t *task.CalibrationTask) CalibrationAcceptedResponse {
	return CalibrationAcceptedResponse{TaskID: t.ID(), ScaleID: t.ScaleID(), Status: string(t.Status())}
}

func (o OverrideRequest) toOverride(itemID uuid.UUID) calibration.Override {
	out := calibration.Override{
		ItemID: itemID,
		Status: domain.ItemParamStatus(o.Status),
		Model:  o.Model,
	}
	if o.Params != nil {
		out.Params = o.Params.Clone()
	}
	return out
}
