package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/service/calibration"
)

// ErrSuperseded is returned by a calibration task that was replaced by a
// newer request for the same scale.
var ErrSuperseded = errors.New("calibration superseded by a newer request")

// Calibrator runs one calibration.
type Calibrator interface {
	Calibrate(ctx context.Context, req calibration.Request) (*calibration.Report, error)
}

// CalibrationTask is one queued calibration request.
type CalibrationTask struct {
	id         uuid.UUID
	req        calibration.Request
	calibrator Calibrator
	timeout    time.Duration
	done       func(*CalibrationTask)

	mu         sync.Mutex
	status     TaskStatus
	superseded bool
	cancel     context.CancelFunc
	report     *calibration.Report
	err        error
}

// NewCalibrationTask builds a pending task. A zero timeout means the run is
// only bounded by the context it executes under.
func NewCalibrationTask(req calibration.Request, calibrator Calibrator, timeout time.Duration) *CalibrationTask {
	return &CalibrationTask{
		id:         uuid.New(),
		req:        req,
		calibrator: calibrator,
		timeout:    timeout,
		status:     TaskStatusPending,
	}
}

// ID returns the task's unique identifier
func (t *CalibrationTask) ID() uuid.UUID { return t.id }

// Type returns TaskTypeCalibration.
func (t *CalibrationTask) Type() string { return TaskTypeCalibration }

// ScaleID returns the scale being calibrated.
func (t *CalibrationTask) ScaleID() uuid.UUID { return t.req.ScaleID }

// Status returns the current task status
func (t *CalibrationTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the report and error of a finished run.
func (t *CalibrationTask) Result() (*calibration.Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report, t.err
}

// Execute runs the calibration unless the task was superseded first.
func (t *CalibrationTask) Execute(ctx context.Context) error {
	t.mu.Lock()
	if t.superseded {
		t.mu.Unlock()
		t.finish(nil, ErrSuperseded)
		return ErrSuperseded
	}
	var cancel context.CancelFunc
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	t.cancel = cancel
	t.status = TaskStatusProcessing
	t.mu.Unlock()
	defer cancel()

	rep, err := t.calibrator.Calibrate(ctx, t.req)

	t.mu.Lock()
	superseded := t.superseded
	t.mu.Unlock()
	if err != nil && superseded && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", ErrSuperseded, err)
	}
	t.finish(rep, err)
	return err
}

// Supersede marks the task as replaced and cancels it when running.
func (t *CalibrationTask) Supersede() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.superseded = true
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *CalibrationTask) finish(rep *calibration.Report, err error) {
	t.mu.Lock()
	t.report, t.err = rep, err
	switch {
	case err == nil:
		t.status = TaskStatusCompleted
	case errors.Is(err, ErrSuperseded):
		t.status = TaskStatusSuperseded
	default:
		t.status = TaskStatusFailed
	}
	done := t.done
	t.mu.Unlock()

	if done != nil {
		done(t)
	}
}

var _ Task = (*CalibrationTask)(nil)
