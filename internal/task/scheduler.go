package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/service/calibration"
)

// ErrInvalidRequest is returned for requests without a scale.
var ErrInvalidRequest = errors.New("invalid calibration request")

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// Workers determines how many calibrations run concurrently
	Workers int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// Timeout bounds a single calibration run. Zero disables it.
	Timeout time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:   2,
		QueueSize: 64,
		Timeout:   10 * time.Minute,
	}
}

// Scheduler queues calibration requests and keeps at most one live request
// per scale.
type Scheduler struct {
	queue      *TaskQueue
	pool       *WorkerPool
	calibrator Calibrator
	config     SchedulerConfig
	logger     *slog.Logger

	mu     sync.Mutex
	latest map[uuid.UUID]*CalibrationTask
}

// NewScheduler creates a Scheduler. Call Start before submitting work.
func NewScheduler(calibrator Calibrator, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	queue := NewTaskQueue(config.QueueSize, logger)
	s := &Scheduler{
		queue:      queue,
		pool:       NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.Workers}, logger),
		calibrator: calibrator,
		config:     config,
		logger:     logger.With(slog.String("component", "scheduler")),
		latest:     make(map[uuid.UUID]*CalibrationTask),
	}
	s.pool.SetErrorHandler(func(task Task, err error) {
		if errors.Is(err, ErrSuperseded) {
			return
		}
		s.logger.Warn("calibration task failed",
			slog.String("task_id", task.ID().String()),
			slog.String("error", err.Error()))
	})
	return s
}

// Start begins processing queued tasks.
func (s *Scheduler) Start() {
	s.pool.Start()
}

// Stop cancels running calibrations, waits for the workers and rejects
// further submissions. Tasks still queued are dropped.
func (s *Scheduler) Stop() {
	s.queue.Close()
	s.pool.Stop()
	s.logger.Info("scheduler stopped", slog.Int("dropped", s.queue.Len()))
}

// Submit queues a calibration. An older request for the same scale that
// is still queued or running is superseded.
func (s *Scheduler) Submit(ctx context.Context, req calibration.Request) (*CalibrationTask, error) {
	if req.ScaleID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty scale id", ErrInvalidRequest)
	}
	t := NewCalibrationTask(req, s.calibrator, s.config.Timeout)
	t.done = s.release

	s.mu.Lock()
	prev := s.latest[req.ScaleID]
	s.latest[req.ScaleID] = t
	s.mu.Unlock()

	if err := s.queue.Enqueue(t); err != nil {
		s.mu.Lock()
		if s.latest[req.ScaleID] == t {
			if prev != nil {
				s.latest[req.ScaleID] = prev
			} else {
				delete(s.latest, req.ScaleID)
			}
		}
		s.mu.Unlock()
		return nil, err
	}
	if prev != nil {
		prev.Supersede()
		s.logger.InfoContext(ctx, "calibration superseded",
			slog.String("scale_id", req.ScaleID.String()),
			slog.String("task_id", prev.ID().String()),
			slog.String("by_task_id", t.ID().String()))
	}

	s.logger.InfoContext(ctx, "calibration queued",
		slog.String("scale_id", req.ScaleID.String()),
		slog.String("task_id", t.ID().String()),
		slog.Bool("force", req.Force))
	return t, nil
}

// Latest returns the newest unfinished task for a scale.
func (s *Scheduler) Latest(scaleID uuid.UUID) (*CalibrationTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.latest[scaleID]
	return t, ok
}

func (s *Scheduler) release(t *CalibrationTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[t.ScaleID()] == t {
		delete(s.latest, t.ScaleID())
	}
}
