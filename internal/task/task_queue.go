package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue implements a buffered task queue that satisfies both
// TaskQueueReader and TaskQueueWriter interfaces
type TaskQueue struct {
	tasks  chan Task
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		tasks:  make(chan Task, size),
		logger: logger.With(slog.String("component", "task_queue")),
	}
}

// Enqueue adds a task to the queue for processing
// Returns an error if the queue is full or closed
func (q *TaskQueue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.logger.Debug("task enqueued",
			slog.String("task_id", task.ID().String()),
			slog.String("task_type", task.Type()),
			slog.Int("queue_len", len(q.tasks)),
			slog.Int("queue_cap", cap(q.tasks)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.tasks))
	}
}

// Close closes the task queue, preventing further task submission
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
		q.logger.Info("task queue closed")
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// GetChannel returns a read-only channel for consuming tasks
func (q *TaskQueue) GetChannel() <-chan Task {
	return q.tasks
}
