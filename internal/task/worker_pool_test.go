package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTaskQueue implements TaskQueueReader for testing
type mockTaskQueue struct {
	ch chan Task
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{ch: make(chan Task, 10)}
}

func (m *mockTaskQueue) GetChannel() <-chan Task {
	return m.ch
}

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	taskQueue := newMockTaskQueue()

	tests := []struct {
		name  string
		count int
		want  int
	}{
		{name: "configured", count: 5, want: 5},
		{name: "zero defaults to one", count: 0, want: 1},
		{name: "negative defaults to one", count: -5, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: tt.count}, logger)
			defer pool.Stop()
			assert.Equal(t, tt.want, pool.workerCount)
			assert.Nil(t, pool.errorHandler)
		})
	}
}

func TestWorkerPool_StartStop(t *testing.T) {
	pool := NewWorkerPool(newMockTaskQueue(), DefaultWorkerPoolConfig(), setupTestLogger())

	pool.Start()
	pool.Start()
	pool.Stop()
	pool.Stop()
}

func TestWorkerPool_ProcessTask_Success(t *testing.T) {
	taskQueue := newMockTaskQueue()
	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	completed := make(chan struct{})
	task := newMockTask()
	task.execFn = func(ctx context.Context) error {
		close(completed)
		return nil
	}
	taskQueue.ch <- task

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task to complete")
	}
}

func TestWorkerPool_ProcessTask_Error(t *testing.T) {
	tests := []struct {
		name   string
		execFn func(ctx context.Context) error
		want   string
	}{
		{
			name:   "returned error",
			execFn: func(context.Context) error { return errors.New("test error") },
			want:   "test error",
		},
		{
			name:   "panic",
			execFn: func(context.Context) error { panic("boom") },
			want:   "task panicked: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taskQueue := newMockTaskQueue()
			pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())
			handled := make(chan error, 1)
			pool.SetErrorHandler(func(task Task, err error) { handled <- err })
			pool.Start()
			defer pool.Stop()

			task := newMockTask()
			task.execFn = tt.execFn
			taskQueue.ch <- task

			select {
			case err := <-handled:
				assert.EqualError(t, err, tt.want)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for error handler")
			}
		})
	}
}

func TestWorkerPool_StopCancelsRunningTasks(t *testing.T) {
	taskQueue := newMockTaskQueue()
	pool := NewWorkerPool(taskQueue, WorkerPoolConfig{WorkerCount: 1}, setupTestLogger())
	pool.Start()

	started := make(chan struct{})
	var cancelled atomic.Bool
	task := newMockTask()
	task.execFn = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}
	taskQueue.ch <- task
	<-started

	pool.Stop()
	assert.True(t, cancelled.Load())
}

func TestWorkerPool_ExitsWhenQueueCloses(t *testing.T) {
	queue := NewTaskQueue(4, setupTestLogger())
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: 2}, setupTestLogger())

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		task := newMockTask()
		task.execFn = func(context.Context) error {
			ran.Add(1)
			return nil
		}
		require.NoError(t, queue.Enqueue(task))
	}
	queue.Close()
	pool.Start()

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after the queue closed")
	}
	assert.Equal(t, int32(3), ran.Load())
	pool.Stop()
}
