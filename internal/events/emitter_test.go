package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

// recorder appends its name to a shared log on every event.
func recorder(log *[]string, name string, err error) EventHandler {
	return HandlerFunc(func(ctx context.Context, e *Event) error {
		*log = append(*log, name+":"+e.Type)
		return err
	})
}

func publishedEvent(t *testing.T) *Event {
	t.Helper()
	event, err := NewEvent(TypeContextPublished, ContextPublished{ScaleID: uuid.New(), ContextID: uuid.New()})
	require.NoError(t, err)
	return event
}

func TestInMemoryEventEmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errFirst := errors.New("first")
	errSecond := errors.New("second")

	tests := []struct {
		name     string
		handlers func(log *[]string) []EventHandler
		wantErr  error
		wantLog  []string
	}{
		{
			name:     "no handlers",
			handlers: func(*[]string) []EventHandler { return nil },
		},
		{
			name: "delivers in registration order",
			handlers: func(log *[]string) []EventHandler {
				return []EventHandler{recorder(log, "scheduler", nil), recorder(log, "attempts", nil)}
			},
			wantLog: []string{"scheduler:context.published", "attempts:context.published"},
		},
		{
			name: "keeps delivering after a failure and returns the first error",
			handlers: func(log *[]string) []EventHandler {
				return []EventHandler{
					recorder(log, "a", errFirst),
					recorder(log, "b", nil),
					recorder(log, "c", errSecond),
				}
			},
			wantErr: errFirst,
			wantLog: []string{"a:context.published", "b:context.published", "c:context.published"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var log []string
			emitter := NewInMemoryEventEmitter(logger)
			for _, h := range tc.handlers(&log) {
				emitter.RegisterHandler(h)
			}

			err := emitter.EmitEvent(context.Background(), publishedEvent(t))

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantLog, log)
		})
	}
}

func TestEmitEventRejectsNil(t *testing.T) {
	emitter := NewInMemoryEventEmitter(nil)
	assert.ErrorIs(t, emitter.EmitEvent(context.Background(), nil), ErrNilEvent)
}

func TestEmitEventPassesContext(t *testing.T) {
	emitter := NewInMemoryEventEmitter(nil)
	var got any
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, _ *Event) error {
		got = ctx.Value(ctxKey{})
		return nil
	}))

	ctx := context.WithValue(context.Background(), ctxKey{}, "trace")
	require.NoError(t, emitter.EmitEvent(ctx, publishedEvent(t)))
	assert.Equal(t, "trace", got)
}

func TestEmitterConcurrentRegistration(t *testing.T) {
	emitter := NewInMemoryEventEmitter(nil)
	var (
		mu    sync.Mutex
		count int
	)
	handler := HandlerFunc(func(context.Context, *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			emitter.RegisterHandler(handler)
		}()
		go func() {
			defer wg.Done()
			_ = emitter.EmitEvent(context.Background(), publishedEvent(t))
		}()
	}
	wg.Wait()

	count = 0
	require.NoError(t, emitter.EmitEvent(context.Background(), publishedEvent(t)))
	assert.Equal(t, 8, count)
}
