package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires immediately and records every requested duration.
type fakeTimer struct {
	c     chan time.Time
	waits []time.Duration
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &statusErr{429}, true},
		{"401", &statusErr{401}, true},
		{"wrapped 429", fmt.Errorf("list roles: %w", &statusErr{429}), true},
		{"500", &statusErr{500}, false},
		{"404", &statusErr{404}, false},
		{"message", errors.New("upstream said: Too Many Requests"), true},
		{"sentinel", fmt.Errorf("pacer: %w", ErrRateLimited), true},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTwoRateLimits(t *testing.T) {
	timer := newFakeTimer()
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return &statusErr{429}
		}
		return nil
	}, WithInitialDelay(100*time.Millisecond), withTimer(timer))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, timer.waits)
}

func TestDo_ExhaustsAndReturnsLastError(t *testing.T) {
	timer := newFakeTimer()
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: too many requests", calls)
	}, withTimer(timer))

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, "attempt 5: too many requests", err.Error())
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, timer.waits)
}

func TestDo_NonRateLimitErrorIsNotRetried(t *testing.T) {
	timer := newFakeTimer()
	calls := 0
	notFound := &statusErr{404}
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return notFound
	}, withTimer(timer))

	assert.Equal(t, 1, calls)
	assert.Same(t, notFound, err)
	assert.Empty(t, timer.waits)
}

func TestDo_RespectsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return &statusErr{401}
	}, WithMaxAttempts(2), withTimer(newFakeTimer()))

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NotifyReportsAttempts(t *testing.T) {
	var attempts []int
	calls := 0
	_ = Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrRateLimited
		}
		return nil
	}, withTimer(newFakeTimer()), WithNotify(func(_ error, attempt int, _ time.Duration) {
		attempts = append(attempts, attempt)
	}))
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_CancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &statusErr{429}
	}, WithInitialDelay(time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}
