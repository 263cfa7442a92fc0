package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeTimer hands out channels the test fires by hand and records the
// requested delays.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	chans  chan chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{chans: make(chan chan time.Time, 16)}
}

func (f *fakeTimer) after(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.chans <- ch
	return ch
}

func (f *fakeTimer) fire(t *testing.T, at time.Time) {
	t.Helper()
	select {
	case ch := <-f.chans:
		ch <- at
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never armed a timer")
	}
}

func (f *fakeTimer) requested() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func TestNextMidnight(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	tests := []struct {
		name string
		at   time.Time
		loc  *time.Location
		want time.Time
	}{
		{"midday utc", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"exactly midnight", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC), time.UTC, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"utc instant still previous local day", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), est, time.Date(2026, 3, 11, 0, 0, 0, 0, est)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextMidnight(tt.at, tt.loc)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ft := newFakeTimer()
	s := New(WithAfter(ft.after), WithLogger(quiet()))

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan time.Time, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Every(ctx, "scan", time.Hour, func(_ context.Context, at time.Time) { runs <- at })
	}()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ft.fire(t, base)
	ft.fire(t, base.Add(time.Hour))
	assert.True(t, base.Equal(<-runs))
	assert.True(t, base.Add(time.Hour).Equal(<-runs))

	cancel()
	require.NoError(t, <-done)
	for _, d := range ft.requested() {
		assert.Equal(t, time.Hour, d)
	}
}

func TestEvery_DisabledWaitsForCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New(WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Every(ctx, "scan", 0, func(context.Context, time.Time) { t.Error("disabled task ran") })
	}()
	cancel()
	require.NoError(t, <-done)
}

func TestDaily_WaitsForNextBoundary(t *testing.T) {
	defer goleak.VerifyNone(t)
	ft := newFakeTimer()
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	s := New(WithAfter(ft.after), WithNow(func() time.Time { return now }), WithLogger(quiet()))

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan time.Time, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Daily(ctx, "rollover", time.UTC, func(_ context.Context, at time.Time) { runs <- at })
	}()

	ft.fire(t, now.Add(6*time.Hour))
	got := <-runs
	assert.True(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC).Equal(got))
	assert.Equal(t, 6*time.Hour, ft.requested()[0])

	cancel()
	require.NoError(t, <-done)
}
