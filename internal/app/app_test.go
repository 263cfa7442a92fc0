package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lwidev/therockqc/internal/config"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/testutil"
)

var start = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) (*App, *gateway.Simulated, *testutil.ManualClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewManualClock(start)
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "app.db")
	cfg.Workers = 4
	cfg.Dispatch.Backoff = time.Millisecond
	gw := gateway.NewSimulated(cfg.GuildID, logger)

	a, err := New(Options{
		Config:  cfg,
		Logger:  logger,
		Now:     clock.Now,
		Gateway: gw,
		IDs:     testutil.NewSequenceIDs("c"),
		Seed:    7,
	})
	require.NoError(t, err)
	return a, gw, clock
}

func TestNew_RejectsInvalidReputationConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "app.db")
	cfg.Timezone = "Nowhere/Special"
	_, err := New(Options{Config: cfg})
	require.Error(t, err)
}

func TestRun_ReconcilesAndProcessesEvents(t *testing.T) {
	a, gw, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, gw.Ready()) }()

	gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice", JoinedAt: start})
	gw.SetReady(true)
	require.Eventually(t, func() bool {
		return !a.Coordinator.Cursor().At.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	_, err := a.Store.GetMember(context.Background(), "A")
	require.NoError(t, err)

	require.True(t, a.Engine.Enqueue(gateway.Event{Type: gateway.EventMessageSent, MemberID: "A", At: start.Add(time.Minute)}))
	require.True(t, a.Engine.Enqueue(gateway.Event{Type: gateway.EventMemberJoined, MemberID: "B", DisplayName: "Bob", At: start.Add(time.Minute)}))
	require.Eventually(t, func() bool { return a.Engine.Processed() == 2 }, 5*time.Second, 10*time.Millisecond)

	m, err := a.Store.GetMember(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Counters.LifetimeMessages)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, a.Close())
	goleak.VerifyNone(t)

	calls := gw.Calls()
	var ops []string
	for _, c := range calls {
		ops = append(ops, c.Op+":"+string(c.MemberID))
	}
	assert.Equal(t, []string{"grant_role:A", "direct_message:A", "grant_role:B", "direct_message:B"}, ops)
}

func TestRun_EndsWhenEngineDrained(t *testing.T) {
	a, gw, _ := newTestApp(t)
	t.Cleanup(func() { a.Close() })

	require.True(t, a.Engine.Enqueue(gateway.Event{Type: gateway.EventMemberJoined, MemberID: "A", DisplayName: "Alice", At: start}))
	a.Engine.Stop()

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), gw.Ready()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the engine drained")
	}
	assert.Equal(t, int64(1), a.Engine.Processed())
}

func TestRun_AbandonsInFlightEffects(t *testing.T) {
	a, gw, _ := newTestApp(t)
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	e := model.Effect{Kind: model.EffectDirectMessage, MemberID: "A", Target: "welcome:A", Body: "hi"}
	require.NoError(t, a.Store.EnqueueEffects(ctx, e))
	claimed, err := a.Store.ClaimEffect(ctx, e.Key())
	require.NoError(t, err)
	require.True(t, claimed)

	a.Engine.Stop()
	require.NoError(t, a.Run(ctx, gw.Ready()))

	got, err := a.Store.GetEffect(ctx, e.Key())
	require.NoError(t, err)
	assert.Equal(t, model.EffectDropped, got.State)
	assert.Empty(t, gw.Calls())
}

func TestMetricsHandler(t *testing.T) {
	a, gw, _ := newTestApp(t)
	t.Cleanup(func() { a.Close() })
	gw.SetReady(true)

	_, err := a.Service.HandleEvent(context.Background(), gateway.Event{Type: gateway.EventMemberJoined, MemberID: "A", DisplayName: "Alice", At: start})
	require.NoError(t, err)
	_, err = a.Coordinator.Run(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "therockqc_effects_dispatched_total")
	assert.Contains(t, body, `therockqc_reconcile_passes_total{outcome="ok"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
