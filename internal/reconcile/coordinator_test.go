package reconcile

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lwidev/therockqc/internal/community"
	"github.com/lwidev/therockqc/internal/contract"
	"github.com/lwidev/therockqc/internal/effect"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/keylock"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/reputation"
	"github.com/lwidev/therockqc/internal/store"
	"github.com/lwidev/therockqc/internal/testutil"
)

var start = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// The store is closed by t.Cleanup, after the deferred leak check.
var ignoreDB = goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener")

type fixture struct {
	coord *Coordinator
	svc   *community.Service
	store *store.Store
	gw    *gateway.Simulated
	clock *testutil.ManualClock
	reg   *prometheus.Registry
	path  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewManualClock(start)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path, store.WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	locks := keylock.New(8)
	acc, err := reputation.New(s, locks, reputation.DefaultConfig(), reputation.WithLogger(logger))
	require.NoError(t, err)
	lc, err := contract.New(s, locks, contract.DefaultConfig(),
		contract.WithNow(clock.Now),
		contract.WithIDGenerator(testutil.NewSequenceIDs("c")),
		contract.WithSeed(1),
		contract.WithLogger(logger))
	require.NoError(t, err)
	gw := gateway.NewSimulated("guild", logger)
	disp := effect.New(s, gw, effect.Config{Backoff: time.Millisecond}, effect.WithLogger(logger))
	svc := community.New(acc, lc, disp, clock.Now, logger)

	reg := prometheus.NewRegistry()
	var seq int64
	coord := New(svc, s, gw, "guild",
		WithNow(clock.Now),
		WithLogger(logger),
		WithRegisterer(reg),
		WithSeq(func() int64 { seq++; return seq }))
	return &fixture{coord: coord, svc: svc, store: s, gw: gw, clock: clock, reg: reg, path: path}
}

func (f *fixture) join(t *testing.T, id model.MemberID, name string) {
	t.Helper()
	_, err := f.svc.HandleEvent(context.Background(), gateway.Event{
		Type: gateway.EventMemberJoined, MemberID: id, DisplayName: name, At: f.clock.Now(),
	})
	require.NoError(t, err)
}

// failContractsFor makes every contract insert for id fail with a
// non-retryable error, through a trigger on a second connection.
func (f *fixture) failContractsFor(t *testing.T, id model.MemberID) {
	t.Helper()
	db, err := sql.Open("sqlite3", f.path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TRIGGER fail_contract BEFORE INSERT ON contracts
		WHEN NEW.member_id = '` + string(id) + `'
		BEGIN SELECT RAISE(ABORT, 'contract insert rejected'); END`)
	require.NoError(t, err)
}

func ops(calls []gateway.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op + ":" + string(c.MemberID)
	}
	return out
}

func TestRun_MissedJoinAndDeparture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.join(t, "A", "Alice")
	f.join(t, "B", "Bob")
	before := len(f.gw.Calls())
	memberA, err := f.store.GetMember(ctx, "A")
	require.NoError(t, err)
	contractA, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)

	f.gw.SetRoster(
		gateway.RosterMember{ID: "A", DisplayName: "Alice", JoinedAt: start},
		gateway.RosterMember{ID: "C", DisplayName: "Cleo", JoinedAt: start.Add(time.Hour)},
	)
	f.gw.SetReady(true)

	res, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.MemberID{"C"}, res.Joined)
	assert.Equal(t, []model.MemberID{"B"}, res.Diff.Departed)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, res.Flushed.Delivered)

	// C got a record and an entry contract, delivered once.
	memberC, err := f.store.GetMember(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, "Cleo", memberC.DisplayName)
	assert.True(t, memberC.JoinedAt.Equal(start.Add(time.Hour)))
	contractC, err := f.store.GetContract(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, model.ContractActive, contractC.Status)
	assert.Equal(t, []string{"grant_role:C", "direct_message:C"}, ops(f.gw.Calls()[before:]))

	// A untouched, B kept.
	after, err := f.store.GetMember(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, memberA.Version, after.Version)
	afterContract, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, contractA.ID, afterContract.ID)
	assert.Equal(t, contractA.Version, afterContract.Version)
	_, err = f.store.GetMember(ctx, "B")
	require.NoError(t, err)

	cur := f.coord.Cursor()
	assert.True(t, cur.Live.Has("A"))
	assert.True(t, cur.Live.Has("C"))
	assert.False(t, cur.Live.Has("B"))
	assert.Equal(t, int64(1), cur.LastSeq)

	// Second pass finds nothing to do.
	calls := len(f.gw.Calls())
	res, err = f.coord.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Diff.Empty())
	assert.Empty(t, res.Joined)
	assert.Equal(t, calls, len(f.gw.Calls()))

	assert.Equal(t, 2.0, promtest.ToFloat64(f.coord.metrics.passes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.coord.metrics.actions.WithLabelValues("missed_join")))
}

func TestRun_DeferredWhenNotReady(t *testing.T) {
	f := newFixture(t)
	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})

	_, err := f.coord.Run(context.Background())
	require.ErrorIs(t, err, ErrDeferred)
	assert.Empty(t, f.gw.Calls())

	ids, err := f.store.ListAllMemberIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.coord.metrics.passes.WithLabelValues("deferred")))
	assert.True(t, f.coord.Cursor().At.IsZero())
}

func TestRun_ExpiresOverdueContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.join(t, "A", "Alice")
	issued, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)

	f.clock.Set(issued.ExpiresAt.Add(24 * time.Hour))
	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})
	f.gw.SetReady(true)

	res, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{issued.ID}, res.Expired)

	got, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.ContractExpired, got.Status)

	calls := f.gw.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "direct_message", last.Op)
	assert.Contains(t, last.Value, "expired")

	// Expired members are not reissued a contract.
	res, err = f.coord.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Diff.Empty())
	assert.Len(t, f.gw.Calls(), len(calls))
}

func TestRun_RepairsMissingContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, inserted, err := f.store.InsertMember(ctx, model.NewMember("A", "Alice", start))
	require.NoError(t, err)
	require.True(t, inserted)

	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})
	f.gw.SetReady(true)

	res, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.MemberID{"A"}, res.Repaired)
	assert.Empty(t, res.Joined)

	c, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.ContractActive, c.Status)
	assert.Equal(t, []string{"direct_message:A"}, ops(f.gw.Calls()))
}

func TestRun_FlushesLeftoverOutbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A join that persisted but never delivered.
	_, err := f.svc.Join(ctx, "A", "Alice", start)
	require.NoError(t, err)
	assert.Empty(t, f.gw.Calls())

	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})
	f.gw.SetReady(true)

	res, err := f.coord.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Diff.Empty())
	assert.Equal(t, 2, res.Flushed.Delivered)
	assert.Equal(t, []string{"grant_role:A", "direct_message:A"}, ops(f.gw.Calls()))
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})
	f.gw.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.Run(ctx)
	require.Error(t, err)
	assert.Empty(t, f.gw.Calls())
}

func TestServe_RunsOnReadySignal(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDB)
	f := newFixture(t)
	f.gw.SetRoster(gateway.RosterMember{ID: "A", DisplayName: "Alice"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.coord.Serve(ctx, f.gw.Ready()) }()

	f.gw.SetReady(true)
	require.Eventually(t, func() bool {
		_, err := f.store.GetMember(context.Background(), "A")
		return err == nil && len(f.gw.Calls()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestServe_StopsWhenSignalClosed(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreDB)
	f := newFixture(t)
	ready := make(chan struct{})
	close(ready)
	assert.NoError(t, f.coord.Serve(context.Background(), ready))
}

func TestRun_MemberFailureDoesNotAbortPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.join(t, "A", "Alice")
	issued, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)
	f.failContractsFor(t, "X")

	f.clock.Set(issued.ExpiresAt.Add(time.Hour))
	f.gw.SetRoster(
		gateway.RosterMember{ID: "A", DisplayName: "Alice"},
		gateway.RosterMember{ID: "C", DisplayName: "Cleo"},
		gateway.RosterMember{ID: "X", DisplayName: "Xavier"},
	)
	f.gw.SetReady(true)

	res, err := f.coord.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract insert rejected")
	assert.Equal(t, []model.MemberID{"X"}, res.Failed)
	assert.Equal(t, []model.MemberID{"C"}, res.Joined)
	assert.Equal(t, []string{issued.ID}, res.Expired)

	c, err := f.store.GetContract(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, model.ContractActive, c.Status)
	a, err := f.store.GetContract(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.ContractExpired, a.Status)

	assert.Equal(t, 1.0, promtest.ToFloat64(f.coord.metrics.passes.WithLabelValues("partial")))
	assert.True(t, f.coord.Cursor().At.IsZero())
}

func TestRun_ConcurrentLiveJoinCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.SetRoster(gateway.RosterMember{ID: "C", DisplayName: "Cleo", JoinedAt: start})
	f.gw.SetReady(true)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.HandleEvent(ctx, gateway.Event{
			Type: gateway.EventMemberJoined, MemberID: "C", DisplayName: "Cleo", At: start,
		})
		errCh <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.coord.Run(ctx)
		errCh <- err
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	ids, err := f.store.ListAllMemberIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.True(t, ids.Has("C"))

	history, err := f.store.ContractHistory(ctx, "C")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ContractActive, history[0].Status)

	entries, err := f.store.ListEffects(ctx, 0)
	require.NoError(t, err)
	welcomes := 0
	for _, e := range entries {
		if e.Effect.MemberID == "C" && e.Effect.Kind == model.EffectDirectMessage {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes)

	// Flush the leftovers so both paths are done; each key goes out once.
	_, err = f.svc.Dispatcher().Flush(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"grant_role:C", "direct_message:C"}, ops(f.gw.Calls()))
}
