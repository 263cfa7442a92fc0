package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lwidev/therockqc/internal/model"
)

// Call records one outbound call made against Simulated.
type Call struct {
	Op       string         `json:"op" yaml:"op"`
	MemberID model.MemberID `json:"member_id" yaml:"member"`
	Value    string         `json:"value" yaml:"value"`
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s, %q)", c.Op, c.MemberID, c.Value)
}

// Simulated is an in-memory platform: a roster, a ready flag, and a log
// of outbound calls.
//
// Thread-safety: all methods are safe for concurrent use.
type Simulated struct {
	mu          sync.Mutex
	guildID     string
	roster      map[model.MemberID]RosterMember
	ready       bool
	calls       []Call
	unreachable model.IDSet
	failNext    map[model.MemberID]int
	signal      chan struct{} // Signals ready transitions (buffered, size 1)
	logger      *slog.Logger
}

// NewSimulated creates a not-ready simulated gateway for guildID.
func NewSimulated(guildID string, logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{
		guildID:     guildID,
		roster:      make(map[model.MemberID]RosterMember),
		unreachable: model.NewIDSet(),
		failNext:    make(map[model.MemberID]int),
		signal:      make(chan struct{}, 1),
		logger:      logger,
	}
}

// SetRoster replaces the live roster.
func (g *Simulated) SetRoster(members ...RosterMember) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roster = make(map[model.MemberID]RosterMember, len(members))
	for _, m := range members {
		g.roster[m.ID] = m
	}
}

// AddMember puts m on the live roster.
func (g *Simulated) AddMember(m RosterMember) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roster[m.ID] = m
}

// RemoveMember takes id off the live roster.
func (g *Simulated) RemoveMember(id model.MemberID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.roster, id)
}

// SetReady marks the connection ready or lost. Each transition to ready
// signals Ready; signals coalesce while nobody is listening.
func (g *Simulated) SetReady(ready bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	was := g.ready
	g.ready = ready
	if ready && !was {
		select {
		case g.signal <- struct{}{}:
		default:
		}
	}
}

// Ready returns the ready-signal channel.
func (g *Simulated) Ready() <-chan struct{} {
	return g.signal
}

// SetUnreachable makes every outbound call for id fail with ErrUnreachable.
func (g *Simulated) SetUnreachable(id model.MemberID, unreachable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if unreachable {
		g.unreachable.Add(id)
	} else {
		delete(g.unreachable, id)
	}
}

// FailNext makes the next n outbound calls for id fail with ErrUnreachable.
func (g *Simulated) FailNext(id model.MemberID, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[id] = n
}

// LiveRoster implements RosterSource.
func (g *Simulated) LiveRoster(ctx context.Context, guildID string) ([]RosterMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		return nil, ErrNotReady
	}
	if g.guildID != "" && guildID != g.guildID {
		return nil, fmt.Errorf("gateway: unknown guild %q", guildID)
	}
	out := make([]RosterMember, 0, len(g.roster))
	for _, m := range g.roster {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GrantRole implements Outbound.
func (g *Simulated) GrantRole(ctx context.Context, memberID model.MemberID, role string) error {
	return g.record(ctx, Call{Op: "grant_role", MemberID: memberID, Value: role})
}

// RevokeRole implements Outbound.
func (g *Simulated) RevokeRole(ctx context.Context, memberID model.MemberID, role string) error {
	return g.record(ctx, Call{Op: "revoke_role", MemberID: memberID, Value: role})
}

// SendDirectMessage implements Outbound.
func (g *Simulated) SendDirectMessage(ctx context.Context, memberID model.MemberID, body string) error {
	return g.record(ctx, Call{Op: "direct_message", MemberID: memberID, Value: body})
}

func (g *Simulated) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unreachable.Has(c.MemberID) {
		return fmt.Errorf("%s for %s: %w", c.Op, c.MemberID, ErrUnreachable)
	}
	if n := g.failNext[c.MemberID]; n > 0 {
		g.failNext[c.MemberID] = n - 1
		return fmt.Errorf("%s for %s: %w", c.Op, c.MemberID, ErrUnreachable)
	}
	g.calls = append(g.calls, c)
	g.logger.Info("outbound call", "op", c.Op, "member_id", c.MemberID, "value", c.Value)
	return nil
}

// Calls returns a copy of the successful outbound calls in order.
func (g *Simulated) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}
