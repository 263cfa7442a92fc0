package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwidev/therockqc/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvent_ActivityKind(t *testing.T) {
	cases := []struct {
		event Event
		kind  model.ActivityKind
		ok    bool
	}{
		{Event{Type: EventMessageSent}, model.ActivityMessage, true},
		{Event{Type: EventVoiceStateTick}, model.ActivityVoiceTick, true},
		{Event{Type: EventReactionOrTag}, model.ActivityResponse, true},
		{Event{Type: EventReactionOrTag, Tag: true}, model.ActivityTag, true},
		{Event{Type: EventMemberJoined}, "", false},
	}
	for _, tc := range cases {
		kind, ok := tc.event.ActivityKind()
		assert.Equal(t, tc.kind, kind, "type %s", tc.event.Type)
		assert.Equal(t, tc.ok, ok, "type %s", tc.event.Type)
	}
}

func TestEvent_Validate(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, Event{Type: EventMessageSent, MemberID: "A", At: at}.Validate())
	assert.Error(t, Event{Type: EventMessageSent, At: at}.Validate())
	assert.Error(t, Event{Type: EventMessageSent, MemberID: "A"}.Validate())
	assert.Error(t, Event{Type: "typing", MemberID: "A", At: at}.Validate())
	assert.Error(t, Event{Type: EventVoiceStateTick, MemberID: "A", At: at, Magnitude: -3}.Validate())
	assert.NoError(t, Event{Type: EventMessageSent, MemberID: "A", At: at, Magnitude: model.MaxMagnitude}.Validate())
	assert.Error(t, Event{Type: EventMessageSent, MemberID: "A", At: at, Magnitude: model.MaxMagnitude + 1}.Validate())
}

func TestSimulated_RosterRequiresReady(t *testing.T) {
	g := NewSimulated("guild-1", quietLogger())
	g.SetRoster(RosterMember{ID: "B"}, RosterMember{ID: "A"})
	ctx := context.Background()

	_, err := g.LiveRoster(ctx, "guild-1")
	assert.True(t, errors.Is(err, ErrNotReady))

	g.SetReady(true)
	select {
	case <-g.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	roster, err := g.LiveRoster(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, model.MemberID("A"), roster[0].ID)

	_, err = g.LiveRoster(ctx, "other")
	assert.Error(t, err)
}

func TestSimulated_ReadySignalCoalesces(t *testing.T) {
	g := NewSimulated("", quietLogger())
	g.SetReady(true)
	g.SetReady(false)
	g.SetReady(true)

	<-g.Ready()
	select {
	case <-g.Ready():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestSimulated_OutboundCalls(t *testing.T) {
	g := NewSimulated("", quietLogger())
	ctx := context.Background()

	require.NoError(t, g.GrantRole(ctx, "A", "Recruit"))
	require.NoError(t, g.SendDirectMessage(ctx, "A", "hello"))

	g.SetUnreachable("B", true)
	err := g.RevokeRole(ctx, "B", "Recruit")
	assert.True(t, errors.Is(err, ErrUnreachable))

	g.FailNext("A", 1)
	assert.Error(t, g.RevokeRole(ctx, "A", "Recruit"))
	assert.NoError(t, g.RevokeRole(ctx, "A", "Recruit"))

	assert.Equal(t, []Call{
		{Op: "grant_role", MemberID: "A", Value: "Recruit"},
		{Op: "direct_message", MemberID: "A", Value: "hello"},
		{Op: "revoke_role", MemberID: "A", Value: "Recruit"},
	}, g.Calls())
}

func TestLoadRoster(t *testing.T) {
	guild, members, err := LoadRoster("testdata/roster.yaml")
	require.NoError(t, err)
	assert.Equal(t, "guild-1", guild)
	require.Len(t, members, 2)
	assert.Equal(t, "Chloé", members[1].DisplayName)
	assert.True(t, members[0].JoinedAt.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))
}

func TestLoadRoster_Errors(t *testing.T) {
	_, _, err := LoadRoster("testdata/missing.yaml")
	assert.Error(t, err)

	_, _, err = LoadRoster("testdata/roster_typo.yaml")
	assert.Error(t, err)
}
