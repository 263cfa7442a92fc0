package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

// ErrNotReady is returned by a RosterSource whose connection has not
// signalled ready yet. Reconciliation defers on it.
var ErrNotReady = errors.New("gateway: connection not ready")

// ErrUnreachable is returned by outbound calls for members the platform
// can no longer reach (left the guild, closed DMs).
var ErrUnreachable = errors.New("gateway: member unreachable")

// RosterMember is one entry of the live roster snapshot.
type RosterMember struct {
	ID          model.MemberID `json:"id" yaml:"id"`
	DisplayName string         `json:"display_name,omitempty" yaml:"name,omitempty"`
	JoinedAt    time.Time      `json:"joined_at,omitempty" yaml:"joinedAt,omitempty"`
}

// RosterSource returns the members currently present in a guild.
type RosterSource interface {
	LiveRoster(ctx context.Context, guildID string) ([]RosterMember, error)
}

// Outbound applies side effects on the platform.
type Outbound interface {
	GrantRole(ctx context.Context, memberID model.MemberID, role string) error
	RevokeRole(ctx context.Context, memberID model.MemberID, role string) error
	SendDirectMessage(ctx context.Context, memberID model.MemberID, body string) error
}
