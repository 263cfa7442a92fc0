package gateway

import (
	"fmt"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

// EventType distinguishes platform event kinds.
type EventType string

const (
	EventMemberJoined   EventType = "member_joined"
	EventMessageSent    EventType = "message_sent"
	EventVoiceStateTick EventType = "voice_state_tick"
	EventReactionOrTag  EventType = "reaction_or_tag"
)

// Event is one typed platform event.
//
// Magnitude is the message count or voice minutes the event stands for;
// zero means one. For EventReactionOrTag, Tag distinguishes a mention
// (true) from a reply or reaction (false).
type Event struct {
	Type        EventType      `json:"type" yaml:"type"`
	MemberID    model.MemberID `json:"member_id" yaml:"member"`
	DisplayName string         `json:"display_name,omitempty" yaml:"name,omitempty"`
	At          time.Time      `json:"at" yaml:"at"`
	Magnitude   int64          `json:"magnitude,omitempty" yaml:"magnitude,omitempty"`
	Tag         bool           `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	if e.MemberID == "" {
		return fmt.Errorf("event %s: missing member id", e.Type)
	}
	if e.At.IsZero() {
		return fmt.Errorf("event %s for %s: missing timestamp", e.Type, e.MemberID)
	}
	if e.Magnitude < 0 {
		return fmt.Errorf("event %s for %s: negative magnitude", e.Type, e.MemberID)
	}
	if e.Magnitude > model.MaxMagnitude {
		return fmt.Errorf("event %s for %s: magnitude %d exceeds %d", e.Type, e.MemberID, e.Magnitude, model.MaxMagnitude)
	}
	switch e.Type {
	case EventMemberJoined, EventMessageSent, EventVoiceStateTick, EventReactionOrTag:
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// ActivityKind maps an activity event onto the reputation counter it feeds.
// Returns false for membership events.
func (e Event) ActivityKind() (model.ActivityKind, bool) {
	switch e.Type {
	case EventMessageSent:
		return model.ActivityMessage, true
	case EventVoiceStateTick:
		return model.ActivityVoiceTick, true
	case EventReactionOrTag:
		if e.Tag {
			return model.ActivityTag, true
		}
		return model.ActivityResponse, true
	default:
		return "", false
	}
}
