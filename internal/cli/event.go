package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
)

// EventOptions holds flags for the event command.
type EventOptions struct {
	*RootOptions
	Name      string
	Magnitude int64
	Tag       bool
	At        string
}

// EventReport lists the effects one event produced.
type EventReport struct {
	Event   gateway.Event  `json:"event"`
	Effects []model.Effect `json:"effects"`
}

// RenderText implements textRenderer.
func (r EventReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s for %s: %d effect(s)\n", r.Event.Type, r.Event.MemberID, len(r.Effects))
	for _, e := range r.Effects {
		fmt.Fprintf(w, "  %s %s\n", e.Kind, describeEffect(e))
	}
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "event <type> <member-id>",
		Short: "Apply a single platform event",
		Long: `Apply one platform event synchronously and deliver its effects.

Types: member_joined, message_sent, voice_state_tick, reaction_or_tag.

Example:
  therockqc event member_joined 1234 --name "Alice"
  therockqc event message_sent 1234 --magnitude 5
  therockqc event reaction_or_tag 1234 --tag`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvent(opts, gateway.EventType(args[0]), model.MemberID(args[1]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().Int64Var(&opts.Magnitude, "magnitude", 0, "message count or voice minutes (0 means 1)")
	cmd.Flags().BoolVar(&opts.Tag, "tag", false, "reaction_or_tag is a mention rather than a reply")
	cmd.Flags().StringVar(&opts.At, "at", "", "event time in RFC 3339 (defaults to now)")

	return cmd
}

func runEvent(opts *EventOptions, typ gateway.EventType, id model.MemberID, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ev := gateway.Event{
		Type:        typ,
		MemberID:    id,
		DisplayName: opts.Name,
		Magnitude:   opts.Magnitude,
		Tag:         opts.Tag,
		At:          time.Now(),
	}
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeInput, fmt.Errorf("invalid --at: %w", err))
		}
		ev.At = at
	}
	if _, ok := ev.ActivityKind(); !ok && typ != gateway.EventMemberJoined {
		return out.Fail(ExitCommandError, ErrCodeInput, fmt.Errorf("unknown event type %q", typ))
	}

	a, _, err := opts.openApp(cmd, "")
	if err != nil {
		return err
	}
	defer closeApp(a)

	effects, err := a.Service.HandleEvent(cmd.Context(), ev)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}
	if effects == nil {
		effects = []model.Effect{}
	}
	return out.Success(EventReport{Event: ev, Effects: effects})
}

// describeEffect renders the target of an effect for text output.
func describeEffect(e model.Effect) string {
	switch e.Kind {
	case model.EffectRoleChange:
		return fmt.Sprintf("%s: %s -> %s", e.MemberID, e.From, e.Target)
	case model.EffectDirectMessage:
		return fmt.Sprintf("%s: %q", e.MemberID, e.Body)
	default:
		return fmt.Sprintf("%s: %s", e.MemberID, e.Target)
	}
}
