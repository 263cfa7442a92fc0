package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/contract"
	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/model"
)

// MemberReport is a member record with its contract history.
type MemberReport struct {
	Member    model.Member     `json:"member"`
	Tier      string           `json:"tier"`
	Contracts []model.Contract `json:"contracts"`
}

// RenderText implements textRenderer.
func (r MemberReport) RenderText(w io.Writer) {
	m, c := r.Member, r.Member.Counters
	fmt.Fprintf(w, "Member %s (%s)\n", m.ID, m.DisplayName)
	fmt.Fprintf(w, "  Joined:     %s\n", m.JoinedAt.Format(model.DayLayout))
	fmt.Fprintf(w, "  Tier:       %s (score %d)\n", r.Tier, c.Score)
	fmt.Fprintf(w, "  Messages:   %d lifetime, %d today, %.1f daily average\n", c.LifetimeMessages, c.DailyMessages, c.AvgDailyMessages)
	fmt.Fprintf(w, "  Voice:      %d minutes, %d active days\n", c.LifetimeVoiceMinutes, c.VoiceActiveDays)
	fmt.Fprintf(w, "  Responses:  %d, tags %d, active days %d\n", c.Responses, c.Tags, c.ActiveDays)
	if len(r.Contracts) == 0 {
		fmt.Fprintln(w, "  Contracts:  none")
		return
	}
	fmt.Fprintln(w, "  Contracts:")
	for _, ct := range r.Contracts {
		renderContract(w, "    ", ct)
	}
}

func renderContract(w io.Writer, indent string, c model.Contract) {
	fmt.Fprintf(w, "%s%s %-13s %s, %s, %s to %s\n", indent, c.ID, c.Status, c.Team,
		contract.FormatSalary(c.Salary), c.StartDate.Format(model.DayLayout), c.ExpiresAt.Format(model.DayLayout))
}

// NewMemberCommand creates the member command group.
func NewMemberCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Inspect members",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member's reputation and contracts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			id := model.MemberID(args[0])
			m, err := a.Store.GetMember(cmd.Context(), id)
			if errs.IsNotFound(err) {
				return out.Fail(ExitFailure, ErrCodeNotFound, fmt.Errorf("member %s not found", id))
			}
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			history, err := a.Store.ContractHistory(cmd.Context(), id)
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(MemberReport{Member: m, Tier: m.Tier.String(), Contracts: orEmpty(history)})
		},
	})

	return cmd
}

// RenewalReport is the outcome of a renewal.
type RenewalReport struct {
	Previous model.Contract `json:"previous"`
	Contract model.Contract `json:"contract"`
}

// RenderText implements textRenderer.
func (r RenewalReport) RenderText(w io.Writer) {
	fmt.Fprintln(w, "Renewed:")
	renderContract(w, "  ", r.Previous)
	renderContract(w, "  ", r.Contract)
}

// NewContractCommand creates the contract command group.
func NewContractCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Manage contracts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "renew <member-id>",
		Short: "Renew a member's live contract",
		Long: `Replace the member's Active or ExpiringSoon contract with a new Active
one for the same team at a freshly drawn salary, starting today. The
member is notified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			renewal, err := a.Service.Renew(cmd.Context(), model.MemberID(args[0]))
			if errors.Is(err, contract.ErrNoLiveContract) {
				return out.Fail(ExitFailure, ErrCodeNotFound, fmt.Errorf("member %s: %w", args[0], err))
			}
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(RenewalReport{Previous: renewal.Previous, Contract: renewal.Contract})
		},
	})

	return cmd
}
