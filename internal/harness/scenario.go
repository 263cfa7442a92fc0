package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
)

// DefaultStart is the scenario clock origin when none is given.
var DefaultStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Scenario defines one end-to-end test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the initial wall clock. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Seed fixes the contract draw. Defaults to 1.
	Seed uint64 `yaml:"seed,omitempty"`

	// League overrides the contract parameters.
	League *League `yaml:"league,omitempty"`

	// Persisted is store state written before the first step, without
	// producing any effects.
	Persisted Seed `yaml:"persisted,omitempty"`

	// Roster is the initial live roster.
	Roster []gateway.RosterMember `yaml:"roster,omitempty"`

	// Ready is the initial connection state.
	Ready bool `yaml:"ready,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// League fixes the contract draw and schedule.
type League struct {
	Teams         []string `yaml:"teams,omitempty"`
	Salary        int64    `yaml:"salary,omitempty"`
	DurationYears int      `yaml:"durationYears,omitempty"`
	WarningWindow string   `yaml:"warningWindow,omitempty"`
}

// Seed is persisted state loaded before the steps.
type Seed struct {
	Members   []SeedMember   `yaml:"members,omitempty"`
	Contracts []SeedContract `yaml:"contracts,omitempty"`
}

// SeedMember is a member record to persist.
type SeedMember struct {
	ID       model.MemberID `yaml:"id"`
	Name     string         `yaml:"name,omitempty"`
	JoinedAt time.Time      `yaml:"joinedAt,omitempty"`
	Tier     string         `yaml:"tier,omitempty"`
	Messages int64          `yaml:"messages,omitempty"`
	LastDay  string         `yaml:"lastDay,omitempty"`
}

// SeedContract is a contract record to persist.
type SeedContract struct {
	ID        string         `yaml:"id"`
	Member    model.MemberID `yaml:"member"`
	Team      string         `yaml:"team,omitempty"`
	Salary    int64          `yaml:"salary,omitempty"`
	Status    string         `yaml:"status,omitempty"`
	StartDate time.Time      `yaml:"startDate,omitempty"`
	ExpiresAt time.Time      `yaml:"expiresAt"`
}

// Step is one scenario action. Exactly one action field must be set.
type Step struct {
	Event     *gateway.Event          `yaml:"event,omitempty"`
	Reconcile bool                    `yaml:"reconcile,omitempty"`
	Scan      bool                    `yaml:"scan,omitempty"`
	Rollover  bool                    `yaml:"rollover,omitempty"`
	Renew     model.MemberID          `yaml:"renew,omitempty"`
	Advance   string                  `yaml:"advance,omitempty"`
	Roster    *[]gateway.RosterMember `yaml:"roster,omitempty"`
	Ready     *bool                   `yaml:"ready,omitempty"`

	// ExpectError, if set, must be a substring of the step's error.
	ExpectError string `yaml:"expectError,omitempty"`
}

// Action names the step's action for traces and messages.
func (s Step) Action() string {
	switch {
	case s.Event != nil:
		return "event:" + string(s.Event.Type)
	case s.Reconcile:
		return "reconcile"
	case s.Scan:
		return "scan"
	case s.Rollover:
		return "rollover"
	case s.Renew != "":
		return "renew"
	case s.Advance != "":
		return "advance"
	case s.Roster != nil:
		return "roster"
	case s.Ready != nil:
		return "ready"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Event != nil, s.Reconcile, s.Scan, s.Rollover,
		s.Renew != "", s.Advance != "", s.Roster != nil, s.Ready != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Member selects the member (effect_count, member_*, contract_state).
	Member model.MemberID `yaml:"member,omitempty"`

	// Op filters outbound calls by operation (effect_count).
	Op string `yaml:"op,omitempty"`

	// Contains filters outbound calls by value substring (effect_count).
	Contains string `yaml:"contains,omitempty"`

	// Count is the expected number of matches (effect_count, outbox).
	Count int `yaml:"count"`

	// Ops is the expected order of "op:member" calls (effect_order).
	Ops []string `yaml:"ops,omitempty"`

	// State selects outbox entries (outbox).
	State string `yaml:"state,omitempty"`

	// Expect contains expected field values (member_state, contract_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEffectCount   = "effect_count"
	AssertEffectOrder   = "effect_order"
	AssertMemberExists  = "member_exists"
	AssertMemberAbsent  = "member_absent"
	AssertMemberState   = "member_state"
	AssertContractState = "contract_state"
	AssertOutbox        = "outbox"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, m := range s.Persisted.Members {
		if m.ID == "" {
			return fmt.Errorf("persisted.members[%d]: id is required", i)
		}
		if m.Tier != "" {
			if _, err := model.ParseTier(m.Tier); err != nil {
				return fmt.Errorf("persisted.members[%d]: %w", i, err)
			}
		}
	}
	for i, c := range s.Persisted.Contracts {
		if c.ID == "" || c.Member == "" {
			return fmt.Errorf("persisted.contracts[%d]: id and member are required", i)
		}
		if c.ExpiresAt.IsZero() {
			return fmt.Errorf("persisted.contracts[%d]: expiresAt is required", i)
		}
		if c.Status != "" {
			if _, err := model.ParseContractStatus(c.Status); err != nil {
				return fmt.Errorf("persisted.contracts[%d]: %w", i, err)
			}
		}
	}
	if s.League != nil && s.League.WarningWindow != "" {
		if _, err := ParseSpan(s.League.WarningWindow); err != nil {
			return fmt.Errorf("league.warningWindow: %w", err)
		}
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action required, got %d", i, n)
		}
		if step.Advance != "" {
			d, err := ParseSpan(step.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d].advance: %w", i, err)
			}
			if d <= 0 {
				return fmt.Errorf("steps[%d].advance: must be positive", i)
			}
		}
		if step.Event != nil && step.Event.MemberID == "" {
			return fmt.Errorf("steps[%d].event: member is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEffectCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for effect_count", index)
		}
	case AssertEffectOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for effect_order", index)
		}
	case AssertMemberExists, AssertMemberAbsent:
		if a.Member == "" {
			return fmt.Errorf("assertions[%d]: member is required for %s", index, a.Type)
		}
	case AssertMemberState, AssertContractState:
		if a.Member == "" {
			return fmt.Errorf("assertions[%d]: member is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertOutbox:
		switch model.EffectState(a.State) {
		case model.EffectPending, model.EffectSending, model.EffectDelivered, model.EffectDropped:
		default:
			return fmt.Errorf("assertions[%d]: unknown outbox state %q", index, a.State)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// ParseSpan parses a Go duration, or a whole number of days written "<n>d".
func ParseSpan(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
