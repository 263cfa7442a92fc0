package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/lwidev/therockqc/internal/app"
	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/model"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s: %s %s\n", i+1, event.Step, event.Action, event.Op, event.MemberID)
		}
	}
	return buf.String()
}

// assertEffectCount checks how many outbound calls match the filters.
func assertEffectCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.Op != "" && event.Op != assertion.Op {
			continue
		}
		if assertion.Member != "" && event.MemberID != assertion.Member {
			continue
		}
		if assertion.Contains != "" && !strings.Contains(event.Value, assertion.Contains) {
			continue
		}
		count++
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEffectCount,
			Expected: fmt.Sprintf("%d calls matching %s", assertion.Count, describeFilter(assertion)),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}
	return nil
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.Op != "" {
		parts = append(parts, "op="+a.Op)
	}
	if a.Member != "" {
		parts = append(parts, "member="+string(a.Member))
	}
	if a.Contains != "" {
		parts = append(parts, fmt.Sprintf("contains=%q", a.Contains))
	}
	if len(parts) == 0 {
		return "(any)"
	}
	return strings.Join(parts, " ")
}

// assertEffectOrder checks that the "op:member" calls appear in order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertEffectOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Ops) && event.Op+":"+string(event.MemberID) == assertion.Ops[next] {
			next++
		}
	}
	if next < len(assertion.Ops) {
		return &AssertionError{
			Type:     AssertEffectOrder,
			Expected: fmt.Sprintf("calls in order: %v", assertion.Ops),
			Actual:   fmt.Sprintf("missing or out of order: %s", assertion.Ops[next]),
			Trace:    trace,
		}
	}
	return nil
}

func assertMemberPresence(ctx context.Context, a *app.App, assertion Assertion) error {
	_, err := a.Store.GetMember(ctx, assertion.Member)
	exists := err == nil
	if err != nil && !errs.IsNotFound(err) {
		return fmt.Errorf("read member %s: %w", assertion.Member, err)
	}
	want := assertion.Type == AssertMemberExists
	if exists != want {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("member %s persisted = %t", assertion.Member, want),
			Actual:   fmt.Sprintf("persisted = %t", exists),
		}
	}
	return nil
}

// memberFields flattens a member for subset matching.
func memberFields(m model.Member) map[string]interface{} {
	c := m.Counters
	return map[string]interface{}{
		"display_name":           m.DisplayName,
		"tier":                   m.Tier.String(),
		"version":                m.Version,
		"score":                  c.Score,
		"lifetime_messages":      c.LifetimeMessages,
		"daily_messages":         c.DailyMessages,
		"avg_daily_messages":     c.AvgDailyMessages,
		"active_days":            c.ActiveDays,
		"responses":              c.Responses,
		"tags":                   c.Tags,
		"lifetime_voice_minutes": c.LifetimeVoiceMinutes,
		"daily_voice_minutes":    c.DailyVoiceMinutes,
		"voice_active_days":      c.VoiceActiveDays,
		"last_day":               c.LastDay,
	}
}

// contractFields flattens a contract for subset matching.
func contractFields(c model.Contract) map[string]interface{} {
	return map[string]interface{}{
		"id":             c.ID,
		"team":           c.Team,
		"salary":         c.Salary,
		"duration_years": int64(c.DurationYears),
		"status":         string(c.Status),
		"previous_id":    c.PreviousID,
		"start_date":     c.StartDate.Format(model.DayLayout),
		"expires_at":     c.ExpiresAt.Format(model.DayLayout),
		"version":        c.Version,
	}
}

func assertMemberState(ctx context.Context, a *app.App, assertion Assertion) error {
	m, err := a.Store.GetMember(ctx, assertion.Member)
	if err != nil {
		return &AssertionError{
			Type:     AssertMemberState,
			Expected: fmt.Sprintf("member %s", assertion.Member),
			Actual:   err.Error(),
		}
	}
	return matchFields(AssertMemberState, memberFields(m), assertion.Expect)
}

func assertContractState(ctx context.Context, a *app.App, assertion Assertion) error {
	c, err := a.Store.GetContract(ctx, assertion.Member)
	if err != nil {
		return &AssertionError{
			Type:     AssertContractState,
			Expected: fmt.Sprintf("contract for %s", assertion.Member),
			Actual:   err.Error(),
		}
	}
	actual := contractFields(c)
	history, err := a.Store.ContractHistory(ctx, assertion.Member)
	if err != nil {
		return fmt.Errorf("read contract history %s: %w", assertion.Member, err)
	}
	actual["history"] = int64(len(history))
	return matchFields(AssertContractState, actual, assertion.Expect)
}

func assertOutbox(ctx context.Context, a *app.App, assertion Assertion) error {
	counts, err := a.Store.CountEffects(ctx)
	if err != nil {
		return fmt.Errorf("count outbox: %w", err)
	}
	got := counts[model.EffectState(assertion.State)]
	if got != assertion.Count {
		return &AssertionError{
			Type:     AssertOutbox,
			Expected: fmt.Sprintf("%d entries in state %s", assertion.Count, assertion.State),
			Actual:   fmt.Sprintf("%d entries", got),
		}
	}
	return nil
}

// matchFields checks each expected field (subset semantics).
// Keys are visited in sorted order so the first failure is deterministic.
func matchFields(kind string, actual, expected map[string]interface{}) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !stateValuesEqual(expected[key], actualValue) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected[key], expected[key]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expected value with a field
// value. YAML integers decode as int and must match int64 fields.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		actualStr, ok := actual.(string)
		return ok && exp == actualStr
	case int:
		switch act := actual.(type) {
		case int64:
			return int64(exp) == act
		case float64:
			return float64(exp) == act
		}
		return false
	case int64:
		actualInt, ok := actual.(int64)
		return ok && exp == actualInt
	case float64:
		switch act := actual.(type) {
		case float64:
			return exp == act
		case int64:
			return exp == float64(act)
		}
		return false
	case bool:
		actualBool, ok := actual.(bool)
		return ok && exp == actualBool
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	App *app.App
	Ctx context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEffectCount:
			err = assertEffectCount(result.Trace, assertion)
		case AssertEffectOrder:
			err = assertEffectOrder(result.Trace, assertion)
		case AssertMemberExists, AssertMemberAbsent, AssertMemberState, AssertContractState, AssertOutbox:
			if actx == nil || actx.App == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertMemberExists, AssertMemberAbsent:
				err = assertMemberPresence(actx.Ctx, actx.App, assertion)
			case AssertMemberState:
				err = assertMemberState(actx.Ctx, actx.App, assertion)
			case AssertContractState:
				err = assertContractState(actx.Ctx, actx.App, assertion)
			case AssertOutbox:
				err = assertOutbox(actx.Ctx, actx.App, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
