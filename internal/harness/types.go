package harness

import "github.com/lwidev/therockqc/internal/model"

// TraceEvent is one outbound call, tagged with the step that caused it.
type TraceEvent struct {
	Step     int            `json:"step"`
	Action   string         `json:"action"`
	Op       string         `json:"op"`
	MemberID model.MemberID `json:"member_id"`
	Value    string         `json:"value"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the name of the scenario that produced this result.
	Scenario string `json:"scenario"`

	// Pass is true if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the outbound calls in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
