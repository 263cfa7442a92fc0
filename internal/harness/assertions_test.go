package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Step: 0, Action: "event:member_joined", Op: "grant_role", MemberID: "A", Value: "Recruit"},
	{Step: 0, Action: "event:member_joined", Op: "direct_message", MemberID: "A", Value: "Welcome to the league!"},
	{Step: 1, Action: "reconcile", Op: "grant_role", MemberID: "B", Value: "Recruit"},
	{Step: 2, Action: "scan", Op: "direct_message", MemberID: "A", Value: "Your contract expired."},
}

func TestAssertEffectCount(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		pass      bool
	}{
		{"all", Assertion{Count: 4}, true},
		{"by op", Assertion{Op: "grant_role", Count: 2}, true},
		{"by member", Assertion{Member: "A", Count: 3}, true},
		{"by op and member", Assertion{Op: "direct_message", Member: "A", Count: 2}, true},
		{"by text", Assertion{Contains: "expired", Count: 1}, true},
		{"none", Assertion{Member: "Z", Count: 0}, true},
		{"wrong count", Assertion{Op: "revoke_role", Count: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertEffectCount
			err := assertEffectCount(sampleTrace, tt.assertion)
			if tt.pass {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertEffectOrder(t *testing.T) {
	ok := Assertion{Type: AssertEffectOrder, Ops: []string{"grant_role:A", "grant_role:B", "direct_message:A"}}
	assert.NoError(t, assertEffectOrder(sampleTrace, ok))

	reversed := Assertion{Type: AssertEffectOrder, Ops: []string{"grant_role:B", "grant_role:A"}}
	err := assertEffectOrder(sampleTrace, reversed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grant_role:A")
}

func TestAssertionError_Message(t *testing.T) {
	err := assertEffectCount(sampleTrace[:1], Assertion{Type: AssertEffectCount, Op: "grant_role", Member: "A", Count: 3})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: effect_count")
	assert.Contains(t, msg, "3 calls matching op=grant_role member=A")
	assert.Contains(t, msg, "Actual: 1 calls")
	assert.Contains(t, msg, "[1] step 0 event:member_joined: grant_role A")
}

func TestMatchFields(t *testing.T) {
	actual := map[string]interface{}{
		"tier":  "prospect",
		"score": int64(205),
		"avg":   float64(12.5),
	}

	assert.NoError(t, matchFields("m", actual, map[string]interface{}{"tier": "prospect", "score": 205}))
	assert.NoError(t, matchFields("m", actual, map[string]interface{}{"avg": 12.5}))

	err := matchFields("m", actual, map[string]interface{}{"score": 200})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "score" = 205`)

	err = matchFields("m", actual, map[string]interface{}{"rank": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected interface{}
		actual   interface{}
		want     bool
	}{
		{"string", "a", "a", true},
		{"string mismatch", "a", "b", false},
		{"yaml int vs int64", 3, int64(3), true},
		{"yaml int vs float", 200, float64(200), true},
		{"yaml int vs string", 3, "3", false},
		{"float vs int64", 2.0, int64(2), true},
		{"bool", true, true, true},
		{"nil pair", nil, nil, true},
		{"nil vs value", nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestEvaluateAssertions_StoreContextRequired(t *testing.T) {
	got := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertEffectCount, Count: 0},
		{Type: AssertMemberExists, Member: "A"},
	}, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "requires store context")
}
