package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidMachine(t *testing.T) {
	sm, err := Parse([]byte(`{
		"Comment": "order pipeline",
		"StartAt": "Validate",
		"States": {
			"Validate": {"Type": "Task", "Resource": "validate-order", "Next": "Route"},
			"Route": {
				"Type": "Choice",
				"Choices": [{"Variable": "$.total", "NumericGreaterThan": 100, "Next": "Review"}],
				"Default": "Done"
			},
			"Review": {"Type": "Wait", "Seconds": 1, "Next": "Done"},
			"Done": {"Type": "Succeed"}
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Validate", sm.StartAt)
	assert.Len(t, sm.States, 4)
	assert.Equal(t, StateChoice, sm.States["Route"].Type)
	require.Len(t, sm.States["Route"].Choices, 1)
	assert.Equal(t, float64(100), *sm.States["Route"].Choices[0].NumericGreaterThan)
}

func TestParseNestedMachines(t *testing.T) {
	sm, err := Parse([]byte(`{
		"StartAt": "Fan",
		"States": {
			"Fan": {
				"Type": "Parallel",
				"Branches": [
					{"StartAt": "A", "States": {"A": {"Type": "Pass", "End": true}}},
					{"StartAt": "B", "States": {"B": {"Type": "Pass", "End": true}}}
				],
				"Next": "Each"
			},
			"Each": {
				"Type": "Map",
				"ItemsPath": "$.items",
				"Iterator": {"StartAt": "I", "States": {"I": {"Type": "Pass", "End": true}}},
				"End": true
			}
		}
	}`))
	require.NoError(t, err)
	assert.Len(t, sm.States["Fan"].Branches, 2)
	assert.Equal(t, "I", sm.States["Each"].Iterator.StartAt)
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing start", `{"States": {"A": {"Type": "Succeed"}}}`},
		{"no states", `{"StartAt": "A"}`},
		{"unknown start", `{"StartAt": "B", "States": {"A": {"Type": "Succeed"}}}`},
		{"missing type", `{"StartAt": "A", "States": {"A": {"Next": "A"}}}`},
		{"unknown type", `{"StartAt": "A", "States": {"A": {"Type": "Teleport", "End": true}}}`},
		{"task without resource", `{"StartAt": "A", "States": {"A": {"Type": "Task", "End": true}}}`},
		{"task without next or end", `{"StartAt": "A", "States": {"A": {"Type": "Task", "Resource": "fn"}}}`},
		{"dangling next", `{"StartAt": "A", "States": {"A": {"Type": "Pass", "Next": "Ghost"}}}`},
		{"choice without rules", `{"StartAt": "A", "States": {"A": {"Type": "Choice"}}}`},
		{"choice rule without next", `{"StartAt": "A", "States": {"A": {"Type": "Choice", "Choices": [{"Variable": "$.x", "IsPresent": true}], "Default": "A"}}}`},
		{"wait without timing", `{"StartAt": "A", "States": {"A": {"Type": "Wait", "End": true}}}`},
		{"wait with two timings", `{"StartAt": "A", "States": {"A": {"Type": "Wait", "Seconds": 1, "SecondsPath": "$.s", "End": true}}}`},
		{"parallel without branches", `{"StartAt": "A", "States": {"A": {"Type": "Parallel", "End": true}}}`},
		{"map without iterator", `{"StartAt": "A", "States": {"A": {"Type": "Map", "End": true}}}`},
		{"catch without errors", `{"StartAt": "A", "States": {"A": {"Type": "Task", "Resource": "fn", "End": true, "Catch": [{"Next": "A"}]}}}`},
		{"bad branch", `{"StartAt": "A", "States": {"A": {"Type": "Parallel", "End": true, "Branches": [{"States": {}}]}}}`},
		{"not json", `StartAt: A`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func boolp(b bool) *bool { return &b }

func TestChoiceEvaluator(t *testing.T) {
	input := mustJSON(t, `{
		"name": "ada",
		"total": 42,
		"active": true,
		"when": "2026-08-01T10:00:00Z",
		"maybe": null
	}`)

	s := func(v string) *string { return &v }
	n := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		rule *ChoiceRule
		want bool
	}{
		{"string equals", &ChoiceRule{Variable: "$.name", StringEquals: s("ada")}, true},
		{"string less than", &ChoiceRule{Variable: "$.name", StringLessThan: s("bob")}, true},
		{"numeric range", &ChoiceRule{Variable: "$.total", NumericGreaterThan: n(40)}, true},
		{"numeric equals miss", &ChoiceRule{Variable: "$.total", NumericEquals: n(41)}, false},
		{"boolean", &ChoiceRule{Variable: "$.active", BooleanEquals: boolp(true)}, true},
		{"timestamp after", &ChoiceRule{Variable: "$.when", TimestampGreaterThan: s("2026-01-01T00:00:00Z")}, true},
		{"timestamp on non-timestamp", &ChoiceRule{Variable: "$.name", TimestampEquals: s("2026-01-01T00:00:00Z")}, false},
		{"timestamp at most, equal", &ChoiceRule{Variable: "$.when", TimestampLessThanEquals: s("2026-08-01T10:00:00Z")}, true},
		{"timestamp at most, later", &ChoiceRule{Variable: "$.when", TimestampLessThanEquals: s("2026-01-01T00:00:00Z")}, false},
		{"timestamp at least, equal", &ChoiceRule{Variable: "$.when", TimestampGreaterThanEquals: s("2026-08-01T10:00:00Z")}, true},
		{"timestamp at least, earlier", &ChoiceRule{Variable: "$.when", TimestampGreaterThanEquals: s("2026-12-01T00:00:00Z")}, false},
		{"missing variable is false", &ChoiceRule{Variable: "$.ghost", StringEquals: s("x")}, false},
		{"wrong type is false", &ChoiceRule{Variable: "$.total", StringEquals: s("42")}, false},
		{"is present", &ChoiceRule{Variable: "$.name", IsPresent: boolp(true)}, true},
		{"is present inverted", &ChoiceRule{Variable: "$.ghost", IsPresent: boolp(false)}, true},
		{"is null", &ChoiceRule{Variable: "$.maybe", IsNull: boolp(true)}, true},
		{"is string negative", &ChoiceRule{Variable: "$.total", IsString: boolp(false)}, true},
		{"is numeric", &ChoiceRule{Variable: "$.total", IsNumeric: boolp(true)}, true},
		{
			"and",
			&ChoiceRule{And: []*ChoiceRule{
				{Variable: "$.total", NumericGreaterThan: n(40)},
				{Variable: "$.active", BooleanEquals: boolp(true)},
			}},
			true,
		},
		{
			"or short circuit",
			&ChoiceRule{Or: []*ChoiceRule{
				{Variable: "$.ghost", IsPresent: boolp(true)},
				{Variable: "$.name", StringEquals: s("ada")},
			}},
			true,
		},
		{"not", &ChoiceRule{Not: &ChoiceRule{Variable: "$.name", StringEquals: s("bob")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalRule(tt.rule, input))
		})
	}
}

func TestEvalChoiceSelection(t *testing.T) {
	n := func(v float64) *float64 { return &v }
	st := &State{
		Type: StateChoice,
		Choices: []*ChoiceRule{
			{Variable: "$.total", NumericGreaterThan: n(100), Next: "Big"},
			{Variable: "$.total", NumericGreaterThan: n(10), Next: "Medium"},
		},
		Default: "Small",
	}

	next, err := evalChoice(st, mustJSON(t, `{"total": 50}`))
	require.NoError(t, err)
	assert.Equal(t, "Medium", next, "first matching rule wins")

	next, err = evalChoice(st, mustJSON(t, `{"total": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "Small", next)

	st.Default = ""
	_, err = evalChoice(st, mustJSON(t, `{"total": 1}`))
	require.Error(t, err)
	var serr *stateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrNoChoiceMatched, serr.Code)
}
