package workflow

import (
	"encoding/json"
	"fmt"
)

// State types.
const (
	StateTask     = "Task"
	StateChoice   = "Choice"
	StateWait     = "Wait"
	StateParallel = "Parallel"
	StateMap      = "Map"
	StatePass     = "Pass"
	StateSucceed  = "Succeed"
	StateFail     = "Fail"
)

// StateMachine is a parsed state-machine definition.
type StateMachine struct {
	Comment string
	StartAt string
	States  map[string]*State
}

// Retry is one retry rule for a task error.
type Retry struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds float64  `json:"IntervalSeconds"`
	MaxAttempts     *int     `json:"MaxAttempts"`
	BackoffRate     float64  `json:"BackoffRate"`
}

// Catch routes a task error to another state.
type Catch struct {
	ErrorEquals []string `json:"ErrorEquals"`
	ResultPath  Path     `json:"ResultPath"`
	Next        string   `json:"Next"`
}

// ChoiceRule is one branch of a Choice state: either a leaf comparison
// or a combinator over subrules.
type ChoiceRule struct {
	Variable string `json:"Variable"`

	And []*ChoiceRule `json:"And"`
	Or  []*ChoiceRule `json:"Or"`
	Not *ChoiceRule   `json:"Not"`

	StringEquals               *string  `json:"StringEquals"`
	StringLessThan             *string  `json:"StringLessThan"`
	StringGreaterThan          *string  `json:"StringGreaterThan"`
	StringLessThanEquals       *string  `json:"StringLessThanEquals"`
	StringGreaterThanEquals    *string  `json:"StringGreaterThanEquals"`
	NumericEquals              *float64 `json:"NumericEquals"`
	NumericLessThan            *float64 `json:"NumericLessThan"`
	NumericGreaterThan         *float64 `json:"NumericGreaterThan"`
	NumericLessThanEquals      *float64 `json:"NumericLessThanEquals"`
	NumericGreaterThanEquals   *float64 `json:"NumericGreaterThanEquals"`
	BooleanEquals              *bool    `json:"BooleanEquals"`
	TimestampEquals            *string  `json:"TimestampEquals"`
	TimestampLessThan          *string  `json:"TimestampLessThan"`
	TimestampGreaterThan       *string  `json:"TimestampGreaterThan"`
	TimestampLessThanEquals    *string  `json:"TimestampLessThanEquals"`
	TimestampGreaterThanEquals *string  `json:"TimestampGreaterThanEquals"`
	IsPresent                  *bool    `json:"IsPresent"`
	IsNull                     *bool    `json:"IsNull"`
	IsString                   *bool    `json:"IsString"`
	IsNumeric                  *bool    `json:"IsNumeric"`
	IsBoolean                  *bool    `json:"IsBoolean"`

	Next string `json:"Next"`
}

// State is one parsed state. Fields apply per the Type discriminator.
type State struct {
	Type    string `json:"Type"`
	Comment string `json:"Comment"`
	Next    string `json:"Next"`
	End     bool   `json:"End"`

	InputPath  Path `json:"InputPath"`
	OutputPath Path `json:"OutputPath"`
	ResultPath Path `json:"ResultPath"`

	Parameters     any `json:"Parameters"`
	ResultSelector any `json:"ResultSelector"`

	// Task
	Resource       string   `json:"Resource"`
	TimeoutSeconds int      `json:"TimeoutSeconds"`
	Retry          []*Retry `json:"Retry"`
	Catch          []*Catch `json:"Catch"`

	// Choice
	Choices []*ChoiceRule `json:"Choices"`
	Default string        `json:"Default"`

	// Wait
	Seconds       *float64 `json:"Seconds"`
	SecondsPath   string   `json:"SecondsPath"`
	Timestamp     string   `json:"Timestamp"`
	TimestampPath string   `json:"TimestampPath"`

	// Parallel
	Branches []*StateMachine `json:"Branches"`

	// Map
	ItemsPath      string        `json:"ItemsPath"`
	Iterator       *StateMachine `json:"Iterator"`
	MaxConcurrency int           `json:"MaxConcurrency"`

	// Pass
	Result any `json:"Result"`

	// Fail
	Error string `json:"Error"`
	Cause string `json:"Cause"`
}

// rawMachine is the wire form before structural validation.
type rawMachine struct {
	Comment string            `json:"Comment"`
	StartAt string            `json:"StartAt"`
	States  map[string]*State `json:"States"`
}

// UnmarshalJSON parses and validates a nested machine (Parallel branch
// or Map iterator).
func (sm *StateMachine) UnmarshalJSON(b []byte) error {
	var raw rawMachine
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*sm = *parsed
	return nil
}

// Parse parses an ASL JSON document into a validated state machine.
func Parse(definition []byte) (*StateMachine, error) {
	var raw rawMachine
	if err := json.Unmarshal(definition, &raw); err != nil {
		return nil, fmt.Errorf("invalid state machine document: %w", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawMachine) (*StateMachine, error) {
	if raw.StartAt == "" {
		return nil, fmt.Errorf("state machine needs StartAt")
	}
	if len(raw.States) == 0 {
		return nil, fmt.Errorf("state machine needs States")
	}
	if _, ok := raw.States[raw.StartAt]; !ok {
		return nil, fmt.Errorf("StartAt names unknown state %q", raw.StartAt)
	}
	for name, st := range raw.States {
		if err := validateState(name, st, raw.States); err != nil {
			return nil, err
		}
	}
	return &StateMachine{Comment: raw.Comment, StartAt: raw.StartAt, States: raw.States}, nil
}

func validateState(name string, st *State, all map[string]*State) error {
	checkNext := func(next string) error {
		if next == "" {
			return nil
		}
		if _, ok := all[next]; !ok {
			return fmt.Errorf("state %q: Next names unknown state %q", name, next)
		}
		return nil
	}

	switch st.Type {
	case StateTask:
		if st.Resource == "" {
			return fmt.Errorf("state %q: Task needs Resource", name)
		}
		if !st.End && st.Next == "" {
			return fmt.Errorf("state %q: Task needs Next or End", name)
		}
		for _, c := range st.Catch {
			if err := checkNext(c.Next); err != nil {
				return err
			}
			if len(c.ErrorEquals) == 0 {
				return fmt.Errorf("state %q: Catch needs ErrorEquals", name)
			}
		}
		for _, r := range st.Retry {
			if len(r.ErrorEquals) == 0 {
				return fmt.Errorf("state %q: Retry needs ErrorEquals", name)
			}
		}

	case StateChoice:
		if len(st.Choices) == 0 {
			return fmt.Errorf("state %q: Choice needs Choices", name)
		}
		for _, c := range st.Choices {
			if c.Next == "" {
				return fmt.Errorf("state %q: every choice rule needs Next", name)
			}
			if err := checkNext(c.Next); err != nil {
				return err
			}
		}
		if err := checkNext(st.Default); err != nil {
			return err
		}

	case StateWait:
		set := 0
		if st.Seconds != nil {
			set++
		}
		if st.SecondsPath != "" {
			set++
		}
		if st.Timestamp != "" {
			set++
		}
		if st.TimestampPath != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("state %q: Wait needs exactly one of Seconds, SecondsPath, Timestamp, TimestampPath", name)
		}
		if !st.End && st.Next == "" {
			return fmt.Errorf("state %q: Wait needs Next or End", name)
		}

	case StateParallel:
		if len(st.Branches) == 0 {
			return fmt.Errorf("state %q: Parallel needs Branches", name)
		}
		if !st.End && st.Next == "" {
			return fmt.Errorf("state %q: Parallel needs Next or End", name)
		}

	case StateMap:
		if st.Iterator == nil {
			return fmt.Errorf("state %q: Map needs Iterator", name)
		}
		if !st.End && st.Next == "" {
			return fmt.Errorf("state %q: Map needs Next or End", name)
		}

	case StatePass:
		if !st.End && st.Next == "" {
			return fmt.Errorf("state %q: Pass needs Next or End", name)
		}

	case StateSucceed, StateFail:
		// terminal

	case "":
		return fmt.Errorf("state %q: missing Type", name)
	default:
		return fmt.Errorf("state %q: unknown type %q", name, st.Type)
	}
	return checkNext(st.Next)
}
