package workflow

import (
	"fmt"
	"time"
)

// ErrNoChoiceMatched is the error code raised when no rule matches and
// the Choice state has no Default.
const ErrNoChoiceMatched = "States.NoChoiceMatched"

// evalChoice picks the next state for a Choice. The first matching
// rule wins; Default is the fallback.
func evalChoice(st *State, input any) (string, error) {
	for _, rule := range st.Choices {
		if evalRule(rule, input) {
			return rule.Next, nil
		}
	}
	if st.Default != "" {
		return st.Default, nil
	}
	return "", &stateError{Code: ErrNoChoiceMatched, Cause: "no choice rule matched and no default set"}
}

// evalRule is total: a missing variable or mistyped value makes the
// rule false, never an error.
func evalRule(rule *ChoiceRule, input any) bool {
	switch {
	case len(rule.And) > 0:
		for _, sub := range rule.And {
			if !evalRule(sub, input) {
				return false
			}
		}
		return true
	case len(rule.Or) > 0:
		for _, sub := range rule.Or {
			if evalRule(sub, input) {
				return true
			}
		}
		return false
	case rule.Not != nil:
		return !evalRule(rule.Not, input)
	}

	value, err := resolvePath(input, rule.Variable)
	present := err == nil

	// IsPresent tests presence itself; false inverts
	if rule.IsPresent != nil {
		return present == *rule.IsPresent
	}
	if !present {
		return false
	}

	switch {
	case rule.IsNull != nil:
		return (value == nil) == *rule.IsNull
	case rule.IsString != nil:
		_, ok := value.(string)
		return ok == *rule.IsString
	case rule.IsNumeric != nil:
		_, ok := value.(float64)
		return ok == *rule.IsNumeric
	case rule.IsBoolean != nil:
		_, ok := value.(bool)
		return ok == *rule.IsBoolean

	case rule.StringEquals != nil:
		return stringCmp(value, *rule.StringEquals, func(c int) bool { return c == 0 })
	case rule.StringLessThan != nil:
		return stringCmp(value, *rule.StringLessThan, func(c int) bool { return c < 0 })
	case rule.StringGreaterThan != nil:
		return stringCmp(value, *rule.StringGreaterThan, func(c int) bool { return c > 0 })
	case rule.StringLessThanEquals != nil:
		return stringCmp(value, *rule.StringLessThanEquals, func(c int) bool { return c <= 0 })
	case rule.StringGreaterThanEquals != nil:
		return stringCmp(value, *rule.StringGreaterThanEquals, func(c int) bool { return c >= 0 })

	case rule.NumericEquals != nil:
		return numericCmp(value, *rule.NumericEquals, func(a, b float64) bool { return a == b })
	case rule.NumericLessThan != nil:
		return numericCmp(value, *rule.NumericLessThan, func(a, b float64) bool { return a < b })
	case rule.NumericGreaterThan != nil:
		return numericCmp(value, *rule.NumericGreaterThan, func(a, b float64) bool { return a > b })
	case rule.NumericLessThanEquals != nil:
		return numericCmp(value, *rule.NumericLessThanEquals, func(a, b float64) bool { return a <= b })
	case rule.NumericGreaterThanEquals != nil:
		return numericCmp(value, *rule.NumericGreaterThanEquals, func(a, b float64) bool { return a >= b })

	case rule.BooleanEquals != nil:
		b, ok := value.(bool)
		return ok && b == *rule.BooleanEquals

	case rule.TimestampEquals != nil:
		return timestampCmp(value, *rule.TimestampEquals, func(a, b time.Time) bool { return a.Equal(b) })
	case rule.TimestampLessThan != nil:
		return timestampCmp(value, *rule.TimestampLessThan, func(a, b time.Time) bool { return a.Before(b) })
	case rule.TimestampGreaterThan != nil:
		return timestampCmp(value, *rule.TimestampGreaterThan, func(a, b time.Time) bool { return a.After(b) })
	case rule.TimestampLessThanEquals != nil:
		return timestampCmp(value, *rule.TimestampLessThanEquals, func(a, b time.Time) bool { return !a.After(b) })
	case rule.TimestampGreaterThanEquals != nil:
		return timestampCmp(value, *rule.TimestampGreaterThanEquals, func(a, b time.Time) bool { return !a.Before(b) })
	}
	return false
}

func stringCmp(value any, against string, ok func(int) bool) bool {
	s, isStr := value.(string)
	if !isStr {
		return false
	}
	switch {
	case s == against:
		return ok(0)
	case s < against:
		return ok(-1)
	default:
		return ok(1)
	}
}

func numericCmp(value any, against float64, ok func(a, b float64) bool) bool {
	n, isNum := value.(float64)
	return isNum && ok(n, against)
}

// timestampCmp parses both sides as ISO-8601 instants; parse failures
// make the rule false.
func timestampCmp(value any, against string, ok func(a, b time.Time) bool) bool {
	s, isStr := value.(string)
	if !isStr {
		return false
	}
	a, errA := time.Parse(time.RFC3339, s)
	b, errB := time.Parse(time.RFC3339, against)
	if errA != nil || errB != nil {
		return false
	}
	return ok(a, b)
}

// stateError is a coded execution error: the code drives retry/catch
// matching, the cause is diagnostic.
type stateError struct {
	Code  string
	Cause string
}

func (e *stateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Cause)
}
