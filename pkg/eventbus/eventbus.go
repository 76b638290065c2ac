package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusNotFound reports an operation against an unknown bus.
	ErrBusNotFound = errors.New("event bus not found")

	// ErrRuleNotFound reports an unknown rule.
	ErrRuleNotFound = errors.New("rule not found")
)

// Event is one entry put on a bus.
type Event struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
	BusName    string          `json:"-"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(source, detailType string, detail json.RawMessage) Event {
	return Event{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Detail:     detail,
		Time:       time.Now().UTC(),
	}
}

// Target names where a matched event goes: a compute function or a
// queue, exactly one set.
type Target struct {
	Function string
	Queue    string
}

// Rule routes events to targets, either by pattern or on a schedule.
type Rule struct {
	Name     string
	Pattern  map[string][]string // field -> accepted values
	Schedule string              // rate(...) or cron(...)
	Targets  []Target
}

// Matches applies the pattern to an event: every pattern field must
// hold one of the accepted values. Scheduled rules never match puts.
func (r *Rule) Matches(ev Event) bool {
	if r.Schedule != "" || len(r.Pattern) == 0 {
		return false
	}
	for field, accepted := range r.Pattern {
		var got string
		switch field {
		case "source":
			got = ev.Source
		case "detail-type":
			got = ev.DetailType
		default:
			return false
		}
		found := false
		for _, v := range accepted {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cronSpec translates a schedule expression into a robfig/cron spec.
// rate(N unit) becomes @every; cron(...) passes its six-field body
// through with the seconds field dropped when present.
func cronSpec(schedule string) (string, error) {
	switch {
	case strings.HasPrefix(schedule, "rate(") && strings.HasSuffix(schedule, ")"):
		body := strings.TrimSuffix(strings.TrimPrefix(schedule, "rate("), ")")
		fields := strings.Fields(body)
		if len(fields) != 2 {
			return "", fmt.Errorf("invalid rate expression %q", schedule)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid rate value in %q", schedule)
		}
		var unit time.Duration
		switch strings.TrimSuffix(fields[1], "s") {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "second":
			unit = time.Second
		default:
			return "", fmt.Errorf("invalid rate unit in %q", schedule)
		}
		return "@every " + (time.Duration(n) * unit).String(), nil

	case strings.HasPrefix(schedule, "cron(") && strings.HasSuffix(schedule, ")"):
		body := strings.TrimSuffix(strings.TrimPrefix(schedule, "cron("), ")")
		fields := strings.Fields(body)
		// the source dialect carries (minute hour dom month dow year);
		// drop the year field the cron library does not know
		if len(fields) == 6 {
			fields = fields[:5]
		}
		if len(fields) != 5 {
			return "", fmt.Errorf("invalid cron expression %q", schedule)
		}
		for i, f := range fields {
			if f == "?" {
				fields[i] = "*"
			}
		}
		return strings.Join(fields, " "), nil
	}
	return "", fmt.Errorf("schedule must be rate(...) or cron(...), got %q", schedule)
}
