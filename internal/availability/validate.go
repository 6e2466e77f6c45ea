package availability

import (
	"fmt"
	"strings"
	"time"
)

// Violation is a single problem found while validating input.
type Violation struct {
	Field   string
	Message string
}

// ValidationError reports every violation found, not just the first one.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Violations) > 0
}

// Err returns e as an error, or nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// ValidateWeek checks all seven rules and returns a *ValidationError listing
// every violation, or nil.
func ValidateWeek(week Week) error {
	vErr := &ValidationError{}
	for i, rule := range week {
		day := time.Weekday(i)
		prefix := strings.ToLower(day.String())
		if rule.Weekday != day {
			vErr.Add(prefix+".weekday", "rule for %s stored under %s", rule.Weekday, day)
		}
		validateRule(prefix, rule, vErr)
	}
	return vErr.Err()
}

// ValidateRule checks a single weekday rule.
func ValidateRule(rule ScheduleRule) error {
	vErr := &ValidationError{}
	validateRule(strings.ToLower(rule.Weekday.String()), rule, vErr)
	return vErr.Err()
}

func validateRule(prefix string, rule ScheduleRule, vErr *ValidationError) {
	// A rest day that was never given hours is fine as it is.
	if !rule.IsAvailable && rule.unconfigured() {
		return
	}

	if !rule.StartTime.Valid() || rule.StartTime == EndOfDay {
		vErr.Add(prefix+".start_time", "must be between 00:00 and 23:59")
	}
	if !rule.EndTime.Valid() || rule.EndTime == Midnight {
		vErr.Add(prefix+".end_time", "must be between 00:01 and 24:00")
	}
	if rule.StartTime >= rule.EndTime {
		vErr.Add(prefix+".end_time", "must be after start_time %s", rule.StartTime)
	}
	if rule.SlotDurationMinutes <= 0 {
		vErr.Add(prefix+".slot_duration_minutes", "must be greater than zero")
	}

	for i, b := range rule.Breaks {
		field := fmt.Sprintf("%s.breaks[%d]", prefix, i)
		if b.Start >= b.End {
			vErr.Add(field, "start %s must be before end %s", b.Start, b.End)
		}
		if b.Start < rule.StartTime || b.Start >= rule.EndTime || b.End > rule.EndTime {
			vErr.Add(field, "must lie within %s-%s", rule.StartTime, rule.EndTime)
		}
		if i == 0 {
			continue
		}
		prev := rule.Breaks[i-1]
		switch {
		case b.Start < prev.Start:
			vErr.Add(field, "must not start before the previous break at %s", prev.Start)
		case b.Start < prev.End:
			vErr.Add(field, "overlaps the previous break ending at %s", prev.End)
		}
	}
}
