package availability

import (
	"fmt"
	"strings"
	"time"
)

// Break is a half-open interval [Start, End) during which no slot may start.
type Break struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (b Break) Contains(t TimeOfDay) bool {
	return b.Start <= t && t < b.End
}

// ScheduleRule is the recurring availability of one provider on one weekday.
type ScheduleRule struct {
	Weekday             time.Weekday
	IsAvailable         bool
	StartTime           TimeOfDay
	EndTime             TimeOfDay
	SlotDurationMinutes int
	Breaks              []Break
}

// InBreak reports whether a slot starting at t falls inside any break.
func (r ScheduleRule) InBreak(t TimeOfDay) bool {
	for _, b := range r.Breaks {
		if b.Contains(t) {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with r.
func (r ScheduleRule) Clone() ScheduleRule {
	out := r
	if r.Breaks != nil {
		out.Breaks = make([]Break, len(r.Breaks))
		copy(out.Breaks, r.Breaks)
	}
	return out
}

func (r ScheduleRule) unconfigured() bool {
	return r.StartTime == 0 && r.EndTime == 0 && r.SlotDurationMinutes == 0 && len(r.Breaks) == 0
}

// Week holds one rule per weekday, indexed by time.Weekday.
type Week [7]ScheduleRule

// RestWeek returns a week where every day is unavailable.
func RestWeek() Week {
	var w Week
	for d := time.Sunday; d <= time.Saturday; d++ {
		w[d] = ScheduleRule{Weekday: d}
	}
	return w
}

// DefaultRule is the working day handed out to newly seeded providers.
func DefaultRule(day time.Weekday) ScheduleRule {
	return ScheduleRule{
		Weekday:             day,
		IsAvailable:         true,
		StartTime:           NewTimeOfDay(9, 0),
		EndTime:             NewTimeOfDay(17, 0),
		SlotDurationMinutes: 30,
	}
}

func WeekdayName(d time.Weekday) string {
	return strings.ToUpper(d.String())
}

func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
