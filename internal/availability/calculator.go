// Package availability turns a weekly schedule, exception lists and existing
// reservations into the ordered slot list for one provider day. Everything
// here is pure: callers gather the inputs and pass them in.
package availability

import "time"

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
	SlotBlocked   SlotStatus = "BLOCKED"
	SlotPassed    SlotStatus = "PASSED"
)

type Period string

const (
	Morning   Period = "Morning"
	Afternoon Period = "Afternoon"
	Evening   Period = "Evening"
)

func PeriodOf(t TimeOfDay) Period {
	switch {
	case t.Hour() < 12:
		return Morning
	case t.Hour() < 17:
		return Afternoon
	default:
		return Evening
	}
}

type Slot struct {
	Time   TimeOfDay
	Status SlotStatus
	Period Period
}

// Day is everything known about one provider day at the time of the call.
// Rule is nil when the provider never configured that weekday.
type Day struct {
	Date    Date
	Rule    *ScheduleRule
	OnLeave bool
	Blocked []TimeOfDay
	Booked  []TimeOfDay
}

// Times returns the slot start grid for rule: start + k*duration, dropping
// starts inside a break and any trailing interval that does not fit.
func Times(rule ScheduleRule) []TimeOfDay {
	if !rule.IsAvailable || rule.SlotDurationMinutes <= 0 {
		return nil
	}
	var out []TimeOfDay
	for t := rule.StartTime; t.AddMinutes(rule.SlotDurationMinutes) <= rule.EndTime; t = t.AddMinutes(rule.SlotDurationMinutes) {
		if rule.InBreak(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Compute lists the slots of day in time order. It never returns nil; a day
// on leave, without a rule or marked unavailable yields an empty slice.
//
// Status precedence is BLOCKED, BOOKED, PASSED, AVAILABLE. A slot is PASSED
// when its start instant in loc is before now.
func Compute(day Day, now time.Time, loc *time.Location) []Slot {
	slots := []Slot{}
	if day.OnLeave || day.Rule == nil || !day.Rule.IsAvailable {
		return slots
	}

	blocked := toSet(day.Blocked)
	booked := toSet(day.Booked)

	for _, t := range Times(*day.Rule) {
		status := SlotAvailable
		switch {
		case blocked[t]:
			status = SlotBlocked
		case booked[t]:
			status = SlotBooked
		case day.Date.At(t, loc).Before(now):
			// Not only today: every slot of an earlier date has passed, which
			// is what keeps past dates unbookable.
			status = SlotPassed
		}
		slots = append(slots, Slot{Time: t, Status: status, Period: PeriodOf(t)})
	}
	return slots
}

// Find looks up the slot starting at t.
func Find(slots []Slot, t TimeOfDay) (Slot, bool) {
	for _, s := range slots {
		if s.Time == t {
			return s, true
		}
	}
	return Slot{}, false
}

type DayKind string

const (
	DayLeave   DayKind = "LEAVE"
	DayWorking DayKind = "WORKING"
	DayRest    DayKind = "REST"
)

// Classify summarizes a day for the month calendar.
func Classify(rule *ScheduleRule, onLeave bool) DayKind {
	switch {
	case onLeave:
		return DayLeave
	case rule != nil && rule.IsAvailable:
		return DayWorking
	default:
		return DayRest
	}
}

func toSet(times []TimeOfDay) map[TimeOfDay]bool {
	set := make(map[TimeOfDay]bool, len(times))
	for _, t := range times {
		set[t] = true
	}
	return set
}
