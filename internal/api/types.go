package api

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/availability"
)

// Requests

type BreakRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type DayRuleRequest struct {
	DayOfWeek           string         `json:"day_of_week" validate:"required,oneof=SUNDAY MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY"`
	IsAvailable         bool           `json:"is_available"`
	StartTime           string         `json:"start_time"`
	EndTime             string         `json:"end_time"`
	SlotDurationMinutes int            `json:"slot_duration_minutes" validate:"gte=0"`
	Breaks              []BreakRequest `json:"breaks" validate:"dive"`
}

type ReplaceWeekRequest struct {
	Days []DayRuleRequest `json:"days" validate:"required,len=7,dive"`
}

type CreateBookingRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
	PatientID  string `json:"patient_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string `json:"time" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
}

type BlockSlotRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Time   string `json:"time" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type LeaveRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Responses

type ProviderResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type BreakResponse struct {
	Start availability.TimeOfDay `json:"start"`
	End   availability.TimeOfDay `json:"end"`
}

type DayRuleResponse struct {
	DayOfWeek           string                 `json:"day_of_week"`
	IsAvailable         bool                   `json:"is_available"`
	StartTime           availability.TimeOfDay `json:"start_time"`
	EndTime             availability.TimeOfDay `json:"end_time"`
	SlotDurationMinutes int                    `json:"slot_duration_minutes"`
	Breaks              []BreakResponse        `json:"breaks"`
}

type ScheduleResponse struct {
	ProviderID uuid.UUID         `json:"provider_id"`
	Days       []DayRuleResponse `json:"days"`
}

type SlotResponse struct {
	Time   availability.TimeOfDay  `json:"time"`
	Status availability.SlotStatus `json:"status"`
	Period availability.Period     `json:"period"`
}

type SlotsResponse struct {
	ProviderID uuid.UUID         `json:"provider_id"`
	Date       availability.Date `json:"date"`
	Slots      []SlotResponse    `json:"slots"`
}

type AgendaEntryResponse struct {
	SlotResponse
	Booking *BookingResponse `json:"booking,omitempty"`
}

type AgendaResponse struct {
	ProviderID uuid.UUID             `json:"provider_id"`
	Date       availability.Date     `json:"date"`
	Slots      []AgendaEntryResponse `json:"slots"`
}

type CalendarDayResponse struct {
	Date availability.Date    `json:"date"`
	Kind availability.DayKind `json:"kind"`
}

type CalendarResponse struct {
	ProviderID uuid.UUID             `json:"provider_id"`
	Month      string                `json:"month"`
	Days       []CalendarDayResponse `json:"days"`
}

type LeaveResponse struct {
	ProviderID uuid.UUID         `json:"provider_id"`
	Date       availability.Date `json:"date"`
	Reason     string            `json:"reason,omitempty"`
}

type LeaveOutcomeResponse struct {
	ProviderID uuid.UUID         `json:"provider_id"`
	Date       availability.Date `json:"date"`
	Outcome    string            `json:"outcome"`
}

type BlockResponse struct {
	ProviderID uuid.UUID              `json:"provider_id"`
	Date       availability.Date      `json:"date"`
	Time       availability.TimeOfDay `json:"time"`
	Reason     string                 `json:"reason,omitempty"`
}

type BookingResponse struct {
	ID         uuid.UUID              `json:"id"`
	ProviderID uuid.UUID              `json:"provider_id"`
	PatientID  uuid.UUID              `json:"patient_id"`
	Date       availability.Date      `json:"date"`
	Time       availability.TimeOfDay `json:"time"`
	Status     string                 `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type ViolationResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error      string              `json:"error"`
	Details    string              `json:"details,omitempty"`
	Violations []ViolationResponse `json:"violations,omitempty"`
}

func toBookingResponse(b appointment.Booking) BookingResponse {
	return BookingResponse{
		ID:         b.ID,
		ProviderID: b.ProviderID,
		PatientID:  b.PatientID,
		Date:       b.Date,
		Time:       b.Time,
		Status:     string(b.Status),
		Reason:     b.Reason,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toBookingResponses(bookings []appointment.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}

func toSlotResponse(s availability.Slot) SlotResponse {
	return SlotResponse{Time: s.Time, Status: s.Status, Period: s.Period}
}

func toScheduleResponse(providerID uuid.UUID, week availability.Week) ScheduleResponse {
	resp := ScheduleResponse{ProviderID: providerID, Days: make([]DayRuleResponse, 0, len(week))}
	for _, rule := range week {
		breaks := make([]BreakResponse, 0, len(rule.Breaks))
		for _, b := range rule.Breaks {
			breaks = append(breaks, BreakResponse{Start: b.Start, End: b.End})
		}
		resp.Days = append(resp.Days, DayRuleResponse{
			DayOfWeek:           availability.WeekdayName(rule.Weekday),
			IsAvailable:         rule.IsAvailable,
			StartTime:           rule.StartTime,
			EndTime:             rule.EndTime,
			SlotDurationMinutes: rule.SlotDurationMinutes,
			Breaks:              breaks,
		})
	}
	return resp
}

func toBlockResponse(b appointment.SlotBlock) BlockResponse {
	return BlockResponse{ProviderID: b.ProviderID, Date: b.Date, Time: b.Time, Reason: b.Reason}
}

// toWeek converts the request into a Week, collecting parse problems the
// same way rule validation does.
func (req ReplaceWeekRequest) toWeek() (availability.Week, error) {
	week := availability.RestWeek()
	vErr := &availability.ValidationError{}
	seen := make(map[string]bool, len(req.Days))

	parseTime := func(field, raw string) availability.TimeOfDay {
		if raw == "" {
			return 0
		}
		t, err := availability.ParseTimeOfDay(raw)
		if err != nil {
			vErr.Add(field, "%v", err)
		}
		return t
	}

	for i, day := range req.Days {
		weekday, err := availability.ParseWeekday(day.DayOfWeek)
		if err != nil {
			vErr.Add("days", "%v", err)
			continue
		}
		if seen[day.DayOfWeek] {
			vErr.Add("days", "%s listed more than once", day.DayOfWeek)
			continue
		}
		seen[day.DayOfWeek] = true

		prefix := "days[" + strconv.Itoa(i) + "]"
		rule := availability.ScheduleRule{
			Weekday:             weekday,
			IsAvailable:         day.IsAvailable,
			StartTime:           parseTime(prefix+".start_time", day.StartTime),
			EndTime:             parseTime(prefix+".end_time", day.EndTime),
			SlotDurationMinutes: day.SlotDurationMinutes,
		}
		for j, b := range day.Breaks {
			bp := prefix + ".breaks[" + strconv.Itoa(j) + "]"
			rule.Breaks = append(rule.Breaks, availability.Break{
				Start: parseTime(bp+".start", b.Start),
				End:   parseTime(bp+".end", b.End),
			})
		}
		week[weekday] = rule
	}

	if err := vErr.Err(); err != nil {
		return week, err
	}
	return week, nil
}
