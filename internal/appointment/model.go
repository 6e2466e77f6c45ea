package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusApproved  BookingStatus = "APPROVED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

// Active bookings hold their slot.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusApproved
}

func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:  {StatusApproved, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Leave struct {
	ProviderID uuid.UUID
	Date       availability.Date
	Reason     string
	CreatedAt  time.Time
}

type SlotBlock struct {
	ProviderID uuid.UUID
	Date       availability.Date
	Time       availability.TimeOfDay
	Reason     string
	CreatedAt  time.Time
}

type Booking struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	Date       availability.Date
	Time       availability.TimeOfDay
	Status     BookingStatus
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type EventLog struct {
	ID         int64
	EventType  string
	ProviderID *uuid.UUID
	BookingID  *uuid.UUID
	Payload    []byte
	CreatedAt  time.Time
}

// AgendaEntry is a slot as the provider sees it, with the booking that holds
// it when there is one.
type AgendaEntry struct {
	availability.Slot
	Booking *Booking
}

type CalendarDay struct {
	Date availability.Date
	Kind availability.DayKind
}

type LeaveOutcome string

const (
	LeaveAdded          LeaveOutcome = "added"
	LeaveRemoved        LeaveOutcome = "removed"
	LeaveAlreadyOnLeave LeaveOutcome = "already_on_leave"
	LeaveNotOnLeave     LeaveOutcome = "not_on_leave"
)

type BookingRequest struct {
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	Date       availability.Date
	Time       availability.TimeOfDay
	Reason     string
}

type PatientView string

const (
	ViewAll      PatientView = ""
	ViewUpcoming PatientView = "upcoming"
	ViewHistory  PatientView = "history"
)
