package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
)

var (
	ErrRuleNotFound     = errors.New("schedule rule not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrProviderNotFound = errors.New("provider not found")

	// ErrSlotConflict means another active booking already holds the slot.
	// The caller should pick a different slot.
	ErrSlotConflict = errors.New("slot was taken by a concurrent booking")
)

// RuleStore keeps one weekly rule per provider per weekday.
type RuleStore interface {
	GetRule(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*availability.ScheduleRule, error)
	// GetWeek fills weekdays with no stored rule as rest days.
	GetWeek(ctx context.Context, providerID uuid.UUID) (availability.Week, error)
	ReplaceWeek(ctx context.Context, providerID uuid.UUID, week availability.Week) error
}

type LeaveStore interface {
	HasLeave(ctx context.Context, providerID uuid.UUID, date availability.Date) (bool, error)
	// InsertLeave reports false when the provider was already on leave that day.
	InsertLeave(ctx context.Context, leave Leave) (bool, error)
	DeleteLeave(ctx context.Context, providerID uuid.UUID, date availability.Date) (bool, error)
	// ListLeaves returns leaves with from <= date <= to.
	ListLeaves(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]Leave, error)
}

type BlockStore interface {
	IsBlocked(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error)
	ListBlocks(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]SlotBlock, error)
	// UpsertBlock creates the block or replaces the reason of an existing one.
	UpsertBlock(ctx context.Context, block SlotBlock) (*SlotBlock, error)
	DeleteBlock(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error)
}

type BookingStore interface {
	// InsertBooking returns ErrSlotConflict when an active booking already
	// holds the same provider, date and time.
	InsertBooking(ctx context.Context, b Booking) (*Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetActiveBooking(ctx context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (*Booking, error)
	ListActiveBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error)
	ListProviderBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error)
	ListPatientBookings(ctx context.Context, patientID uuid.UUID) ([]Booking, error)
	// UpdateBookingStatus only succeeds while the booking is still in from;
	// otherwise it returns ErrBookingNotFound.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error)
	FindApprovedBefore(ctx context.Context, date availability.Date) ([]Booking, error)
}

type ProviderDirectory interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	UpsertProvider(ctx context.Context, p Provider) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	RuleStore
	LeaveStore
	BlockStore
	BookingStore
	ProviderDirectory

	InsertEvent(ctx context.Context, ev EventLog) error
}
