package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

const maxReasonLength = 500

func validateBookingRequest(req BookingRequest) error {
	vErr := &availability.ValidationError{}
	if req.ProviderID == uuid.Nil {
		vErr.Add("provider_id", "is required")
	}
	if req.PatientID == uuid.Nil {
		vErr.Add("patient_id", "is required")
	}
	if req.Date.IsZero() {
		vErr.Add("date", "is required")
	}
	if !req.Time.Valid() || req.Time == availability.EndOfDay {
		vErr.Add("time", "must be between 00:00 and 23:59")
	}
	if len(req.Reason) > maxReasonLength {
		vErr.Add("reason", "must be at most %d characters", maxReasonLength)
	}
	return vErr.Err()
}

// Book reserves one slot for a patient.
//
// The slot is checked against freshly computed slots for the day and the
// booking inserted, both inside the per-slot lock. A slot off the grid,
// inside a break, blocked, booked or already started is rejected with
// ErrSlotUnavailable. Callers that find the lock taken, or lose the
// active-slot unique constraint, get ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	booking, err := s.book(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err))
	return booking, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if err := validateBookingRequest(req); err != nil {
		return nil, err
	}

	var created *Booking

	err := s.withSlotLock(ctx, redisclient.SlotKey(req.ProviderID, req.Date, req.Time), func(lockCtx context.Context) error {
		if err := s.checkBookable(lockCtx, req); err != nil {
			return err
		}

		b, err := s.repo.InsertBooking(lockCtx, Booking{
			ID:         s.newID(),
			ProviderID: req.ProviderID,
			PatientID:  req.PatientID,
			Date:       req.Date,
			Time:       req.Time,
			Status:     StatusPending,
			Reason:     req.Reason,
		})
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		created = b
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: slot is being booked by another request", ErrSlotConflict)
		}
		return nil, err
	}

	s.logger(ctx).Info().
		Str("booking_id", created.ID.String()).
		Str("provider_id", created.ProviderID.String()).
		Str("date", created.Date.String()).
		Str("time", created.Time.String()).
		Msg("booking created")

	id := created.ID
	s.logEvent(ctx, EventBookingCreated, created.ProviderID, &id, map[string]any{
		"patient_id": created.PatientID.String(),
		"date":       created.Date.String(),
		"time":       created.Time.String(),
	})

	return created, nil
}

// checkBookable recomputes the day and requires the requested slot to be
// AVAILABLE.
func (s *Service) checkBookable(ctx context.Context, req BookingRequest) error {
	snap, slots, err := s.computeDay(ctx, req.ProviderID, req.Date)
	if err != nil {
		return fmt.Errorf("compute slots: %w", err)
	}

	slot, ok := availability.Find(slots, req.Time)
	switch {
	case !ok && snap.ruleMissing:
		return fmt.Errorf("%w: %w for %s", ErrSlotUnavailable, ErrRuleNotFound, req.Date.Weekday())
	case !ok && snap.day.OnLeave:
		return fmt.Errorf("%w: provider is on leave on %s", ErrSlotUnavailable, req.Date)
	case !ok:
		return fmt.Errorf("%w: no slot at %s on %s", ErrSlotUnavailable, req.Time, req.Date)
	case slot.Status != availability.SlotAvailable:
		return fmt.Errorf("%w: slot at %s is %s", ErrSlotUnavailable, req.Time, strings.ToLower(string(slot.Status)))
	}
	return nil
}

func bookingOutcome(err error) string {
	var vErr *availability.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

func (s *Service) ApproveBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusApproved)
}

func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusCompleted)
}

var transitionEvents = map[BookingStatus]string{
	StatusApproved:  EventBookingApproved,
	StatusCancelled: EventBookingCancelled,
	StatusCompleted: EventBookingCompleted,
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to BookingStatus) (*Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, b.Status, to)
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, id, b.Status, to)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Someone else moved it first.
			return nil, fmt.Errorf("%w: booking changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	s.metrics.ObserveTransition(string(to))
	s.logEvent(ctx, transitionEvents[to], updated.ProviderID, &updated.ID, map[string]any{
		"from": string(b.Status),
		"to":   string(to),
	})
	return updated, nil
}

// ProviderBookings lists every booking of a provider day regardless of status.
func (s *Service) ProviderBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	bookings, err := s.repo.ListProviderBookings(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list provider bookings: %w", err)
	}
	return bookings, nil
}

// PatientBookings splits a patient's bookings into upcoming (still active and
// not in the past) and history (finished or in the past). History is newest
// first.
func (s *Service) PatientBookings(ctx context.Context, patientID uuid.UUID, view PatientView) ([]Booking, error) {
	all, err := s.repo.ListPatientBookings(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient bookings: %w", err)
	}

	today := s.Today()
	upcoming := func(b Booking) bool {
		return !b.Status.Terminal() && !b.Date.Before(today)
	}

	out := make([]Booking, 0, len(all))
	for _, b := range all {
		switch view {
		case ViewUpcoming:
			if upcoming(b) {
				out = append(out, b)
			}
		case ViewHistory:
			if !upcoming(b) {
				out = append(out, b)
			}
		default:
			out = append(out, b)
		}
	}

	if view == ViewHistory {
		sort.SliceStable(out, func(i, j int) bool {
			return slotLess(out[j].Date, out[j].Time, out[i].Date, out[i].Time)
		})
	}
	return out, nil
}

// CompletePastBookings moves approved bookings from earlier days to
// COMPLETED and reports how many it moved.
func (s *Service) CompletePastBookings(ctx context.Context) (int, error) {
	due, err := s.repo.FindApprovedBefore(ctx, s.Today())
	if err != nil {
		return 0, fmt.Errorf("find approved bookings: %w", err)
	}

	log := s.logger(ctx)
	done := 0
	for _, b := range due {
		updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, StatusApproved, StatusCompleted)
		if errors.Is(err, ErrBookingNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to complete booking")
			continue
		}
		done++
		s.logEvent(ctx, EventBookingCompleted, updated.ProviderID, &updated.ID, map[string]any{
			"reason": "worker",
		})
	}

	s.metrics.ObserveCompleted(done)
	return done, nil
}
