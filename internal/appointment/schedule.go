package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

// Week returns the provider's weekly schedule with unconfigured days as rest days.
func (s *Service) Week(ctx context.Context, providerID uuid.UUID) (availability.Week, error) {
	week, err := s.rules.GetWeek(ctx, providerID)
	if err != nil {
		return week, fmt.Errorf("load week: %w", err)
	}
	return week, nil
}

// ReplaceWeek validates all seven rules and stores them together. Nothing is
// written when any rule is invalid; the *availability.ValidationError lists
// every problem found.
func (s *Service) ReplaceWeek(ctx context.Context, providerID uuid.UUID, week availability.Week) error {
	if err := availability.ValidateWeek(week); err != nil {
		return err
	}

	if err := s.rules.ReplaceWeek(ctx, providerID, week); err != nil {
		return fmt.Errorf("replace week: %w", err)
	}

	working := 0
	for _, rule := range week {
		if rule.IsAvailable {
			working++
		}
	}
	s.logEvent(ctx, EventScheduleReplaced, providerID, nil, map[string]any{
		"working_days": working,
	})
	return nil
}

// Slots is the patient view of a provider day.
func (s *Service) Slots(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]availability.Slot, error) {
	_, slots, err := s.computeDay(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// Agenda is the provider view of a day: the same slots, each carrying the
// active booking that holds it.
func (s *Service) Agenda(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]AgendaEntry, error) {
	snap, slots, err := s.computeDay(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	byTime := make(map[availability.TimeOfDay]Booking, len(snap.bookings))
	for _, b := range snap.bookings {
		byTime[b.Time] = b
	}

	entries := make([]AgendaEntry, 0, len(slots))
	for _, slot := range slots {
		entry := AgendaEntry{Slot: slot}
		if b, ok := byTime[slot.Time]; ok {
			entry.Booking = &b
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Calendar summarizes every day of a month as leave, working or rest.
func (s *Service) Calendar(ctx context.Context, providerID uuid.UUID, year int, month time.Month) ([]CalendarDay, error) {
	days := availability.MonthDays(year, month)

	week, err := s.rules.GetWeek(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load week: %w", err)
	}

	leaves, err := s.repo.ListLeaves(ctx, providerID, days[0], days[len(days)-1])
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	onLeave := make(map[availability.Date]bool, len(leaves))
	for _, l := range leaves {
		onLeave[l.Date] = true
	}

	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		rule := week[d.Weekday()]
		out = append(out, CalendarDay{Date: d, Kind: availability.Classify(&rule, onLeave[d])})
	}
	return out, nil
}

// Leaves

func (s *Service) AddLeave(ctx context.Context, providerID uuid.UUID, date availability.Date, reason string) (LeaveOutcome, error) {
	added, err := s.repo.InsertLeave(ctx, Leave{ProviderID: providerID, Date: date, Reason: reason})
	if err != nil {
		return "", fmt.Errorf("add leave: %w", err)
	}
	if !added {
		return LeaveAlreadyOnLeave, nil
	}

	s.logEvent(ctx, EventLeaveAdded, providerID, nil, map[string]any{
		"date":   date.String(),
		"reason": reason,
	})
	return LeaveAdded, nil
}

func (s *Service) RemoveLeave(ctx context.Context, providerID uuid.UUID, date availability.Date) (LeaveOutcome, error) {
	removed, err := s.repo.DeleteLeave(ctx, providerID, date)
	if err != nil {
		return "", fmt.Errorf("remove leave: %w", err)
	}
	if !removed {
		return LeaveNotOnLeave, nil
	}

	s.logEvent(ctx, EventLeaveRemoved, providerID, nil, map[string]any{
		"date": date.String(),
	})
	return LeaveRemoved, nil
}

// ToggleLeave adds a leave when there is none, otherwise removes it.
func (s *Service) ToggleLeave(ctx context.Context, providerID uuid.UUID, date availability.Date, reason string) (LeaveOutcome, error) {
	onLeave, err := s.repo.HasLeave(ctx, providerID, date)
	if err != nil {
		return "", fmt.Errorf("check leave: %w", err)
	}
	if onLeave {
		return s.RemoveLeave(ctx, providerID, date)
	}
	return s.AddLeave(ctx, providerID, date, reason)
}

func (s *Service) Leaves(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]Leave, error) {
	leaves, err := s.repo.ListLeaves(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	return leaves, nil
}

// Blocks

// BlockSlot marks one slot unavailable. It runs in the same exclusive section
// as booking, so a block and a booking for one slot cannot interleave.
// Blocking an already blocked slot replaces its reason.
func (s *Service) BlockSlot(ctx context.Context, providerID uuid.UUID, date availability.Date, at availability.TimeOfDay, reason string) (*SlotBlock, error) {
	if !at.Valid() || at == availability.EndOfDay {
		vErr := &availability.ValidationError{}
		vErr.Add("time", "must be between 00:00 and 23:59")
		return nil, vErr
	}

	var block *SlotBlock
	err := s.withSlotLock(ctx, redisclient.SlotKey(providerID, date, at), func(lockCtx context.Context) error {
		existing, err := s.repo.GetActiveBooking(lockCtx, providerID, date, at)
		if err != nil && !errors.Is(err, ErrBookingNotFound) {
			return fmt.Errorf("check active booking: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("%w: booking %s is %s", ErrSlotOccupied, existing.ID, existing.Status)
		}

		block, err = s.repo.UpsertBlock(lockCtx, SlotBlock{
			ProviderID: providerID,
			Date:       date,
			Time:       at,
			Reason:     reason,
		})
		if err != nil {
			return fmt.Errorf("block slot: %w", err)
		}
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: slot is being booked", ErrSlotOccupied)
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventSlotBlocked, providerID, nil, map[string]any{
		"date":   date.String(),
		"time":   at.String(),
		"reason": reason,
	})
	return block, nil
}

func (s *Service) UnblockSlot(ctx context.Context, providerID uuid.UUID, date availability.Date, at availability.TimeOfDay) error {
	removed, err := s.repo.DeleteBlock(ctx, providerID, date, at)
	if err != nil {
		return fmt.Errorf("unblock slot: %w", err)
	}
	if !removed {
		return ErrNotBlocked
	}

	s.logEvent(ctx, EventSlotUnblocked, providerID, nil, map[string]any{
		"date": date.String(),
		"time": at.String(),
	})
	return nil
}

func (s *Service) Blocks(ctx context.Context, providerID uuid.UUID, from, to availability.Date) ([]SlotBlock, error) {
	blocks, err := s.repo.ListBlocks(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slot blocks: %w", err)
	}
	return blocks, nil
}

// Providers lists the provider directory.
func (s *Service) Providers(ctx context.Context) ([]Provider, error) {
	providers, err := s.directory.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

func (s *Service) Provider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.directory.GetProviderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

func (s *Service) SaveProvider(ctx context.Context, p Provider) error {
	if err := s.directory.UpsertProvider(ctx, p); err != nil {
		return fmt.Errorf("save provider: %w", err)
	}
	return nil
}
