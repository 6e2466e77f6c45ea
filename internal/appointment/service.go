package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/events"
	"github.com/hackgods/provider-availability/internal/metrics"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingApproved  = "BOOKING_APPROVED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventScheduleReplaced = "SCHEDULE_REPLACED"
	EventLeaveAdded       = "LEAVE_ADDED"
	EventLeaveRemoved     = "LEAVE_REMOVED"
	EventSlotBlocked      = "SLOT_BLOCKED"
	EventSlotUnblocked    = "SLOT_UNBLOCKED"
)

var (
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrSlotOccupied            = errors.New("slot has an active booking")
	ErrNotBlocked              = errors.New("slot is not blocked")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Options tunes a Service. The zero value gives an uncached service in the
// local timezone that logs nothing.
type Options struct {
	Location         *time.Location
	Logger           *zerolog.Logger
	Metrics          *metrics.Metrics
	Publisher        events.Publisher
	RuleCacheTTL     time.Duration
	RuleCacheSize    int
	ProviderCacheTTL time.Duration

	Now   func() time.Time
	NewID func() uuid.UUID
}

type Service struct {
	repo      Repository
	rules     RuleStore
	ruleCache *CachedRuleStore
	directory ProviderDirectory
	locker    redisclient.Locker
	log       zerolog.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	loc       *time.Location
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService wires the engine. A nil locker leaves the database constraint as
// the only guard against double booking.
func NewService(repo Repository, locker redisclient.Locker, opts Options) *Service {
	s := &Service{
		repo:      repo,
		rules:     repo,
		directory: repo,
		locker:    locker,
		log:       zerolog.Nop(),
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		loc:       opts.Location,
		now:       opts.Now,
		newID:     opts.NewID,
	}

	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "appointment").Logger()
	}
	if s.publisher == nil {
		s.publisher = events.Nop()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.New
	}
	if opts.RuleCacheTTL > 0 {
		s.ruleCache = NewCachedRuleStore(repo, opts.RuleCacheSize, opts.RuleCacheTTL)
		s.rules = s.ruleCache
	}
	if opts.ProviderCacheTTL > 0 {
		s.directory = NewCachedDirectory(repo, opts.ProviderCacheTTL)
	}

	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// Today is the current calendar day in the service timezone.
func (s *Service) Today() availability.Date {
	return availability.DateOf(s.now().In(s.loc))
}

// InvalidateRules drops cached rules for a provider after another replica
// changed them.
func (s *Service) InvalidateRules(providerID uuid.UUID) {
	if s.ruleCache != nil {
		s.ruleCache.Invalidate(providerID)
	}
}

// logger prefers the request-scoped logger carried in ctx.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// withSlotLock runs fn inside the per-slot exclusive section.
func (s *Service) withSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	entered := false
	err := s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		entered = true
		return fn(lockCtx)
	})

	switch {
	case entered:
		s.metrics.ObserveLock("acquired")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveLock("contended")
	default:
		s.metrics.ObserveLock("error")
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, eventType string, providerID uuid.UUID, bookingID *uuid.UUID, payload map[string]any) {
	log := s.logger(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	occurred := s.now()
	pid := providerID

	ev := EventLog{
		EventType:  eventType,
		ProviderID: &pid,
		BookingID:  bookingID,
		Payload:    data,
		CreatedAt:  occurred,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Str("provider_id", providerID.String()).Msg("failed to insert event log")
	}

	err = s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		ProviderID: providerID,
		BookingID:  bookingID,
		OccurredAt: occurred,
		Payload:    data,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}

type daySnapshot struct {
	day         availability.Day
	ruleMissing bool
	bookings    []Booking
}

// loadDay gathers the calculator inputs for one provider day. Reads stop
// early once the outcome is known: a leave day or rest day needs nothing else.
func (s *Service) loadDay(ctx context.Context, providerID uuid.UUID, date availability.Date) (daySnapshot, error) {
	snap := daySnapshot{day: availability.Day{Date: date}}

	onLeave, err := s.repo.HasLeave(ctx, providerID, date)
	if err != nil {
		return snap, fmt.Errorf("check leave: %w", err)
	}
	if onLeave {
		snap.day.OnLeave = true
		return snap, nil
	}

	rule, err := s.rules.GetRule(ctx, providerID, date.Weekday())
	if errors.Is(err, ErrRuleNotFound) {
		snap.ruleMissing = true
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("load schedule rule: %w", err)
	}
	snap.day.Rule = rule
	if !rule.IsAvailable {
		return snap, nil
	}

	blocks, err := s.repo.ListBlocks(ctx, providerID, date, date)
	if err != nil {
		return snap, fmt.Errorf("list slot blocks: %w", err)
	}
	for _, b := range blocks {
		snap.day.Blocked = append(snap.day.Blocked, b.Time)
	}

	bookings, err := s.repo.ListActiveBookings(ctx, providerID, date)
	if err != nil {
		return snap, fmt.Errorf("list active bookings: %w", err)
	}
	snap.bookings = bookings
	for _, b := range bookings {
		snap.day.Booked = append(snap.day.Booked, b.Time)
	}

	return snap, nil
}

func (s *Service) computeDay(ctx context.Context, providerID uuid.UUID, date availability.Date) (daySnapshot, []availability.Slot, error) {
	started := time.Now()

	snap, err := s.loadDay(ctx, providerID, date)
	if err != nil {
		return snap, nil, err
	}

	slots := availability.Compute(snap.day, s.now(), s.loc)
	s.metrics.ObserveCompute(started, len(slots))
	return snap, slots, nil
}
