package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
)

type slotKey struct {
	providerID uuid.UUID
	date       availability.Date
	time       availability.TimeOfDay
}

type dayKey struct {
	providerID uuid.UUID
	date       availability.Date
}

// MemoryRepository is a process-local Repository. It enforces the same
// one-active-booking-per-slot rule as the Postgres unique index.
type MemoryRepository struct {
	mu        sync.RWMutex
	now       func() time.Time
	rules     map[uuid.UUID]map[time.Weekday]availability.ScheduleRule
	leaves    map[dayKey]Leave
	blocks    map[slotKey]SlotBlock
	bookings  map[uuid.UUID]Booking
	active    map[slotKey]uuid.UUID
	providers map[uuid.UUID]Provider
	events    []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:       time.Now,
		rules:     make(map[uuid.UUID]map[time.Weekday]availability.ScheduleRule),
		leaves:    make(map[dayKey]Leave),
		blocks:    make(map[slotKey]SlotBlock),
		bookings:  make(map[uuid.UUID]Booking),
		active:    make(map[slotKey]uuid.UUID),
		providers: make(map[uuid.UUID]Provider),
	}
}

// Rules

func (r *MemoryRepository) GetRule(_ context.Context, providerID uuid.UUID, day time.Weekday) (*availability.ScheduleRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[providerID][day]
	if !ok {
		return nil, ErrRuleNotFound
	}
	out := rule.Clone()
	return &out, nil
}

func (r *MemoryRepository) GetWeek(_ context.Context, providerID uuid.UUID) (availability.Week, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	week := availability.RestWeek()
	for day, rule := range r.rules[providerID] {
		week[day] = rule.Clone()
	}
	return week, nil
}

func (r *MemoryRepository) ReplaceWeek(_ context.Context, providerID uuid.UUID, week availability.Week) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	days := make(map[time.Weekday]availability.ScheduleRule, len(week))
	for i, rule := range week {
		days[time.Weekday(i)] = rule.Clone()
	}
	r.rules[providerID] = days
	return nil
}

// Leaves

func (r *MemoryRepository) HasLeave(_ context.Context, providerID uuid.UUID, date availability.Date) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.leaves[dayKey{providerID, date}]
	return ok, nil
}

func (r *MemoryRepository) InsertLeave(_ context.Context, leave Leave) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dayKey{leave.ProviderID, leave.Date}
	if _, ok := r.leaves[key]; ok {
		return false, nil
	}
	leave.CreatedAt = r.now()
	r.leaves[key] = leave
	return true, nil
}

func (r *MemoryRepository) DeleteLeave(_ context.Context, providerID uuid.UUID, date availability.Date) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dayKey{providerID, date}
	if _, ok := r.leaves[key]; !ok {
		return false, nil
	}
	delete(r.leaves, key)
	return true, nil
}

func (r *MemoryRepository) ListLeaves(_ context.Context, providerID uuid.UUID, from, to availability.Date) ([]Leave, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Leave{}
	for key, leave := range r.leaves {
		if key.providerID == providerID && inRange(key.date, from, to) {
			out = append(out, leave)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Blocks

func (r *MemoryRepository) IsBlocked(_ context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.blocks[slotKey{providerID, date, t}]
	return ok, nil
}

func (r *MemoryRepository) ListBlocks(_ context.Context, providerID uuid.UUID, from, to availability.Date) ([]SlotBlock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []SlotBlock{}
	for key, block := range r.blocks {
		if key.providerID == providerID && inRange(key.date, from, to) {
			out = append(out, block)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slotLess(out[i].Date, out[i].Time, out[j].Date, out[j].Time) })
	return out, nil
}

func (r *MemoryRepository) UpsertBlock(_ context.Context, block SlotBlock) (*SlotBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{block.ProviderID, block.Date, block.Time}
	if existing, ok := r.blocks[key]; ok {
		block.CreatedAt = existing.CreatedAt
	} else {
		block.CreatedAt = r.now()
	}
	r.blocks[key] = block
	return &block, nil
}

func (r *MemoryRepository) DeleteBlock(_ context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{providerID, date, t}
	if _, ok := r.blocks[key]; !ok {
		return false, nil
	}
	delete(r.blocks, key)
	return true, nil
}

// Bookings

func (r *MemoryRepository) InsertBooking(_ context.Context, b Booking) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{b.ProviderID, b.Date, b.Time}
	if b.Status.Active() {
		if _, taken := r.active[key]; taken {
			return nil, ErrSlotConflict
		}
		r.active[key] = b.ID
	}

	now := r.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.bookings[b.ID] = b
	return &b, nil
}

func (r *MemoryRepository) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) GetActiveBooking(_ context.Context, providerID uuid.UUID, date availability.Date, t availability.TimeOfDay) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[slotKey{providerID, date, t}]
	if !ok {
		return nil, ErrBookingNotFound
	}
	b := r.bookings[id]
	return &b, nil
}

func (r *MemoryRepository) ListActiveBookings(_ context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	return r.filterBookings(func(b Booking) bool {
		return b.ProviderID == providerID && b.Date == date && b.Status.Active()
	}), nil
}

func (r *MemoryRepository) ListProviderBookings(_ context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	return r.filterBookings(func(b Booking) bool {
		return b.ProviderID == providerID && b.Date == date
	}), nil
}

func (r *MemoryRepository) ListPatientBookings(_ context.Context, patientID uuid.UUID) ([]Booking, error) {
	return r.filterBookings(func(b Booking) bool {
		return b.PatientID == patientID
	}), nil
}

func (r *MemoryRepository) FindApprovedBefore(_ context.Context, date availability.Date) ([]Booking, error) {
	return r.filterBookings(func(b Booking) bool {
		return b.Status == StatusApproved && b.Date.Before(date)
	}), nil
}

func (r *MemoryRepository) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}

	key := slotKey{b.ProviderID, b.Date, b.Time}
	if !from.Active() && to.Active() {
		if _, taken := r.active[key]; taken {
			return nil, ErrSlotConflict
		}
	}
	switch {
	case to.Active():
		r.active[key] = b.ID
	case r.active[key] == b.ID:
		delete(r.active, key)
	}

	b.Status = to
	b.UpdatedAt = r.now()
	r.bookings[id] = b
	return &b, nil
}

func (r *MemoryRepository) filterBookings(keep func(Booking) bool) []Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Booking{}
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slotLess(out[i].Date, out[i].Time, out[j].Date, out[j].Time) })
	return out
}

// Providers

func (r *MemoryRepository) ListProviders(_ context.Context) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpsertProvider(_ context.Context, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.providers[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.providers[p.ID] = p
	return nil
}

// Events

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log, oldest first.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func inRange(d, from, to availability.Date) bool {
	return !d.Before(from) && !d.After(to)
}

func slotLess(d1 availability.Date, t1 availability.TimeOfDay, d2 availability.Date, t2 availability.TimeOfDay) bool {
	if d1 != d2 {
		return d1.Before(d2)
	}
	return t1 < t2
}
