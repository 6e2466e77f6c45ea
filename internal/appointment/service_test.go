package appointment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability/internal/availability"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

var (
	sunday    = availability.MustDate("2026-10-18")
	monday    = availability.MustDate("2026-10-19")
	tuesday   = availability.MustDate("2026-10-20")
	wednesday = availability.MustDate("2026-10-21")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func at(d availability.Date, hhmm string) time.Time {
	return d.At(availability.MustTimeOfDay(hhmm), time.UTC)
}

func tod(s string) availability.TimeOfDay { return availability.MustTimeOfDay(s) }

// morningWeek works 09:00-12:00 Monday to Friday in 30 minute slots with a
// break at 10:00.
func morningWeek() availability.Week {
	week := availability.RestWeek()
	for d := time.Monday; d <= time.Friday; d++ {
		week[d] = availability.ScheduleRule{
			Weekday:             d,
			IsAvailable:         true,
			StartTime:           tod("09:00"),
			EndTime:             tod("12:00"),
			SlotDurationMinutes: 30,
			Breaks:              []availability.Break{{Start: tod("10:00"), End: tod("10:30")}},
		}
	}
	return week
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	clock    *testClock
	provider uuid.UUID
	patient  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{t: at(sunday, "12:00")}
	repo := NewMemoryRepository()
	svc := NewService(repo, redisclient.NewLocalSlotLocker(time.Second), Options{
		Location:     time.UTC,
		Now:          clock.Now,
		RuleCacheTTL: time.Minute,
	})

	f := &fixture{svc: svc, repo: repo, clock: clock, provider: uuid.New(), patient: uuid.New()}
	require.NoError(t, svc.ReplaceWeek(context.Background(), f.provider, morningWeek()))
	return f
}

func (f *fixture) book(t *testing.T, date availability.Date, hhmm string) *Booking {
	t.Helper()
	b, err := f.svc.Book(context.Background(), BookingRequest{
		ProviderID: f.provider,
		PatientID:  f.patient,
		Date:       date,
		Time:       tod(hhmm),
		Reason:     "checkup",
	})
	require.NoError(t, err)
	return b
}

func slotStatuses(slots []availability.Slot) map[string]availability.SlotStatus {
	out := make(map[string]availability.SlotStatus, len(slots))
	for _, s := range slots {
		out[s.Time.String()] = s.Status
	}
	return out
}

func TestSlotsForConfiguredMonday(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.Slots(context.Background(), f.provider, monday)
	require.NoError(t, err)

	var got []string
	for _, s := range slots {
		got = append(got, s.Time.String())
		assert.Equal(t, availability.SlotAvailable, s.Status)
	}
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30"}, got)
}

func TestBookApprovedSlotShowsBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "09:30")
	assert.Equal(t, StatusPending, b.Status)

	_, err := f.svc.ApproveBooking(ctx, b.ID)
	require.NoError(t, err)

	slots, err := f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, availability.SlotBooked, slotStatuses(slots)["09:30"])

	_, err = f.svc.Book(ctx, BookingRequest{ProviderID: f.provider, PatientID: uuid.New(), Date: monday, Time: tod("09:30")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookRejectsSlotsOffTheGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, hhmm := range []string{"10:00", "09:15", "12:00", "08:30"} {
		_, err := f.svc.Book(ctx, BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: monday, Time: tod(hhmm)})
		assert.ErrorIs(t, err, ErrSlotUnavailable, hhmm)
	}

	// Sunday is a rest day.
	_, err := f.svc.Book(ctx, BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: sunday.AddDays(7), Time: tod("09:00")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NotErrorIs(t, err, ErrRuleNotFound)
}

func TestBookWithoutRule(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()

	slots, err := f.svc.Slots(context.Background(), stranger, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = f.svc.Book(context.Background(), BookingRequest{ProviderID: stranger, PatientID: f.patient, Date: monday, Time: tod("09:00")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestBookPassedSlot(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(at(monday, "10:45"))

	slots, err := f.svc.Slots(context.Background(), f.provider, monday)
	require.NoError(t, err)
	statuses := slotStatuses(slots)
	assert.Equal(t, availability.SlotPassed, statuses["09:00"])
	assert.Equal(t, availability.SlotPassed, statuses["10:30"])
	assert.Equal(t, availability.SlotAvailable, statuses["11:00"])

	_, err = f.svc.Book(context.Background(), BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: monday, Time: tod("09:00")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// A whole earlier date is closed, not just the hours before now.
	lastMonday := monday.AddDays(-7)
	slots, err = f.svc.Slots(context.Background(), f.provider, lastMonday)
	require.NoError(t, err)
	assert.Equal(t, availability.SlotPassed, slotStatuses(slots)["11:30"])

	_, err = f.svc.Book(context.Background(), BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: lastMonday, Time: tod("11:30")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), BookingRequest{Date: monday, Time: availability.EndOfDay})

	var vErr *availability.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Violations, 3)
}

func TestLeaveRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.AddLeave(ctx, f.provider, monday, "conference")
	require.NoError(t, err)
	assert.Equal(t, LeaveAdded, outcome)

	slots, err := f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = f.svc.Book(ctx, BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: monday, Time: tod("09:00")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	outcome, err = f.svc.AddLeave(ctx, f.provider, monday, "again")
	require.NoError(t, err)
	assert.Equal(t, LeaveAlreadyOnLeave, outcome)

	outcome, err = f.svc.RemoveLeave(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, LeaveRemoved, outcome)

	slots, err = f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 5)

	outcome, err = f.svc.RemoveLeave(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, LeaveNotOnLeave, outcome)
}

func TestToggleLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.ToggleLeave(ctx, f.provider, tuesday, "")
	require.NoError(t, err)
	assert.Equal(t, LeaveAdded, outcome)

	leaves, err := f.svc.Leaves(ctx, f.provider, monday, wednesday)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, tuesday, leaves[0].Date)

	outcome, err = f.svc.ToggleLeave(ctx, f.provider, tuesday, "")
	require.NoError(t, err)
	assert.Equal(t, LeaveRemoved, outcome)
}

func TestLeaveKeepsExistingBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "09:00")
	_, err := f.svc.AddLeave(ctx, f.provider, monday, "")
	require.NoError(t, err)

	got, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BlockSlot(ctx, f.provider, monday, tod("11:00"), "meeting")
	require.NoError(t, err)

	slots, err := f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, availability.SlotBlocked, slotStatuses(slots)["11:00"])

	_, err = f.svc.Book(ctx, BookingRequest{ProviderID: f.provider, PatientID: f.patient, Date: monday, Time: tod("11:00")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Blocking again only replaces the reason.
	_, err = f.svc.BlockSlot(ctx, f.provider, monday, tod("11:00"), "surgery")
	require.NoError(t, err)
	blocks, err := f.svc.Blocks(ctx, f.provider, monday, monday)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "surgery", blocks[0].Reason)

	f.book(t, monday, "09:30")
	_, err = f.svc.BlockSlot(ctx, f.provider, monday, tod("09:30"), "")
	assert.ErrorIs(t, err, ErrSlotOccupied)

	require.NoError(t, f.svc.UnblockSlot(ctx, f.provider, monday, tod("11:00")))
	slots, err = f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, availability.SlotAvailable, slotStatuses(slots)["11:00"])

	err = f.svc.UnblockSlot(ctx, f.provider, monday, tod("11:00"))
	assert.ErrorIs(t, err, ErrNotBlocked)
}

func TestBlockAllowedAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "09:00")
	_, err := f.svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)

	_, err = f.svc.BlockSlot(ctx, f.provider, monday, tod("09:00"), "")
	assert.NoError(t, err)
}

func TestBookingTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "09:00")

	_, err := f.svc.CompleteBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	approved, err := f.svc.ApproveBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	cancelled, err := f.svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.ApproveBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	// Cancelling freed the slot.
	again := f.book(t, monday, "09:00")
	assert.NotEqual(t, b.ID, again.ID)

	_, err = f.svc.GetBooking(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestAgendaAttachesBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "11:30")
	_, err := f.svc.BlockSlot(ctx, f.provider, monday, tod("09:00"), "")
	require.NoError(t, err)

	entries, err := f.svc.Agenda(ctx, f.provider, monday)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, availability.SlotBlocked, entries[0].Status)
	assert.Nil(t, entries[0].Booking)

	last := entries[4]
	assert.Equal(t, availability.SlotBooked, last.Status)
	require.NotNil(t, last.Booking)
	assert.Equal(t, b.ID, last.Booking.ID)
	assert.Equal(t, f.patient, last.Booking.PatientID)
}

func TestCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddLeave(ctx, f.provider, tuesday, "")
	require.NoError(t, err)

	days, err := f.svc.Calendar(ctx, f.provider, 2026, time.October)
	require.NoError(t, err)
	require.Len(t, days, 31)

	kinds := map[availability.Date]availability.DayKind{}
	for _, d := range days {
		kinds[d.Date] = d.Kind
	}
	assert.Equal(t, availability.DayRest, kinds[sunday])
	assert.Equal(t, availability.DayWorking, kinds[monday])
	assert.Equal(t, availability.DayLeave, kinds[tuesday])
}

func TestReplaceWeekRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	week := morningWeek()
	week[time.Monday].StartTime = tod("13:00")
	week[time.Friday].SlotDurationMinutes = 0

	err := f.svc.ReplaceWeek(ctx, f.provider, week)
	var vErr *availability.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.GreaterOrEqual(t, len(vErr.Violations), 2)

	stored, err := f.svc.Week(ctx, f.provider)
	require.NoError(t, err)
	assert.Equal(t, tod("09:00"), stored[time.Monday].StartTime)
	assert.Equal(t, 30, stored[time.Friday].SlotDurationMinutes)
}

func TestReplaceWeekRefreshesCachedRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	require.Len(t, slots, 5)

	week := morningWeek()
	week[time.Monday].Breaks = nil
	require.NoError(t, f.svc.ReplaceWeek(ctx, f.provider, week))

	slots, err = f.svc.Slots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 6)
}

func TestPatientBookingViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.book(t, monday, "09:00")
	second := f.book(t, monday, "09:30")
	_, err := f.svc.ApproveBooking(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.svc.CancelBooking(ctx, second.ID)
	require.NoError(t, err)

	upcoming, err := f.svc.PatientBookings(ctx, f.patient, ViewUpcoming)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, first.ID, upcoming[0].ID)

	history, err := f.svc.PatientBookings(ctx, f.patient, ViewHistory)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second.ID, history[0].ID)

	f.clock.Set(at(wednesday, "08:00"))

	upcoming, err = f.svc.PatientBookings(ctx, f.patient, ViewUpcoming)
	require.NoError(t, err)
	assert.Empty(t, upcoming)

	history, err = f.svc.PatientBookings(ctx, f.patient, ViewHistory)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")

	all, err := f.svc.PatientBookings(ctx, f.patient, ViewAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCompletePastBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	approved := f.book(t, monday, "09:00")
	pending := f.book(t, monday, "09:30")
	later := f.book(t, wednesday, "09:00")
	_, err := f.svc.ApproveBooking(ctx, approved.ID)
	require.NoError(t, err)
	_, err = f.svc.ApproveBooking(ctx, later.ID)
	require.NoError(t, err)

	f.clock.Set(at(wednesday, "08:00"))

	n, err := f.svc.CompletePastBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetBooking(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	got, err = f.svc.GetBooking(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = f.svc.GetBooking(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestEventsAreLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, monday, "09:00")
	_, err := f.svc.ApproveBooking(ctx, b.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventScheduleReplaced, EventBookingCreated, EventBookingApproved}, types)
}

type contendResult struct {
	successes   int
	conflicts   int
	unavailable int
	others      []error
}

// contend releases n Book calls for the same slot at once.
func contend(t *testing.T, svc *Service, provider uuid.UUID, n int) contendResult {
	t.Helper()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		res   contendResult
		start = make(chan struct{})
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), BookingRequest{
				ProviderID: provider,
				PatientID:  uuid.New(),
				Date:       monday,
				Time:       tod("09:00"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.successes++
			case errors.Is(err, ErrSlotConflict):
				res.conflicts++
			case errors.Is(err, ErrSlotUnavailable):
				res.unavailable++
			default:
				res.others = append(res.others, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return res
}

// barrierRepository holds every ListActiveBookings caller until all of them
// have arrived, so every contender passes the availability check before
// anyone commits.
type barrierRepository struct {
	*MemoryRepository
	arrived sync.WaitGroup
}

func (r *barrierRepository) ListActiveBookings(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]Booking, error) {
	out, err := r.MemoryRepository.ListActiveBookings(ctx, providerID, date)
	r.arrived.Done()
	r.arrived.Wait()
	return out, err
}

func TestConcurrentBookingsDatabaseConstraint(t *testing.T) {
	const contenders = 12
	ctx := context.Background()

	repo := &barrierRepository{MemoryRepository: NewMemoryRepository()}
	repo.arrived.Add(contenders)

	clock := &testClock{t: at(sunday, "12:00")}
	svc := NewService(repo, nil, Options{Location: time.UTC, Now: clock.Now})
	provider := uuid.New()
	require.NoError(t, repo.ReplaceWeek(ctx, provider, morningWeek()))

	res := contend(t, svc, provider, contenders)

	assert.Empty(t, res.others)
	assert.Equal(t, 1, res.successes)
	assert.Equal(t, contenders-1, res.conflicts)

	active, err := repo.MemoryRepository.ListActiveBookings(ctx, provider, monday)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// countingLocker closes all once n callers have asked for a slot lock.
type countingLocker struct {
	redisclient.Locker
	attempts atomic.Int32
	n        int32
	all      chan struct{}
}

func (l *countingLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.attempts.Add(1) == l.n {
		close(l.all)
	}
	return l.Locker.WithSlotLock(ctx, key, fn)
}

// holdingRepository keeps the lock holder inside InsertBooking until every
// contender has tried the lock.
type holdingRepository struct {
	*MemoryRepository
	all <-chan struct{}
}

func (r *holdingRepository) InsertBooking(ctx context.Context, b Booking) (*Booking, error) {
	select {
	case <-r.all:
	case <-time.After(5 * time.Second):
	}
	return r.MemoryRepository.InsertBooking(ctx, b)
}

func TestConcurrentBookingsSingleWinner(t *testing.T) {
	const contenders = 50
	ctx := context.Background()

	locker := &countingLocker{
		Locker: redisclient.NewLocalSlotLocker(10 * time.Second),
		n:      contenders,
		all:    make(chan struct{}),
	}
	repo := &holdingRepository{MemoryRepository: NewMemoryRepository(), all: locker.all}

	clock := &testClock{t: at(sunday, "12:00")}
	svc := NewService(repo, locker, Options{Location: time.UTC, Now: clock.Now})
	provider := uuid.New()
	require.NoError(t, repo.ReplaceWeek(ctx, provider, morningWeek()))

	res := contend(t, svc, provider, contenders)

	assert.Empty(t, res.others)
	assert.Equal(t, 1, res.successes)
	assert.Equal(t, contenders-1, res.conflicts)
	assert.Zero(t, res.unavailable)
}

func TestConcurrentBookingsNeverDoubleBook(t *testing.T) {
	lockers := map[string]func() redisclient.Locker{
		"database constraint only": func() redisclient.Locker { return nil },
		"local slot lock":          func() redisclient.Locker { return redisclient.NewLocalSlotLocker(time.Second) },
	}

	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			const contenders = 200
			ctx := context.Background()

			repo := NewMemoryRepository()
			clock := &testClock{t: at(sunday, "12:00")}
			svc := NewService(repo, newLocker(), Options{Location: time.UTC, Now: clock.Now})
			provider := uuid.New()
			require.NoError(t, repo.ReplaceWeek(ctx, provider, morningWeek()))

			res := contend(t, svc, provider, contenders)

			// Late arrivals may see the winner's booking; either way they
			// must pick another slot.
			assert.Empty(t, res.others)
			assert.Equal(t, 1, res.successes)
			assert.Equal(t, contenders-1, res.conflicts+res.unavailable)

			active, err := repo.ListActiveBookings(ctx, provider, monday)
			require.NoError(t, err)
			assert.Len(t, active, 1)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusApproved, StatusCompleted, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusPending, false},
		{StatusCancelled, StatusApproved, false},
		{StatusCompleted, StatusCancelled, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
