package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/logger"
	"github.com/hackgods/provider-availability/internal/metrics"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

const (
	monday  = "2026-10-19"
	tuesday = "2026-10-20"
)

type testServer struct {
	handler  http.Handler
	svc      *appointment.Service
	provider uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := availability.MustDate("2026-10-18").At(availability.MustTimeOfDay("12:00"), time.UTC)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")
	log := logger.Nop()

	svc := appointment.NewService(appointment.NewMemoryRepository(), redisclient.NewLocalSlotLocker(time.Second), appointment.Options{
		Location: time.UTC,
		Logger:   &log,
		Metrics:  m,
		Now:      func() time.Time { return now },
	})

	provider := uuid.New()
	require.NoError(t, svc.SaveProvider(context.Background(), appointment.Provider{ID: provider, Name: "Dr. Adams"}))

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:  svc,
			Logger:   log,
			Metrics:  m,
			Gatherer: reg,
			Env:      "test",
			Version:  "dev",
		}),
		svc:      svc,
		provider: provider,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) providerPath(suffix string) string {
	return "/providers/" + s.provider.String() + suffix
}

// morningWeekRequest works 09:00-12:00 Monday to Friday with a 10:00 break.
func morningWeekRequest() ReplaceWeekRequest {
	days := []string{"SUNDAY", "MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY"}
	req := ReplaceWeekRequest{}
	for i, d := range days {
		if i == 0 || i == 6 {
			req.Days = append(req.Days, DayRuleRequest{DayOfWeek: d})
			continue
		}
		req.Days = append(req.Days, DayRuleRequest{
			DayOfWeek:           d,
			IsAvailable:         true,
			StartTime:           "09:00",
			EndTime:             "12:00",
			SlotDurationMinutes: 30,
			Breaks:              []BreakRequest{{Start: "10:00", End: "10:30"}},
		})
	}
	return req
}

func (s *testServer) setupWeek(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPut, s.providerPath("/schedule"), morningWeekRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) book(t *testing.T, date, hhmm string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		ProviderID: s.provider.String(),
		PatientID:  uuid.NewString(),
		Date:       date,
		Time:       hhmm,
	})
}

func slotTimes(slots []SlotResponse) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time.String())
	}
	return out
}

func TestScheduleRoundTripAndSlots(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	rec := s.do(t, http.MethodGet, s.providerPath("/schedule"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedule := decodeBody[ScheduleResponse](t, rec)
	require.Len(t, schedule.Days, 7)
	assert.Equal(t, "MONDAY", schedule.Days[1].DayOfWeek)
	assert.Equal(t, "10:00", schedule.Days[1].Breaks[0].Start.String())

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+monday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30"}, slotTimes(slots.Slots))
	for _, slot := range slots.Slots {
		assert.Equal(t, availability.SlotAvailable, slot.Status)
		assert.Equal(t, availability.Morning, slot.Period)
	}

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date=2026-10-18"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, rec, "slots")))
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, name string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	raw, ok := m[name]
	require.True(t, ok, "missing %q in %s", name, rec.Body.String())
	return raw
}

func TestSlotsRequiresDate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, s.providerPath("/slots"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date=19-10-2026"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/providers/not-a-uuid/slots?date="+monday, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceScheduleReportsEveryViolation(t *testing.T) {
	s := newTestServer(t)

	req := morningWeekRequest()
	req.Days[1].EndTime = "08:00"
	req.Days[2].SlotDurationMinutes = 0

	rec := s.do(t, http.MethodPut, s.providerPath("/schedule"), req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	fields := make([]string, 0, len(resp.Violations))
	for _, v := range resp.Violations {
		fields = append(fields, v.Field)
	}
	assert.Contains(t, fields, "monday.end_time")
	assert.Contains(t, fields, "tuesday.slot_duration_minutes")

	// Nothing was stored.
	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+monday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[SlotsResponse](t, rec).Slots)
}

func TestReplaceScheduleRejectsMalformedInput(t *testing.T) {
	s := newTestServer(t)

	req := morningWeekRequest()
	req.Days = req.Days[:6]
	rec := s.do(t, http.MethodPut, s.providerPath("/schedule"), req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "days", decodeBody[ErrorResponse](t, rec).Violations[0].Field)

	req = morningWeekRequest()
	req.Days[1].StartTime = "9am"
	rec = s.do(t, http.MethodPut, s.providerPath("/schedule"), req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "days[1].start_time", decodeBody[ErrorResponse](t, rec).Violations[0].Field)

	rec = s.do(t, http.MethodPut, s.providerPath("/schedule"), "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	rec := s.book(t, monday, "09:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decodeBody[BookingResponse](t, rec)
	assert.Equal(t, "PENDING", booking.Status)
	assert.Equal(t, "09:30", booking.Time.String())

	rec = s.book(t, monday, "09:30")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "APPROVED", decodeBody[BookingResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+monday), nil)
	slots := decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, availability.SlotBooked, slots.Slots[1].Status)

	rec = s.do(t, http.MethodGet, s.providerPath("/agenda?date="+monday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agenda := decodeBody[AgendaResponse](t, rec)
	require.NotNil(t, agenda.Slots[1].Booking)
	assert.Equal(t, booking.ID, agenda.Slots[1].Booking.ID)
	assert.Nil(t, agenda.Slots[0].Booking)

	rec = s.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/bookings/"+booking.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.book(t, monday, "09:30")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, s.providerPath("/bookings?date="+monday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BookingResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBookingValidation(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	rec := s.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		ProviderID: "nope",
		Date:       "tomorrow",
		Time:       "09:00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	fields := make([]string, 0, len(resp.Violations))
	for _, v := range resp.Violations {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"provider_id", "patient_id", "date"}, fields)

	rec = s.book(t, monday, "10:00")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.book(t, "2026-10-18", "09:00")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// No week configured at all.
	rec = s.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
		ProviderID: uuid.NewString(),
		PatientID:  uuid.NewString(),
		Date:       monday,
		Time:       "09:00",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "schedule_not_found", decodeBody[ErrorResponse](t, rec).Error)
}

func TestLeaveEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	rec := s.do(t, http.MethodPut, s.providerPath("/leaves/"+tuesday), LeaveRequest{Reason: "conference"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "added", decodeBody[LeaveOutcomeResponse](t, rec).Outcome)

	rec = s.do(t, http.MethodPut, s.providerPath("/leaves/"+tuesday), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "already_on_leave", decodeBody[LeaveOutcomeResponse](t, rec).Outcome)

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+tuesday), nil)
	assert.Empty(t, decodeBody[SlotsResponse](t, rec).Slots)

	rec = s.do(t, http.MethodGet, s.providerPath("/leaves?from="+monday+"&to=2026-10-31"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	leaves := decodeBody[[]LeaveResponse](t, rec)
	require.Len(t, leaves, 1)
	assert.Equal(t, "conference", leaves[0].Reason)

	rec = s.do(t, http.MethodGet, s.providerPath("/calendar?month=2026-10"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cal := decodeBody[CalendarResponse](t, rec)
	require.Len(t, cal.Days, 31)
	assert.Equal(t, availability.DayWorking, cal.Days[18].Kind)
	assert.Equal(t, availability.DayLeave, cal.Days[19].Kind)
	assert.Equal(t, availability.DayRest, cal.Days[17].Kind)

	rec = s.do(t, http.MethodPost, s.providerPath("/leaves/"+tuesday+"/toggle"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "removed", decodeBody[LeaveOutcomeResponse](t, rec).Outcome)

	rec = s.do(t, http.MethodDelete, s.providerPath("/leaves/"+tuesday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_on_leave", decodeBody[LeaveOutcomeResponse](t, rec).Outcome)

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+tuesday), nil)
	assert.Len(t, decodeBody[SlotsResponse](t, rec).Slots, 5)

	rec = s.do(t, http.MethodGet, s.providerPath("/calendar?month=October"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	rec := s.do(t, http.MethodPost, s.providerPath("/blocks"), BlockSlotRequest{Date: monday, Time: "11:00", Reason: "staff meeting"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+monday), nil)
	slots := decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, availability.SlotBlocked, slots.Slots[3].Status)

	rec = s.book(t, monday, "11:00")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusCreated, s.book(t, monday, "09:30").Code)
	rec = s.do(t, http.MethodPost, s.providerPath("/blocks"), BlockSlotRequest{Date: monday, Time: "09:30"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_occupied", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, s.providerPath("/blocks?from="+monday+"&to="+monday), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BlockResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, s.providerPath("/blocks/"+monday+"/11:00"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, s.providerPath("/blocks/"+monday+"/11:00"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, s.providerPath("/slots?date="+monday), nil)
	slots = decodeBody[SlotsResponse](t, rec)
	assert.Equal(t, availability.SlotAvailable, slots.Slots[3].Status)
}

func TestPatientBookings(t *testing.T) {
	s := newTestServer(t)
	s.setupWeek(t)

	patient := uuid.New()
	for _, hhmm := range []string{"09:00", "11:00"} {
		rec := s.do(t, http.MethodPost, "/bookings", CreateBookingRequest{
			ProviderID: s.provider.String(),
			PatientID:  patient.String(),
			Date:       monday,
			Time:       hhmm,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		if hhmm == "11:00" {
			id := decodeBody[BookingResponse](t, rec).ID
			require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/bookings/"+id.String()+"/cancel", nil).Code)
		}
	}

	path := "/patients/" + patient.String() + "/bookings"

	rec := s.do(t, http.MethodGet, path+"?view=upcoming", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	upcoming := decodeBody[[]BookingResponse](t, rec)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "09:00", upcoming[0].Time.String())

	rec = s.do(t, http.MethodGet, path+"?view=history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]BookingResponse](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "CANCELLED", history[0].Status)

	rec = s.do(t, http.MethodGet, path+"?view=everything", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProviders(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	providers := decodeBody[[]ProviderResponse](t, rec)
	require.Len(t, providers, 1)
	assert.Equal(t, "Dr. Adams", providers[0].Name)
}

func TestMetricsAndRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `test_http_requests_total{method="GET",route="/health/live",status="200"} 1`), rec.Body.String())
}

func TestBookingRateLimit(t *testing.T) {
	log := logger.Nop()
	svc := appointment.NewService(appointment.NewMemoryRepository(), nil, appointment.Options{})
	handler := NewRouter(RouterConfig{Service: svc, Logger: log, BookingRate: 1, BookingBurst: 1})

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnprocessableEntity, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	cases := []struct {
		name   string
		checks []DependencyCheck
		status string
		code   int
	}{
		{"all up", []DependencyCheck{{"postgres", true, ok}, {"redis", false, ok}}, "ok", http.StatusOK},
		{"redis down", []DependencyCheck{{"postgres", true, ok}, {"redis", false, down}}, "degraded", http.StatusOK},
		{"postgres down", []DependencyCheck{{"postgres", true, down}, {"redis", false, ok}}, "error", http.StatusServiceUnavailable},
		{"both down", []DependencyCheck{{"postgres", true, down}, {"redis", false, down}}, "error", http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler("test", "dev", tc.checks...)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tc.code, rec.Code)
			resp := decodeBody[ReadinessResponse](t, rec)
			assert.Equal(t, tc.status, resp.Status)
			assert.Len(t, resp.Dependencies, 2)
		})
	}
}
