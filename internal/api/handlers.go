package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/availability"
)

const monthLayout = "2006-01"

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathDate(w http.ResponseWriter, r *http.Request) (availability.Date, bool) {
	d, err := availability.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return availability.Date{}, false
	}
	return d, true
}

// queryDate reads a YYYY-MM-DD query parameter, falling back to def when the
// parameter is absent. A zero def makes the parameter required.
func queryDate(w http.ResponseWriter, r *http.Request, name string, def availability.Date) (availability.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if def.IsZero() {
			writeError(w, http.StatusBadRequest, "missing_"+name, name+" is required (YYYY-MM-DD)")
			return def, false
		}
		return def, true
	}
	d, err := availability.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be YYYY-MM-DD")
		return availability.Date{}, false
	}
	return d, true
}

// queryRange reads from/to, defaulting to today and four weeks after from.
func queryRange(w http.ResponseWriter, r *http.Request, svc *appointment.Service) (availability.Date, availability.Date, bool) {
	from, ok := queryDate(w, r, "from", svc.Today())
	if !ok {
		return from, from, false
	}
	to, ok := queryDate(w, r, "to", from.AddDays(28))
	if !ok {
		return from, to, false
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid_range", "to must not be before from")
		return from, to, false
	}
	return from, to, true
}

// Providers

func listProvidersHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := svc.Providers(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]ProviderResponse, 0, len(providers))
		for _, p := range providers {
			resp = append(resp, ProviderResponse{ID: p.ID, Name: p.Name, Specialty: p.Specialty})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Schedule

func getScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		week, err := svc.Week(r.Context(), providerID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(providerID, week))
	}
}

func replaceScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		var req ReplaceWeekRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, r, err)
			return
		}

		week, err := req.toWeek()
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		if err := svc.ReplaceWeek(r.Context(), providerID, week); err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toScheduleResponse(providerID, week))
	}
}

// Slots

func slotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		date, ok := queryDate(w, r, "date", availability.Date{})
		if !ok {
			return
		}

		slots, err := svc.Slots(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := SlotsResponse{ProviderID: providerID, Date: date, Slots: make([]SlotResponse, 0, len(slots))}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func agendaHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		date, ok := queryDate(w, r, "date", svc.Today())
		if !ok {
			return
		}

		entries, err := svc.Agenda(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := AgendaResponse{ProviderID: providerID, Date: date, Slots: make([]AgendaEntryResponse, 0, len(entries))}
		for _, e := range entries {
			entry := AgendaEntryResponse{SlotResponse: toSlotResponse(e.Slot)}
			if e.Booking != nil {
				b := toBookingResponse(*e.Booking)
				entry.Booking = &b
			}
			resp.Slots = append(resp.Slots, entry)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func calendarHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		today := svc.Today()
		year, month := today.Year, today.Month
		if raw := r.URL.Query().Get("month"); raw != "" {
			t, err := time.Parse(monthLayout, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_month", "month must be YYYY-MM")
				return
			}
			year, month = t.Year(), t.Month()
		}

		days, err := svc.Calendar(r.Context(), providerID, year, month)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := CalendarResponse{
			ProviderID: providerID,
			Month:      time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format(monthLayout),
			Days:       make([]CalendarDayResponse, 0, len(days)),
		}
		for _, d := range days {
			resp.Days = append(resp.Days, CalendarDayResponse{Date: d.Date, Kind: d.Kind})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Leaves

func listLeavesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		from, to, ok := queryRange(w, r, svc)
		if !ok {
			return
		}

		leaves, err := svc.Leaves(r.Context(), providerID, from, to)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]LeaveResponse, 0, len(leaves))
		for _, l := range leaves {
			resp = append(resp, LeaveResponse{ProviderID: l.ProviderID, Date: l.Date, Reason: l.Reason})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type leaveAction func(r *http.Request, providerID uuid.UUID, date availability.Date, reason string) (appointment.LeaveOutcome, error)

func leaveHandler(action leaveAction, withBody bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		date, ok := pathDate(w, r)
		if !ok {
			return
		}

		var req LeaveRequest
		if withBody {
			if err := decodeOptionalJSON(r, &req); err != nil {
				handleServiceError(w, r, err)
				return
			}
		}

		outcome, err := action(r, providerID, date, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, LeaveOutcomeResponse{ProviderID: providerID, Date: date, Outcome: string(outcome)})
	}
}

func addLeaveHandler(svc *appointment.Service) http.HandlerFunc {
	return leaveHandler(func(r *http.Request, providerID uuid.UUID, date availability.Date, reason string) (appointment.LeaveOutcome, error) {
		return svc.AddLeave(r.Context(), providerID, date, reason)
	}, true)
}

func removeLeaveHandler(svc *appointment.Service) http.HandlerFunc {
	return leaveHandler(func(r *http.Request, providerID uuid.UUID, date availability.Date, _ string) (appointment.LeaveOutcome, error) {
		return svc.RemoveLeave(r.Context(), providerID, date)
	}, false)
}

func toggleLeaveHandler(svc *appointment.Service) http.HandlerFunc {
	return leaveHandler(func(r *http.Request, providerID uuid.UUID, date availability.Date, reason string) (appointment.LeaveOutcome, error) {
		return svc.ToggleLeave(r.Context(), providerID, date, reason)
	}, true)
}

// Blocks

func listBlocksHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		from, to, ok := queryRange(w, r, svc)
		if !ok {
			return
		}

		blocks, err := svc.Blocks(r.Context(), providerID, from, to)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]BlockResponse, 0, len(blocks))
		for _, b := range blocks {
			resp = append(resp, toBlockResponse(b))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func blockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		var req BlockSlotRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, r, err)
			return
		}

		date, at, err := parseSlot(req.Date, req.Time)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		block, err := svc.BlockSlot(r.Context(), providerID, date, at, req.Reason)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBlockResponse(*block))
	}
}

func unblockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}

		date, at, err := parseSlot(chi.URLParam(r, "date"), chi.URLParam(r, "time"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		if err := svc.UnblockSlot(r.Context(), providerID, date, at); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseSlot parses a date and time pair, reporting both problems at once.
func parseSlot(rawDate, rawTime string) (availability.Date, availability.TimeOfDay, error) {
	vErr := &availability.ValidationError{}

	date, err := availability.ParseDate(rawDate)
	if err != nil {
		vErr.Add("date", "must be YYYY-MM-DD")
	}
	at, err := availability.ParseTimeOfDay(rawTime)
	if err != nil {
		vErr.Add("time", "must be HH:MM")
	}
	return date, at, vErr.Err()
}

// Bookings

func providerBookingsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := pathUUID(w, r, "providerID")
		if !ok {
			return
		}
		date, ok := queryDate(w, r, "date", svc.Today())
		if !ok {
			return
		}

		bookings, err := svc.ProviderBookings(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponses(bookings))
	}
}

func createBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, r, err)
			return
		}

		date, at, err := parseSlot(req.Date, req.Time)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		booking, err := svc.Book(r.Context(), appointment.BookingRequest{
			ProviderID: uuid.MustParse(req.ProviderID),
			PatientID:  uuid.MustParse(req.PatientID),
			Date:       date,
			Time:       at,
			Reason:     req.Reason,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBookingResponse(*booking))
	}
}

func getBookingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		booking, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(*booking))
	}
}

type transitionFunc func(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.Booking, error)

func transitionHandler(svc *appointment.Service, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		booking, err := fn(svc, r, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(*booking))
	}
}

func approveBooking(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
	return svc.ApproveBooking(r.Context(), id)
}

func cancelBooking(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
	return svc.CancelBooking(r.Context(), id)
}

func completeBooking(svc *appointment.Service, r *http.Request, id uuid.UUID) (*appointment.Booking, error) {
	return svc.CompleteBooking(r.Context(), id)
}

func patientBookingsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := pathUUID(w, r, "patientID")
		if !ok {
			return
		}

		view := appointment.PatientView(r.URL.Query().Get("view"))
		switch view {
		case appointment.ViewAll, appointment.ViewUpcoming, appointment.ViewHistory:
		default:
			writeError(w, http.StatusBadRequest, "invalid_view", "view must be upcoming or history")
			return
		}

		bookings, err := svc.PatientBookings(r.Context(), patientID, view)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponses(bookings))
	}
}
