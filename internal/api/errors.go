package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/availability"
)

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *availability.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeValidationError(w, vErr)
	case errors.Is(err, errBadBody):
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
	case errors.Is(err, appointment.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot was just taken, please pick another")
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_occupied", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotBlocked):
		writeError(w, http.StatusNotFound, "block_not_found", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
