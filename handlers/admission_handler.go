package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-admission/internal/status"
	"ticket-admission/services"
)

// AdmissionHandler exposes the admission engine over the PocketBase
// router. The authenticated record is the acting user; the engine
// itself never sees authentication concerns.
type AdmissionHandler struct {
	admission *services.AdmissionService
}

func NewAdmissionHandler(admission *services.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{admission: admission}
}

func (h *AdmissionHandler) Join(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	result, err := h.admission.Join(e.Request.Context(), req.EventID, e.Auth.Id)
	if err != nil {
		return admissionError(err)
	}

	return e.JSON(http.StatusOK, result)
}

func (h *AdmissionHandler) Release(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
		EntryID string `json:"entry_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.EntryID == "" {
		return apis.NewBadRequestError("event_id and entry_id are required", nil)
	}

	entry, err := h.admission.Release(e.Request.Context(), req.EventID, req.EntryID, e.Auth.Id)
	if errors.Is(err, status.ErrAlreadyTerminal) {
		// Replayed release: report the final state, not a failure.
		return e.JSON(http.StatusOK, map[string]any{
			"entry":   entry,
			"message": "Entry was already finalized",
		})
	}
	if err != nil {
		return admissionError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"entry":   entry,
		"message": "Entry released",
	})
}

func (h *AdmissionHandler) Purchase(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
		EntryID string `json:"entry_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.EntryID == "" {
		return apis.NewBadRequestError("event_id and entry_id are required", nil)
	}

	ticket, err := h.admission.CommitPurchase(e.Request.Context(), req.EventID, req.EntryID, e.Auth.Id)
	if err != nil {
		return admissionError(err)
	}

	// Payment capture is the caller's concern, triggered after this
	// succeeds.
	return e.JSON(http.StatusOK, ticket)
}

func (h *AdmissionHandler) Position(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	eventID := e.Request.URL.Query().Get("event_id")
	if eventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	snapshot, err := h.admission.GetPosition(e.Request.Context(), eventID, e.Auth.Id)
	if err != nil {
		return admissionError(err)
	}
	if snapshot == nil {
		return e.JSON(http.StatusOK, map[string]any{"entry": nil})
	}

	return e.JSON(http.StatusOK, snapshot)
}

func (h *AdmissionHandler) Availability(e *core.RequestEvent) error {
	eventID := e.Request.URL.Query().Get("event_id")
	if eventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	availability, err := h.admission.GetAvailability(e.Request.Context(), eventID)
	if err != nil {
		return admissionError(err)
	}

	return e.JSON(http.StatusOK, availability)
}

// admissionError maps the engine's outcome taxonomy onto API errors.
func admissionError(err error) error {
	switch {
	case errors.Is(err, status.ErrRateLimited):
		return apis.NewApiError(http.StatusTooManyRequests, err.Error(), nil)
	case errors.Is(err, status.ErrNotEventOwner):
		return apis.NewForbiddenError(err.Error(), nil)
	case errors.Is(err, status.ErrEventEnded),
		errors.Is(err, status.ErrNoActiveOffer):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrExpired),
		errors.Is(err, status.ErrAlreadyPurchased),
		errors.Is(err, status.ErrAlreadyTerminal):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	}
	return apis.NewApiError(http.StatusInternalServerError, "Something went wrong", err)
}
