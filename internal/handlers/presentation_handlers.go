package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"slidegen/internal/models"
	"slidegen/internal/services"
)

// PresentationHandler handles HTTP requests for presentations
type PresentationHandler struct {
	store *services.PresentationStore
	log   *zap.Logger
}

// NewPresentationHandler creates a new presentation handler
func NewPresentationHandler(store *services.PresentationStore, log *zap.Logger) *PresentationHandler {
	return &PresentationHandler{
		store: store,
		log:   log.Named("presentations"),
	}
}

// CreatePresentation stores a new deck
// POST /api/v1/presentations
func (h *PresentationHandler) CreatePresentation(w http.ResponseWriter, r *http.Request) {
	var deck models.Deck
	if err := json.NewDecoder(r.Body).Decode(&deck); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", codeValidation)
		return
	}
	if len(deck.Slides) == 0 {
		writeError(w, http.StatusBadRequest, "slides are required", codeValidation)
		return
	}
	for _, slide := range deck.Slides {
		if slide == nil {
			writeError(w, http.StatusBadRequest, "slides must not be null", codeValidation)
			return
		}
	}

	created, err := h.store.Create(r.Context(), &deck)
	if err != nil {
		h.fail(w, "Failed to create presentation", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetPresentation returns a deck with its slides
// GET /api/v1/presentations/{id}
func (h *PresentationHandler) GetPresentation(w http.ResponseWriter, r *http.Request) {
	deck, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, "Failed to get presentation", err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

// UpdatePresentation changes deck-level metadata
// PATCH /api/v1/presentations/{id}
func (h *PresentationHandler) UpdatePresentation(w http.ResponseWriter, r *http.Request) {
	var patch services.MetaPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", codeValidation)
		return
	}
	deck, err := h.store.UpdateMeta(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.fail(w, "Failed to update presentation", err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

// UpdateSlide persists a partial slide change
// PATCH /api/v1/presentations/{id}/slides/{slideId}
func (h *PresentationHandler) UpdateSlide(w http.ResponseWriter, r *http.Request) {
	var patch models.SlidePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", codeValidation)
		return
	}
	vars := mux.Vars(r)
	slide, err := h.store.UpdateSlide(r.Context(), vars["id"], vars["slideId"], patch)
	if errors.Is(err, services.ErrInvalidImage) {
		writeError(w, http.StatusBadRequest, "imageUrl is not a valid base64 data URL", codeValidation)
		return
	}
	if err != nil {
		h.fail(w, "Failed to update slide", err)
		return
	}
	writeJSON(w, http.StatusOK, slide)
}

func (h *PresentationHandler) fail(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), codeNotFound)
		return
	}
	if errors.Is(err, services.ErrInvalidID) {
		writeError(w, http.StatusBadRequest, err.Error(), codeValidation)
		return
	}
	h.log.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg, codeInternal)
}
