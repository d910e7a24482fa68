package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"slidegen/internal/services"
)

// ImageHandler handles HTTP requests for background image generation
type ImageHandler struct {
	tasks *services.ImageTaskService
	log   *zap.Logger
}

// NewImageHandler creates a new image handler
func NewImageHandler(tasks *services.ImageTaskService, log *zap.Logger) *ImageHandler {
	return &ImageHandler{
		tasks: tasks,
		log:   log.Named("images"),
	}
}

// BatchRequest selects the slides of a batch; empty means every slide with
// a prompt and no image
type BatchRequest struct {
	SlideIDs []string `json:"slide_ids"`
}

// GenerateImages queues image generation for many slides
// POST /api/v1/presentations/{id}/generate-images
func (h *ImageHandler) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", codeValidation)
		return
	}

	sub, err := h.tasks.SubmitBatch(r.Context(), mux.Vars(r)["id"], req.SlideIDs)
	if err != nil {
		h.fail(w, "Failed to queue images", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// GenerateImage queues image generation for one slide
// POST /api/v1/presentations/{id}/slides/{slideId}/generate-image
func (h *ImageHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sub, err := h.tasks.GenerateSlide(r.Context(), vars["id"], vars["slideId"])
	if err != nil {
		h.fail(w, "Failed to queue image", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// RegenerateRequest optionally replaces the slide's image prompt
type RegenerateRequest struct {
	ImagePrompt string `json:"image_prompt"`
}

// RegenerateImage clears a slide's image and queues a new one
// POST /api/v1/presentations/{id}/slides/{slideId}/regenerate-image
func (h *ImageHandler) RegenerateImage(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", codeValidation)
		return
	}
	vars := mux.Vars(r)
	sub, err := h.tasks.RegenerateSlide(r.Context(), vars["id"], vars["slideId"], req.ImagePrompt)
	if err != nil {
		h.fail(w, "Failed to queue image", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// ImageStatus reports the image state of every slide
// GET /api/v1/presentations/{id}/image-status
func (h *ImageHandler) ImageStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tasks.BatchStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, "Failed to get image status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TaskStatus returns a single task
// GET /api/v1/presentations/tasks/{taskId}
func (h *ImageHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Task(r.Context(), mux.Vars(r)["taskId"])
	if err != nil {
		h.fail(w, "Failed to get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *ImageHandler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), codeNotFound)
	case errors.Is(err, services.ErrNoSlidesToProcess):
		writeError(w, http.StatusUnprocessableEntity, "No slides to process", codeValidation)
	case errors.Is(err, services.ErrNoPrompt):
		writeError(w, http.StatusUnprocessableEntity, "Slide has no image prompt", codeValidation)
	case errors.Is(err, services.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "Image workers are not running", codeUnavailable)
	default:
		h.log.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg, codeInternal)
	}
}
