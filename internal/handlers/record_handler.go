package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cutline/agent/internal/models"
	"github.com/cutline/agent/internal/services"
	"github.com/cutline/agent/internal/store"
)

// RecordHandler handles caption record endpoints
type RecordHandler struct {
	store       *store.Store
	exifService *services.EXIFService
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(recordStore *store.Store, exifService *services.EXIFService) *RecordHandler {
	return &RecordHandler{
		store:       recordStore,
		exifService: exifService,
	}
}

// List returns all live records
// @Summary List records
// @Description List all caption records not marked deleted, ordered by date added
// @Tags records
// @Produce json
// @Success 200 {object} models.RecordListResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records [get]
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		log.Printf("Error listing records: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusOK, listResponse(records))
}

// Search returns live records whose caption matches the term
// @Summary Search records
// @Description Case-insensitive substring search over captions
// @Tags records
// @Produce json
// @Param q query string true "Search term"
// @Success 200 {object} models.RecordListResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records/search [get]
func (h *RecordHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")

	records, err := h.store.Search(r.Context(), term)
	if err != nil {
		log.Printf("Error searching records: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusOK, listResponse(records))
}

// GetByID returns a single record
// @Summary Get a record
// @Tags records
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} models.Record
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records/{id} [get]
func (h *RecordHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.FetchByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			h.respondError(w, http.StatusNotFound, "Record not found.")
			return
		}
		log.Printf("Error fetching record %s: %v", id, err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// Create adds a new caption record
// @Summary Create a record
// @Description Create a caption record. The record is pushed to the caption service on the next sync cycle.
// @Tags records
// @Accept json
// @Produce json
// @Param request body models.CreateRecordRequest true "Record to create"
// @Success 201 {object} models.Record
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records [post]
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	dateTaken := time.Now().UTC()
	if req.DateTaken != nil {
		dateTaken = req.DateTaken.UTC()
	}

	record, err := h.store.Create(r.Context(), id, req.Caption, dateTaken)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateID) {
			h.respondError(w, http.StatusConflict, "Record id already exists.")
			return
		}
		log.Printf("Error creating record: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusCreated, record)
}

// CreateFromImage adds a record for an uploaded image, taking dateTaken
// from the image's EXIF data when present. Only metadata is read; the
// image itself is not stored.
// @Summary Create a record from an image
// @Tags records
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image to read capture metadata from"
// @Param caption formData string false "Caption text"
// @Success 201 {object} models.Record
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records/from-image [post]
func (h *RecordHandler) CreateFromImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		h.respondError(w, http.StatusBadRequest, "Request must be multipart/form-data.")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "No file provided or file is empty.")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read file.")
		return
	}

	dateTaken := time.Now().UTC()
	if taken := h.exifService.DateTaken(bytes.NewReader(content)); taken != nil {
		dateTaken = *taken
	}

	record, err := h.store.Create(r.Context(), uuid.New().String(), r.FormValue("caption"), dateTaken)
	if err != nil {
		log.Printf("Error creating record: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusCreated, record)
}

// Update edits a record's caption
// @Summary Update a record's caption
// @Description Set a new caption. An unchanged caption is a no-op and does not trigger a sync.
// @Tags records
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param request body models.UpdateRecordRequest true "New caption"
// @Success 200 {object} models.Record
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records/{id} [put]
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	record, err := h.store.Update(r.Context(), id, req.Caption)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			h.respondError(w, http.StatusNotFound, "Record not found.")
			return
		}
		log.Printf("Error updating record %s: %v", id, err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// Delete tombstones a record
// @Summary Delete a record
// @Description Mark a record deleted. The row is purged once the caption service acknowledges the delete.
// @Tags records
// @Produce json
// @Param id path string true "Record ID"
// @Success 204 "Record marked deleted"
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/records/{id} [delete]
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			h.respondError(w, http.StatusNotFound, "Record not found.")
			return
		}
		log.Printf("Error deleting record %s: %v", id, err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func listResponse(records []*models.Record) models.RecordListResponse {
	items := make([]models.Record, 0, len(records))
	for _, record := range records {
		items = append(items, *record)
	}
	return models.RecordListResponse{
		Records:    items,
		TotalCount: len(items),
	}
}

func (h *RecordHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *RecordHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
