package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/cutline/agent/internal/models"
	"github.com/cutline/agent/internal/services"
	"github.com/cutline/agent/internal/store"
)

// SyncHandler handles sync control endpoints
type SyncHandler struct {
	store  *store.Store
	engine *services.SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(recordStore *store.Store, engine *services.SyncService) *SyncHandler {
	return &SyncHandler{
		store:  recordStore,
		engine: engine,
	}
}

// Refresh requests a sync cycle
// @Summary Trigger a sync cycle
// @Description Request a push/pull cycle. Requests arriving while a cycle runs coalesce into a single follow-up cycle.
// @Tags sync
// @Produce json
// @Success 202 "Sync requested"
// @Security ApiKeyAuth
// @Router /api/sync/refresh [post]
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.engine.RequestSync()
	w.WriteHeader(http.StatusAccepted)
}

// GetStatus returns sync engine status and record counts
// @Summary Get sync status
// @Tags sync
// @Produce json
// @Success 200 {object} models.SyncStatusResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/sync/status [get]
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.GetCounts(r.Context())
	if err != nil {
		log.Printf("Error getting record counts: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	lastSyncAt, err := h.store.LastSyncAt(r.Context())
	if err != nil {
		log.Printf("Error getting last sync time: %v", err)
	}

	response := models.SyncStatusResponse{
		State:            string(h.engine.State()),
		TotalRecords:     counts.Total,
		DirtyRecords:     counts.Dirty,
		LocalOnlyRecords: counts.LocalOnly,
		DeletedPending:   counts.Deleted,
		LastSyncAt:       lastSyncAt,
		LastError:        h.engine.LastError(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *SyncHandler) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}
