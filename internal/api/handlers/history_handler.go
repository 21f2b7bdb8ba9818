package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

// HistoryHandler handles HTTP requests for the maintenance audit log.
type HistoryHandler struct {
	service services.HistoryServiceProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(service services.HistoryServiceProvider) *HistoryHandler {
	return &HistoryHandler{service: service}
}

// GetRecent handles the request to get recent audit entries, newest first.
func (h *HistoryHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20 // Default limit
	}

	entries, err := h.service.GetHistory(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve update history")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
