package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the service error taxonomy onto HTTP status codes and a
// JSON body the admin UI surfaces verbatim.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConcurrentOperation):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidPackage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrDownloadFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}
