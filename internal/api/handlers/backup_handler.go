package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/auth"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	backups services.BackupServiceProvider
	updater services.UpdaterServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(backups services.BackupServiceProvider, updater services.UpdaterServiceProvider) *BackupHandler {
	return &BackupHandler{backups: backups, updater: updater}
}

// GetAll handles the request to list all backups, newest first.
func (h *BackupHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.ListBackups()
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve backups")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// Create handles the request to create a new backup. The call blocks until
// the snapshot completes so the admin knows a restorable unit exists.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	backup, err := h.backups.CreateBackup(auth.ActorID(r.Context()))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create backup")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backup)
}

// Delete handles the request to delete a backup.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "id")
	if err := h.backups.DeleteBackup(backupID); err != nil {
		log.Error().Err(err).Str("backup_id", backupID).Msg("Failed to delete backup")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download streams a backup artifact. `?kind=bundle` (default) serves the
// combined archive, `?kind=database` the database dump alone.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "id")
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "bundle"
	}

	artifact, err := h.backups.PrepareDownload(backupID, kind)
	if err != nil {
		log.Error().Err(err).Str("backup_id", backupID).Str("kind", kind).Msg("Failed to prepare backup download")
		writeError(w, err)
		return
	}
	if artifact.Cleanup {
		defer os.Remove(artifact.Path)
	}

	w.Header().Set("Content-Type", artifact.MIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	http.ServeFile(w, r, artifact.Path)
}

// Restore handles the explicit rollback action. A history entry is written
// regardless of outcome.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "id")
	outcome, err := h.updater.Rollback(backupID, auth.ActorID(r.Context()))
	if err != nil && outcome.Status == "" {
		log.Error().Err(err).Str("backup_id", backupID).Msg("Rollback failed")
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, outcome)
}
