package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/auth"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

// UpdateHandler handles HTTP requests for the self-update flow.
type UpdateHandler struct {
	updater         services.UpdaterServiceProvider
	checker         services.CheckerServiceProvider
	tempDir         string
	maxPackageBytes int64
}

// NewUpdateHandler creates a new UpdateHandler.
func NewUpdateHandler(updater services.UpdaterServiceProvider, checker services.CheckerServiceProvider, tempDir string, maxPackageBytes int64) *UpdateHandler {
	return &UpdateHandler{updater: updater, checker: checker, tempDir: tempDir, maxPackageBytes: maxPackageBytes}
}

// Check handles the request to check the release feed for a newer version.
// `?force=true` bypasses the cache window.
func (h *UpdateHandler) Check(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	info, err := h.checker.CheckForUpdate(force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updateAvailable": info != nil,
		"release":         info,
	})
}

// CachedRelease returns the last persisted check result without a network
// call.
func (h *UpdateHandler) CachedRelease(w http.ResponseWriter, r *http.Request) {
	info := h.checker.GetCachedReleaseInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"updateAvailable": info != nil,
		"release":         info,
		"dismissed":       info != nil && h.checker.IsDismissed(info.Version),
	})
}

// GetCheckEnabled reports whether the scheduled background check is on.
func (h *UpdateHandler) GetCheckEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.checker.IsCheckEnabled()})
}

// SetCheckEnabled toggles the scheduled background check.
func (h *UpdateHandler) SetCheckEnabled(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.checker.SetCheckEnabled(payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": payload.Enabled})
}

// Dismiss records that the availability banner for a version should not
// resurface.
func (h *UpdateHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Version == "" {
		http.Error(w, "A version is required", http.StatusBadRequest)
		return
	}
	if err := h.checker.DismissNotice(payload.Version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FetchRemote downloads the advertised release package and stages it for
// confirmation. Applying still requires a separate explicit call.
func (h *UpdateHandler) FetchRemote(w http.ResponseWriter, r *http.Request) {
	info := h.checker.GetCachedReleaseInfo()
	if info == nil || info.DownloadURL == "" {
		http.Error(w, "No update is available to download", http.StatusConflict)
		return
	}

	localPath, err := h.updater.DownloadRemotePackage(info.DownloadURL)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.updater.SubmitPackage(localPath, models.SourceRemote)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Upload accepts a manually uploaded package (multipart field "package"),
// validates it and stages it for confirmation. The same size ceiling applies
// as on the remote download path.
func (h *UpdateHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Hard bound on the whole request; the extra megabyte covers multipart
	// framing around the package itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPackageBytes+1<<20)

	file, header, err := r.FormFile("package")
	if err != nil {
		http.Error(w, "A package file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	tmpFile, err := os.CreateTemp(h.tempDir, "foxdesk-upload-*.zip")
	if err != nil {
		writeError(w, err)
		return
	}
	written, err := io.Copy(tmpFile, io.LimitReader(file, h.maxPackageBytes+1))
	tmpFile.Close()
	if err != nil {
		os.Remove(tmpFile.Name())
		writeError(w, err)
		return
	}
	if written > h.maxPackageBytes {
		os.Remove(tmpFile.Name())
		http.Error(w, "Package exceeds the size limit", http.StatusRequestEntityTooLarge)
		return
	}
	log.Info().Str("filename", filepath.Base(header.Filename)).Msg("Update package uploaded")

	result, err := h.updater.SubmitPackage(tmpFile.Name(), models.SourceUpload)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Pending returns the staged update awaiting confirmation, if any.
func (h *UpdateHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.updater.GetPendingUpdate()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// Apply runs the staged update to a terminal state. The call blocks until
// the operation finishes; progress streams over the websocket.
func (h *UpdateHandler) Apply(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.updater.ApplyPendingUpdate(auth.ActorID(r.Context()))
	if err != nil && outcome.Status == "" {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if outcome.Status != models.OutcomeApplied {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, outcome)
}

// Cancel discards the staged update. Calling it with nothing staged is a
// no-op.
func (h *UpdateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.updater.CancelPendingUpdate(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status reports the applier state.
func (h *UpdateHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.updater.Status())
}

// Health runs the installation probe on demand.
func (h *UpdateHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.updater.RunHealthCheck()
	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
