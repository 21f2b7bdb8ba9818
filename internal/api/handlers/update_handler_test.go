package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
)

type stubUpdater struct {
	submitted []string
}

func (s *stubUpdater) DownloadRemotePackage(string) (string, error) { return "", nil }

func (s *stubUpdater) SubmitPackage(path, _ string) (models.ValidationResult, error) {
	s.submitted = append(s.submitted, path)
	return models.ValidationResult{Valid: true, Version: "9.9.9"}, nil
}

func (s *stubUpdater) GetPendingUpdate() (*models.PendingUpdate, error) { return nil, nil }
func (s *stubUpdater) CancelPendingUpdate() error                       { return nil }

func (s *stubUpdater) ApplyPendingUpdate(*string) (models.UpdateOutcome, error) {
	return models.UpdateOutcome{}, nil
}

func (s *stubUpdater) Rollback(string, *string) (models.UpdateOutcome, error) {
	return models.UpdateOutcome{}, nil
}

func (s *stubUpdater) RunHealthCheck() models.HealthReport {
	return models.HealthReport{OK: true}
}

func (s *stubUpdater) Status() models.UpdateStatus {
	return models.UpdateStatus{State: services.StateIdle}
}

func multipartPackage(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("package", "release.zip")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadAcceptsPackageWithinLimit(t *testing.T) {
	updater := &stubUpdater{}
	h := NewUpdateHandler(updater, nil, t.TempDir(), 1024)

	body, contentType := multipartPackage(t, []byte("small archive"))
	req := httptest.NewRequest("POST", "/api/v1/update/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.Upload(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, updater.submitted, 1)
}

func TestUploadRejectsOversizedPackage(t *testing.T) {
	updater := &stubUpdater{}
	tempDir := t.TempDir()
	h := NewUpdateHandler(updater, nil, tempDir, 16)

	body, contentType := multipartPackage(t, bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest("POST", "/api/v1/update/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.Upload(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, updater.submitted, "an oversized package must never reach validation")

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp file left behind")
}
