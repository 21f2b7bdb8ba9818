package models

import "time"

// Backup represents a completed backup unit of the installation.
type Backup struct {
	ID              string    `json:"id"`
	Version         string    `json:"version"` // Application version at backup time
	CreatedByUserID *string   `json:"createdByUserId"`
	HasDatabase     bool      `json:"hasDatabase"`
	SizeBytes       int64     `json:"sizeBytes"`
	Path            string    `json:"-"` // Internal use, not exposed to client
	CreatedAt       time.Time `json:"createdAt"`
}

// BackupManifest is written alongside the backup artifacts so a unit stays
// restorable even if the backups index itself is lost.
type BackupManifest struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   *string   `json:"created_by,omitempty"`
	HasDatabase bool      `json:"has_database"`
	Files       []string  `json:"files"` // Relative paths captured in files.zip
}

// DownloadArtifact is a materialized file ready to be streamed to the admin.
type DownloadArtifact struct {
	Path     string
	Filename string
	MIME     string
	// Cleanup is true when the artifact was built on demand into a temp
	// location and the caller must delete it after serving.
	Cleanup bool
}
