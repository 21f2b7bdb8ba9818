package models

import "time"

// Pending update sources.
const (
	SourceUpload = "upload"
	SourceRemote = "remote"
)

// PendingUpdate is a validated, not-yet-applied package staged for an
// explicit apply. At most one exists per installation; staging a new one
// replaces the previous entry and deletes its temp file.
type PendingUpdate struct {
	LocalFilePath string    `json:"-"`
	Version       string    `json:"version"`
	Changelog     []string  `json:"changelog"`
	Source        string    `json:"source"` // upload | remote
	UploadedAt    time.Time `json:"uploadedAt"`
}

// ValidationResult reports the facts the validator found about a candidate
// package. The validator never mutates live state.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Version   string   `json:"version,omitempty"`
	Changelog []string `json:"changelog,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// PackageManifest is the metadata a release archive must declare.
type PackageManifest struct {
	Version   string   `json:"version"`
	Changelog []string `json:"changelog,omitempty"`
}
