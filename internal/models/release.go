package models

import "time"

// ReleaseInfo describes a release advertised by the remote feed. It is only
// ever held as a cache with an explicit staleness window; a re-fetch always
// wins over the cached copy.
type ReleaseInfo struct {
	Version     string    `json:"version"`
	DownloadURL string    `json:"downloadUrl"`
	Changelog   []string  `json:"changelog"`
	ReleasedAt  time.Time `json:"releasedAt"`
	CheckedAt   time.Time `json:"checkedAt"`
}
