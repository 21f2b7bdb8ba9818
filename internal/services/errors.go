package services

import "errors"

// Error taxonomy for maintenance operations. Handlers map these to HTTP
// status codes; everything else is wrapped detail.
var (
	// ErrDownloadFailed covers network errors, timeouts and oversized
	// packages while fetching a remote release.
	ErrDownloadFailed = errors.New("package download failed")

	// ErrInvalidPackage covers malformed archives, missing manifests,
	// downgrades and path-traversal entries.
	ErrInvalidPackage = errors.New("invalid update package")

	// ErrBackupFailed means the snapshot could not be completed; nothing
	// was mutated.
	ErrBackupFailed = errors.New("backup failed")

	// ErrApplyFailed means the file swap or cache invalidation failed
	// partway; automatic recovery is attempted.
	ErrApplyFailed = errors.New("apply failed")

	// ErrHealthCheckFailed means the post-apply probe rejected the new
	// installation; automatic recovery is attempted.
	ErrHealthCheckFailed = errors.New("health check failed")

	// ErrRestoreFailed means rollback itself failed. Never auto-retried;
	// manual intervention is required.
	ErrRestoreFailed = errors.New("restore failed")

	// ErrConcurrentOperation means another update/backup/restore is
	// already in progress for this installation.
	ErrConcurrentOperation = errors.New("operation already in progress")

	// ErrNotFound means an unknown backup or pending-update id.
	ErrNotFound = errors.New("not found")
)
