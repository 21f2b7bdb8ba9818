package services

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

const (
	backupManifestName = "manifest.json"
	backupFilesName    = "files.zip"
	backupDatabaseName = "database.db"
)

// BackupServiceProvider defines the interface for backup management.
type BackupServiceProvider interface {
	CreateBackup(userID *string) (models.Backup, error)
	ListBackups() ([]models.Backup, error)
	GetBackupByID(id string) (models.Backup, error)
	DeleteBackup(id string) error
	Restore(id string) error
	PrepareDownload(id, kind string) (models.DownloadArtifact, error)
}

// BackupService snapshots and restores the live installation. A backup unit
// is a directory under the backup root holding the file-tree archive, the
// database dump when one is configured, and a manifest. The index row is
// inserted only after every artifact is complete, so a half-written backup
// never appears in listings.
type BackupService struct {
	db       *sql.DB
	history  HistoryServiceProvider
	settings SettingsServiceProvider
	gate     *OperationGate
	notify   ProgressNotifier

	installDir string
	backupDir  string
	tempDir    string
	appDBPath  string
	cacheDir   string
	minFree    uint64

	mu          sync.Mutex
	restoringID string
}

// NewBackupService creates a new BackupService.
func NewBackupService(db *sql.DB, history HistoryServiceProvider, settings SettingsServiceProvider, gate *OperationGate, notify ProgressNotifier, installDir, backupDir, tempDir, appDBPath, cacheDir string, minFree uint64) *BackupService {
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		log.Error().Err(err).Str("dir", backupDir).Msg("Failed to create backup directory")
	}
	return &BackupService{
		db:         db,
		history:    history,
		settings:   settings,
		gate:       gate,
		notify:     notify,
		installDir: installDir,
		backupDir:  backupDir,
		tempDir:    tempDir,
		appDBPath:  appDBPath,
		cacheDir:   cacheDir,
		minFree:    minFree,
	}
}

// CreateBackup snapshots the installation as a user-triggered operation. It
// holds the operation gate and writes exactly one history entry, success or
// failure.
func (s *BackupService) CreateBackup(userID *string) (models.Backup, error) {
	if err := s.gate.TryAcquire("backup"); err != nil {
		return models.Backup{}, err
	}
	defer s.gate.Release()

	backup, err := s.createBackupUnit(userID)

	entry := models.UpdateHistoryEntry{
		Action:  models.ActionBackup,
		Version: s.settings.GetDefault(SettingCurrentVersion, "0.0.0"),
		Success: err == nil,
		UserID:  userID,
	}
	if err != nil {
		entry.Errors = []string{err.Error()}
	} else {
		entry.BackupID = &backup.ID
		entry.Messages = []string{fmt.Sprintf("backup %s created (%d bytes)", backup.ID, backup.SizeBytes)}
	}
	s.history.Record(entry)

	return backup, err
}

// createBackupUnit builds a complete backup without touching the gate or the
// history log. The updater uses it directly for its pre-apply snapshot.
func (s *BackupService) createBackupUnit(userID *string) (models.Backup, error) {
	if err := s.checkDiskHeadroom(); err != nil {
		return models.Backup{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	id := newBackupID()
	partialDir := filepath.Join(s.backupDir, ".partial-"+id)
	finalDir := filepath.Join(s.backupDir, id)

	s.notify.Notify("backup.progress", map[string]string{"id": id, "step": "archiving files"})

	if err := os.MkdirAll(partialDir, 0755); err != nil {
		return models.Backup{}, fmt.Errorf("%w: cannot create backup directory: %v", ErrBackupFailed, err)
	}

	fail := func(err error) (models.Backup, error) {
		os.RemoveAll(partialDir)
		return models.Backup{}, err
	}

	files, err := s.archiveInstallTree(filepath.Join(partialDir, backupFilesName))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrBackupFailed, err))
	}

	hasDatabase := false
	if s.appDBPath != "" {
		if _, err := os.Stat(s.appDBPath); err == nil {
			s.notify.Notify("backup.progress", map[string]string{"id": id, "step": "dumping database"})
			if err := dumpSQLiteDatabase(s.appDBPath, filepath.Join(partialDir, backupDatabaseName)); err != nil {
				return fail(fmt.Errorf("%w: database dump failed: %v", ErrBackupFailed, err))
			}
			hasDatabase = true
		}
	}

	manifest := models.BackupManifest{
		ID:          id,
		Version:     s.settings.GetDefault(SettingCurrentVersion, "0.0.0"),
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   userID,
		HasDatabase: hasDatabase,
		Files:       files,
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrBackupFailed, err))
	}
	if err := os.WriteFile(filepath.Join(partialDir, backupManifestName), raw, 0644); err != nil {
		return fail(fmt.Errorf("%w: cannot write backup manifest: %v", ErrBackupFailed, err))
	}

	size, err := dirSize(partialDir)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrBackupFailed, err))
	}

	// The unit becomes visible on disk only once it is complete.
	if err := os.Rename(partialDir, finalDir); err != nil {
		return fail(fmt.Errorf("%w: cannot finalize backup: %v", ErrBackupFailed, err))
	}

	backup := models.Backup{
		ID:              id,
		Version:         manifest.Version,
		CreatedByUserID: userID,
		HasDatabase:     hasDatabase,
		SizeBytes:       size,
		Path:            finalDir,
		CreatedAt:       manifest.CreatedAt,
	}

	_, err = s.db.Exec(`
		INSERT INTO backups (id, version, created_by_user_id, has_database, size_bytes, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		backup.ID, backup.Version, backup.CreatedByUserID, backup.HasDatabase, backup.SizeBytes, backup.Path, backup.CreatedAt)
	if err != nil {
		os.RemoveAll(finalDir)
		return models.Backup{}, fmt.Errorf("%w: cannot index backup: %v", ErrBackupFailed, err)
	}

	log.Info().Str("backup_id", id).Int64("size_bytes", size).Msg("Backup created")
	s.notify.Notify("backup.created", backup)
	return backup, nil
}

// archiveInstallTree zips the live file tree, excluding regenerable
// artifacts (the template cache) and the backup root when it is nested
// inside the installation.
func (s *BackupService) archiveInstallTree(destPath string) ([]string, error) {
	archive, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("cannot create archive: %v", err)
	}
	defer archive.Close()

	zipWriter := zip.NewWriter(archive)
	var files []string

	cacheAbs, _ := filepath.Abs(s.cacheDir)
	backupAbs, _ := filepath.Abs(s.backupDir)

	err = filepath.Walk(s.installDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if abs == cacheAbs || abs == backupAbs {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		relPath, err := filepath.Rel(s.installDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if info.IsDir() {
			_, err = zipWriter.Create(filepath.ToSlash(relPath) + "/")
			return err
		}
		writer, err := zipWriter.Create(filepath.ToSlash(relPath))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(writer, src); err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		zipWriter.Close()
		return nil, fmt.Errorf("failed to archive installation: %v", err)
	}
	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %v", err)
	}
	return files, nil
}

// checkDiskHeadroom refuses to start a snapshot without the configured free
// space, so the failure is an actionable message instead of a torn write.
func (s *BackupService) checkDiskHeadroom() error {
	if s.minFree == 0 {
		return nil
	}
	usage, err := disk.Usage(s.backupDir)
	if err != nil {
		// Inability to measure is not grounds to refuse the backup.
		log.Warn().Err(err).Msg("Could not determine free disk space")
		return nil
	}
	if usage.Free < s.minFree {
		return fmt.Errorf("insufficient disk space: %d bytes free, %d required", usage.Free, s.minFree)
	}
	return nil
}

// ListBackups retrieves all backups, newest first.
func (s *BackupService) ListBackups() ([]models.Backup, error) {
	rows, err := s.db.Query(`
		SELECT id, version, created_by_user_id, has_database, size_bytes, path, created_at
		FROM backups ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []models.Backup
	for rows.Next() {
		var backup models.Backup
		if err := rows.Scan(&backup.ID, &backup.Version, &backup.CreatedByUserID,
			&backup.HasDatabase, &backup.SizeBytes, &backup.Path, &backup.CreatedAt); err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

// GetBackupByID retrieves a single backup by its ID.
func (s *BackupService) GetBackupByID(id string) (models.Backup, error) {
	var backup models.Backup
	row := s.db.QueryRow(`
		SELECT id, version, created_by_user_id, has_database, size_bytes, path, created_at
		FROM backups WHERE id = ?`, id)
	err := row.Scan(&backup.ID, &backup.Version, &backup.CreatedByUserID,
		&backup.HasDatabase, &backup.SizeBytes, &backup.Path, &backup.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Backup{}, fmt.Errorf("%w: backup %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Backup{}, err
	}
	return backup, nil
}

// DeleteBackup removes a backup entirely, files and index row. Deleting an
// unknown id is an error so the caller can distinguish "already gone" from
// "gone now". The gate serializes deletion against restores, so a backup
// feeding an in-flight restore can never be removed; the restoringID check
// covers the updater's internal restore path, which runs under the updater's
// own gate hold.
func (s *BackupService) DeleteBackup(id string) error {
	if err := s.gate.TryAcquire("delete"); err != nil {
		return err
	}
	defer s.gate.Release()

	s.mu.Lock()
	if s.restoringID == id {
		s.mu.Unlock()
		return fmt.Errorf("%w: backup %s is being restored", ErrConcurrentOperation, id)
	}
	s.mu.Unlock()

	backup, err := s.GetBackupByID(id)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(backup.Path); err != nil {
		return fmt.Errorf("could not delete backup files: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM backups WHERE id = ?", id); err != nil {
		return err
	}

	log.Info().Str("backup_id", id).Msg("Backup deleted")
	s.notify.Notify("backup.deleted", map[string]string{"id": id})
	return nil
}

// Restore replaces the live installation from a backup as a gated operation.
// The updater's recovery path and rollback use restoreUnit directly while
// already holding the gate.
func (s *BackupService) Restore(id string) error {
	if err := s.gate.TryAcquire("restore"); err != nil {
		return err
	}
	defer s.gate.Release()
	return s.restoreUnit(id)
}

// restoreUnit replaces the live file tree and, when present, the database
// with the backup contents. The caller holds the operation gate.
func (s *BackupService) restoreUnit(id string) error {
	backup, err := s.GetBackupByID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.restoringID = id
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.restoringID = ""
		s.mu.Unlock()
	}()

	s.notify.Notify("restore.progress", map[string]string{"id": id, "step": "restoring files"})

	if err := s.clearInstallTree(); err != nil {
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	if err := extractZip(filepath.Join(backup.Path, backupFilesName), s.installDir); err != nil {
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	if backup.HasDatabase && s.appDBPath != "" {
		s.notify.Notify("restore.progress", map[string]string{"id": id, "step": "restoring database"})
		if err := copyFile(filepath.Join(backup.Path, backupDatabaseName), s.appDBPath); err != nil {
			return fmt.Errorf("%w: database restore failed: %v", ErrRestoreFailed, err)
		}
	}

	log.Info().Str("backup_id", id).Str("version", backup.Version).Msg("Installation restored from backup")
	return nil
}

// clearInstallTree removes the live tree's top-level entries. A backup root
// nested inside the installation is preserved: the backups must survive the
// restore they feed. The template cache goes with everything else; it is
// regenerated on the next request.
func (s *BackupService) clearInstallTree() error {
	entries, err := os.ReadDir(s.installDir)
	if err != nil {
		return fmt.Errorf("cannot read install directory: %v", err)
	}
	backupAbs, _ := filepath.Abs(s.backupDir)
	for _, entry := range entries {
		full := filepath.Join(s.installDir, entry.Name())
		abs, _ := filepath.Abs(full)
		if abs == backupAbs {
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("cannot remove %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// PrepareDownload materializes a downloadable artifact for a backup without
// mutating the unit. Kind "bundle" builds a combined archive on demand into
// the temp dir (Cleanup=true); kind "database" serves the existing dump
// (Cleanup=false).
func (s *BackupService) PrepareDownload(id, kind string) (models.DownloadArtifact, error) {
	backup, err := s.GetBackupByID(id)
	if err != nil {
		return models.DownloadArtifact{}, err
	}

	switch kind {
	case "database":
		if !backup.HasDatabase {
			return models.DownloadArtifact{}, fmt.Errorf("%w: backup %s holds no database dump", ErrNotFound, id)
		}
		return models.DownloadArtifact{
			Path:     filepath.Join(backup.Path, backupDatabaseName),
			Filename: fmt.Sprintf("foxdesk-backup-%s-database.db", id),
			MIME:     "application/octet-stream",
			Cleanup:  false,
		}, nil

	case "bundle":
		bundlePath := filepath.Join(s.tempDir, fmt.Sprintf("foxdesk-backup-%s.zip", id))
		if err := zipDirectory(backup.Path, bundlePath); err != nil {
			os.Remove(bundlePath)
			return models.DownloadArtifact{}, fmt.Errorf("could not build backup bundle: %w", err)
		}
		return models.DownloadArtifact{
			Path:     bundlePath,
			Filename: fmt.Sprintf("foxdesk-backup-%s.zip", id),
			MIME:     "application/zip",
			Cleanup:  true,
		}, nil

	default:
		return models.DownloadArtifact{}, fmt.Errorf("unknown download kind %q", kind)
	}
}

func newBackupID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.New().String()[:8]
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// dumpSQLiteDatabase produces a transactionally consistent copy of a sqlite
// database using VACUUM INTO.
func dumpSQLiteDatabase(srcPath, destPath string) error {
	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(destPath)
	_, err = db.Exec(fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(destPath, "'", "''")))
	return err
}

// extractZip unpacks an archive under destDir, rejecting entries that would
// escape it.
func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	for _, f := range reader.File {
		fpath := filepath.Join(destDir, f.Name)

		// Prevent ZipSlip
		if !strings.HasPrefix(fpath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// zipDirectory archives the contents of srcDir into destPath.
func zipDirectory(srcDir, destPath string) error {
	archive, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer archive.Close()

	zipWriter := zip.NewWriter(archive)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if info.IsDir() {
			_, err = zipWriter.Create(filepath.ToSlash(relPath) + "/")
			return err
		}
		writer, err := zipWriter.Create(filepath.ToSlash(relPath))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(writer, src)
		return err
	})
	if err != nil {
		zipWriter.Close()
		return err
	}
	return zipWriter.Close()
}

func copyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, src)
	return err
}
