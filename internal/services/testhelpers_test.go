package services

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/database"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

var testRequiredEntries = []string{"VERSION", "public"}

type testEnv struct {
	db        *sql.DB
	settings  *SettingsService
	history   *HistoryService
	gate      *OperationGate
	validator *Validator
	backups   *BackupService
	updater   *UpdaterService

	installDir string
	backupDir  string
	tempDir    string
	cacheDir   string
	appDBPath  string
}

// newTestEnv builds a complete service stack over a throwaway installation:
// a live tree with the required entries, a bookkeeping database, and
// no-op notifier/invalidator.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	installDir := filepath.Join(root, "install")
	backupDir := filepath.Join(root, "backups")
	tempDir := filepath.Join(root, "tmp")
	cacheDir := filepath.Join(installDir, "var", "cache")
	appDBPath := filepath.Join(installDir, "var", "data.db")

	for _, dir := range []string{installDir, backupDir, tempDir, cacheDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	mustWriteFile(t, filepath.Join(installDir, "VERSION"), "2.0.5")
	mustWriteFile(t, filepath.Join(installDir, "public", "index.html"), "<html>old</html>")
	mustWriteFile(t, filepath.Join(installDir, "public", "app.js"), "old()")
	mustWriteFile(t, filepath.Join(cacheDir, "tpl.cache"), "compiled")

	db, err := database.New(filepath.Join(root, "bookkeeping.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	settings := NewSettingsService(db)
	require.NoError(t, settings.Set(SettingCurrentVersion, "2.0.5"))

	history := NewHistoryService(db)
	gate := NewOperationGate()
	validator := NewValidator(settings, testRequiredEntries)
	backups := NewBackupService(db, history, settings, gate, NopNotifier{},
		installDir, backupDir, tempDir, appDBPath, cacheDir, 0)
	updater := NewUpdaterService(db, settings, validator, backups, history, gate, NopInvalidator{}, NopNotifier{},
		installDir, tempDir, "", testRequiredEntries, 0, 1<<30, 0)

	return &testEnv{
		db:         db,
		settings:   settings,
		history:    history,
		gate:       gate,
		validator:  validator,
		backups:    backups,
		updater:    updater,
		installDir: installDir,
		backupDir:  backupDir,
		tempDir:    tempDir,
		cacheDir:   cacheDir,
		appDBPath:  appDBPath,
	}
}

// createAppDB puts a small sqlite database at the managed application's
// database path so backups include a dump.
func (e *testEnv) createAppDB(t *testing.T) {
	t.Helper()
	appDB, err := database.New(e.appDBPath)
	require.NoError(t, err)
	defer appDB.Close()
	_, err = appDB.Exec("CREATE TABLE tickets (id INTEGER PRIMARY KEY, subject TEXT); INSERT INTO tickets (subject) VALUES ('printer on fire')")
	require.NoError(t, err)
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

// makePackage builds a release archive with a manifest and the standard
// FoxDesk layout. extra maps archive entry names to contents.
func makePackage(t *testing.T, dir, version string, changelog []string, extra map[string]string) string {
	t.Helper()

	entries := map[string]string{
		"VERSION":           version,
		"public/index.html": "<html>" + version + "</html>",
		"public/app.js":     "new()",
	}
	for name, contents := range extra {
		entries[name] = contents
	}

	manifest, err := json.Marshal(models.PackageManifest{Version: version, Changelog: changelog})
	require.NoError(t, err)
	entries["manifest.json"] = string(manifest)

	return makeZip(t, dir, entries)
}

// makeZip writes an archive with exactly the given entries. Entry names
// ending in "/" become directories.
func makeZip(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()

	f, err := os.CreateTemp(dir, "pkg-*.zip")
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, contents := range entries {
		if len(name) > 0 && name[len(name)-1] == '/' {
			_, err := w.Create(name)
			require.NoError(t, err)
			continue
		}
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return f.Name()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}
