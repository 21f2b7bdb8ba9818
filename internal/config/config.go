package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the maintenance service configuration.
type Config struct {
	ServerPort   int
	DatabasePath string

	InstallDir string // Root of the live FoxDesk installation this service manages
	BackupDir  string // Where backup units are stored
	TempDir    string // Staging area for downloads, uploads and swaps
	CacheDir   string // Rendered-template cache purged after an apply

	// The managed application's own sqlite database. Included in backups and
	// restores when set; empty means no database is configured.
	AppDatabasePath string

	ReleaseFeedURL  string        // Remote release descriptor endpoint
	CheckInterval   time.Duration // Staleness window for the cached release info
	CheckSchedule   string        // Cron expression for the background check trigger
	DownloadTimeout time.Duration
	MaxPackageBytes int64

	// Top-level archive entries a package must contain to be accepted
	// as a FoxDesk release.
	RequiredEntries []string

	// Command executed after the file swap so the host serves the new code
	// (process reload, supervisor kick). Empty means no external hook.
	RestartCmd string

	MinFreeDiskBytes uint64 // Refuse backup/download below this headroom
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	checkInterval, err := time.ParseDuration(getEnv("UPDATER_CHECK_INTERVAL", "6h"))
	if err != nil {
		return nil, err
	}

	downloadTimeout, err := time.ParseDuration(getEnv("UPDATER_DOWNLOAD_TIMEOUT", "5m"))
	if err != nil {
		return nil, err
	}

	maxPackageBytes, err := strconv.ParseInt(getEnv("UPDATER_MAX_PACKAGE_BYTES", "524288000"), 10, 64)
	if err != nil {
		return nil, err
	}

	minFreeDisk, err := strconv.ParseUint(getEnv("UPDATER_MIN_FREE_DISK_BYTES", "1073741824"), 10, 64)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:       port,
		DatabasePath:     getEnv("DATABASE_PATH", "./foxdesk.db"),
		InstallDir:       getEnv("UPDATER_INSTALL_DIR", "./foxdesk"),
		BackupDir:        getEnv("UPDATER_BACKUP_DIR", "./backups"),
		TempDir:          getEnv("UPDATER_TEMP_DIR", os.TempDir()),
		CacheDir:         getEnv("UPDATER_CACHE_DIR", "./foxdesk/var/cache"),
		AppDatabasePath:  getEnv("UPDATER_APP_DATABASE_PATH", "./foxdesk/var/foxdesk.db"),
		ReleaseFeedURL:   getEnv("UPDATER_RELEASE_FEED_URL", "https://releases.foxdesk.example/latest.json"),
		CheckInterval:    checkInterval,
		CheckSchedule:    getEnv("UPDATER_CHECK_SCHEDULE", "@hourly"),
		DownloadTimeout:  downloadTimeout,
		MaxPackageBytes:  maxPackageBytes,
		RequiredEntries:  splitList(getEnv("UPDATER_REQUIRED_ENTRIES", "VERSION,public")),
		RestartCmd:       getEnv("UPDATER_RESTART_CMD", ""),
		MinFreeDiskBytes: minFreeDisk,
	}, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
