package services

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// CacheInvalidator discards whatever compiled/loaded code the host runtime
// keeps in memory so newly written files are actually served. Runs strictly
// after the file swap and before the installation is verified.
type CacheInvalidator interface {
	Invalidate() error
}

// HostCacheInvalidator clears the rendered-template cache directory and,
// when a restart command is configured, asks the host to reload the serving
// process. With no command configured the host is assumed to re-read files
// per request once the cache is gone.
type HostCacheInvalidator struct {
	cacheDir   string
	restartCmd string
}

// NewHostCacheInvalidator creates a new HostCacheInvalidator.
func NewHostCacheInvalidator(cacheDir, restartCmd string) *HostCacheInvalidator {
	return &HostCacheInvalidator{cacheDir: cacheDir, restartCmd: restartCmd}
}

// Invalidate purges the cache directory and runs the configured reload hook.
func (i *HostCacheInvalidator) Invalidate() error {
	if i.cacheDir != "" {
		entries, err := os.ReadDir(i.cacheDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot read cache directory: %w", err)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(i.cacheDir, entry.Name())); err != nil {
				return fmt.Errorf("cannot purge cache entry %s: %w", entry.Name(), err)
			}
		}
		log.Info().Str("dir", i.cacheDir).Int("entries", len(entries)).Msg("Template cache purged")
	}

	if i.restartCmd != "" {
		cmd := exec.Command("sh", "-c", i.restartCmd)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("reload command failed: %w", err)
		}
		log.Info().Str("cmd", i.restartCmd).Msg("Host reload command completed")
	}
	return nil
}

// NopInvalidator does nothing. Used in tests.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate() error { return nil }
