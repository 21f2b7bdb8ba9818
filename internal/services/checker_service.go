package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

// CheckerServiceProvider decides whether a newer release exists.
type CheckerServiceProvider interface {
	CheckForUpdate(force bool) (*models.ReleaseInfo, error)
	GetCachedReleaseInfo() *models.ReleaseInfo
	IsCheckEnabled() bool
	SetCheckEnabled(enabled bool) error
	DismissNotice(version string) error
	IsDismissed(version string) bool
}

// releaseDescriptor is the document served by the remote release feed.
type releaseDescriptor struct {
	Version     string   `json:"version"`
	DownloadURL string   `json:"download_url"`
	Changelog   []string `json:"changelog"`
	ReleasedAt  string   `json:"released_at"`
}

// CheckerService compares the installed version against the remote release
// feed, caching the result for the configured interval.
type CheckerService struct {
	settings SettingsServiceProvider
	client   *resty.Client
	feedURL  string
	interval time.Duration
	mu       sync.Mutex
}

// NewCheckerService creates a new CheckerService.
func NewCheckerService(settings SettingsServiceProvider, feedURL string, interval time.Duration, timeout time.Duration) *CheckerService {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	return &CheckerService{
		settings: settings,
		client:   client,
		feedURL:  feedURL,
		interval: interval,
	}
}

// CheckForUpdate returns the newest release strictly above the installed
// version, or nil when the installation is current. When force is false and
// the cache is within the configured interval, no network call is made. A
// network failure returns the previous cache so the caller treats the
// situation as "unknown", never as "definitely no update".
func (s *CheckerService) CheckForUpdate(force bool) (*models.ReleaseInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force {
		if info, fresh := s.cachedResult(); fresh {
			return info, nil
		}
	}

	var descriptor releaseDescriptor
	resp, err := s.client.R().SetResult(&descriptor).Get(s.feedURL)
	if err != nil || resp.IsError() {
		if err == nil {
			err = fmt.Errorf("release feed returned status %d", resp.StatusCode())
		}
		log.Warn().Err(err).Str("feed", s.feedURL).Msg("Update check failed, keeping previous result")
		info, _ := s.cachedResult()
		return info, nil
	}

	checkedAt := time.Now().UTC()
	info := s.evaluate(descriptor, checkedAt)
	s.persistResult(info, checkedAt)
	return info, nil
}

// evaluate decides whether the descriptor is an upgrade over the installed
// version. Unparseable versions are treated as "no update" rather than a
// crash: the feed is untrusted input.
func (s *CheckerService) evaluate(descriptor releaseDescriptor, checkedAt time.Time) *models.ReleaseInfo {
	remote, err := semver.NewVersion(descriptor.Version)
	if err != nil {
		log.Warn().Str("version", descriptor.Version).Msg("Release feed advertised an unparseable version")
		return nil
	}

	current, err := semver.NewVersion(s.settings.GetDefault(SettingCurrentVersion, "0.0.0"))
	if err != nil {
		current = semver.MustParse("0.0.0")
	}

	if !remote.GreaterThan(current) {
		return nil
	}

	releasedAt, _ := time.Parse(time.RFC3339, descriptor.ReleasedAt)
	return &models.ReleaseInfo{
		Version:     descriptor.Version,
		DownloadURL: descriptor.DownloadURL,
		Changelog:   descriptor.Changelog,
		ReleasedAt:  releasedAt,
		CheckedAt:   checkedAt,
	}
}

// cachedResult returns the persisted check result and whether it is still
// within the staleness window.
func (s *CheckerService) cachedResult() (*models.ReleaseInfo, bool) {
	checkedAtRaw, err := s.settings.Get(SettingLastCheckedAt)
	if err != nil {
		return nil, false
	}
	checkedAt, err := time.Parse(time.RFC3339, checkedAtRaw)
	if err != nil {
		return nil, false
	}

	var info *models.ReleaseInfo
	if raw := s.settings.GetDefault(SettingLastCheckResult, ""); raw != "" && raw != "null" {
		var decoded models.ReleaseInfo
		if json.Unmarshal([]byte(raw), &decoded) == nil {
			info = &decoded
		}
	}
	return info, time.Since(checkedAt) < s.interval
}

func (s *CheckerService) persistResult(info *models.ReleaseInfo, checkedAt time.Time) {
	raw, _ := json.Marshal(info) // nil marshals to "null", meaning "no update"
	if err := s.settings.Set(SettingLastCheckResult, string(raw)); err != nil {
		log.Error().Err(err).Msg("Failed to persist update check result")
	}
	if err := s.settings.Set(SettingLastCheckedAt, checkedAt.Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Msg("Failed to persist update check timestamp")
	}
}

// GetCachedReleaseInfo returns the last persisted check result without a
// network call, regardless of staleness.
func (s *CheckerService) GetCachedReleaseInfo() *models.ReleaseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, _ := s.cachedResult()
	return info
}

// IsCheckEnabled reports whether the scheduled background check is on.
func (s *CheckerService) IsCheckEnabled() bool {
	enabled, err := strconv.ParseBool(s.settings.GetDefault(SettingCheckEnabled, "true"))
	return err == nil && enabled
}

// SetCheckEnabled toggles the scheduled background check.
func (s *CheckerService) SetCheckEnabled(enabled bool) error {
	return s.settings.Set(SettingCheckEnabled, strconv.FormatBool(enabled))
}

// DismissNotice records that the availability banner for a specific version
// should not resurface. Dismissal is per-version: a later release shows a
// fresh banner.
func (s *CheckerService) DismissNotice(version string) error {
	return s.settings.Set(SettingDismissedVersion, version)
}

// IsDismissed reports whether the banner for this exact version was dismissed.
func (s *CheckerService) IsDismissed(version string) bool {
	return s.settings.GetDefault(SettingDismissedVersion, "") == version
}
