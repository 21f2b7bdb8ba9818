package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, version string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"version": %q,
			"download_url": "https://releases.foxdesk.example/foxdesk-%s.zip",
			"changelog": ["ticket merge", "saner SLA timers"],
			"released_at": "2026-08-01T12:00:00Z"
		}`, version, version)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckForUpdateFindsNewerVersion(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.1.0", &hits)

	checker := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)

	info, err := checker.CheckForUpdate(false)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Contains(t, info.DownloadURL, "2.1.0")
	assert.Equal(t, []string{"ticket merge", "saner SLA timers"}, info.Changelog)
	assert.False(t, info.CheckedAt.IsZero())
}

func TestCheckForUpdateIgnoresOlderVersion(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.0.1", &hits)

	checker := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)

	info, err := checker.CheckForUpdate(false)
	require.NoError(t, err)
	assert.Nil(t, info)

	// The "no update" result is cached too.
	assert.Nil(t, checker.GetCachedReleaseInfo())
}

func TestCheckForUpdateUsesCacheWithinInterval(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.1.0", &hits)

	checker := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)

	_, err := checker.CheckForUpdate(false)
	require.NoError(t, err)
	info, err := checker.CheckForUpdate(false)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, int64(1), hits.Load(), "second check within the interval must not hit the feed")
}

func TestCheckForUpdateForceBypassesCache(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.1.0", &hits)

	checker := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)

	_, err := checker.CheckForUpdate(false)
	require.NoError(t, err)
	_, err = checker.CheckForUpdate(true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
}

func TestCheckForUpdateNetworkFailureReturnsPreviousCache(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.1.0", &hits)

	checker := NewCheckerService(env.settings, feed.URL, time.Nanosecond, 2*time.Second)

	info, err := checker.CheckForUpdate(true)
	require.NoError(t, err)
	require.NotNil(t, info)

	// Feed goes away; the interval has elapsed, so a re-fetch is attempted
	// and fails. The stale result must come back rather than "no update".
	feed.Close()
	info, err = checker.CheckForUpdate(false)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "2.1.0", info.Version)
}

func TestCheckerPersistsResultAcrossInstances(t *testing.T) {
	env := newTestEnv(t)
	var hits atomic.Int64
	feed := newFeedServer(t, "2.1.0", &hits)

	first := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)
	_, err := first.CheckForUpdate(false)
	require.NoError(t, err)

	// A fresh instance over the same settings store sees the cached result.
	second := NewCheckerService(env.settings, feed.URL, time.Hour, 5*time.Second)
	info := second.GetCachedReleaseInfo()
	require.NotNil(t, info)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCheckEnabledToggle(t *testing.T) {
	env := newTestEnv(t)
	checker := NewCheckerService(env.settings, "http://unused.invalid", time.Hour, time.Second)

	assert.True(t, checker.IsCheckEnabled(), "checks default to on")
	require.NoError(t, checker.SetCheckEnabled(false))
	assert.False(t, checker.IsCheckEnabled())
	require.NoError(t, checker.SetCheckEnabled(true))
	assert.True(t, checker.IsCheckEnabled())
}

func TestDismissNoticeIsPerVersion(t *testing.T) {
	env := newTestEnv(t)
	checker := NewCheckerService(env.settings, "http://unused.invalid", time.Hour, time.Second)

	require.NoError(t, checker.DismissNotice("2.1.0"))
	assert.True(t, checker.IsDismissed("2.1.0"))
	assert.False(t, checker.IsDismissed("2.2.0"), "a later version shows a fresh banner")
}
