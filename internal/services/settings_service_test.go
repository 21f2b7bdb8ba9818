package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.settings.Set("greeting", "hello"))
	value, err := env.settings.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	// Set on an existing key replaces it.
	require.NoError(t, env.settings.Set("greeting", "hej"))
	assert.Equal(t, "hej", env.settings.GetDefault("greeting", "fallback"))
}

func TestSettingsMissingKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.settings.Get("no-such-key")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "fallback", env.settings.GetDefault("no-such-key", "fallback"))
}

func TestSettingsDeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.settings.Set("greeting", "hello"))
	require.NoError(t, env.settings.Delete("greeting"))
	require.NoError(t, env.settings.Delete("greeting"))

	_, err := env.settings.Get("greeting")
	assert.ErrorIs(t, err, ErrNotFound)
}
