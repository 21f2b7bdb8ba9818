package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

func TestHistoryRecordAndGetNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	admin := "admin-1"
	require.NoError(t, env.history.Record(models.UpdateHistoryEntry{
		Action:    models.ActionUpdate,
		Version:   "2.1.0",
		Success:   true,
		Changelog: []string{"ticket merge", "faster search"},
		UserID:    &admin,
	}))
	require.NoError(t, env.history.Record(models.UpdateHistoryEntry{
		Action:  models.ActionBackup,
		Version: "2.1.0",
		Success: true,
	}))
	require.NoError(t, env.history.Record(models.UpdateHistoryEntry{
		Action:  models.ActionRollback,
		Version: "2.0.5",
		Success: false,
		Errors:  []string{"archive corrupt"},
	}))

	entries, err := env.history.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, models.ActionRollback, entries[0].Action)
	assert.Equal(t, []string{"archive corrupt"}, entries[0].Errors)
	assert.False(t, entries[0].Success)
	assert.Nil(t, entries[0].UserID)

	assert.Equal(t, models.ActionBackup, entries[1].Action)

	assert.Equal(t, models.ActionUpdate, entries[2].Action)
	assert.Equal(t, []string{"ticket merge", "faster search"}, entries[2].Changelog)
	require.NotNil(t, entries[2].UserID)
	assert.Equal(t, "admin-1", *entries[2].UserID)
	assert.NotEmpty(t, entries[2].ID)
	assert.False(t, entries[2].Date.IsZero())
}

func TestHistoryLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, env.history.Record(models.UpdateHistoryEntry{
			Action:  models.ActionBackup,
			Version: "2.0.5",
			Success: true,
		}))
	}

	entries, err := env.history.GetHistory(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)

	entries, err := env.history.GetHistory(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
