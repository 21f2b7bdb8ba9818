package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsNewerPackage(t *testing.T) {
	env := newTestEnv(t)

	path := makePackage(t, env.tempDir, "2.1.0", []string{"faster search", "bug fixes"}, nil)
	result := env.validator.Validate(path)

	assert.True(t, result.Valid)
	assert.Equal(t, "2.1.0", result.Version)
	assert.Equal(t, []string{"faster search", "bug fixes"}, result.Changelog)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsDowngradeAndSameVersion(t *testing.T) {
	env := newTestEnv(t)

	for _, version := range []string{"2.0.5", "2.0.4", "1.9.9"} {
		path := makePackage(t, env.tempDir, version, nil, nil)
		result := env.validator.Validate(path)
		assert.False(t, result.Valid, "version %s must be rejected", version)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "not newer than installed version")
	}
}

// A package that was newer once stops validating after the installation
// catches up.
func TestValidateSamePackageAfterUpgrade(t *testing.T) {
	env := newTestEnv(t)

	path := makePackage(t, env.tempDir, "2.1.0", nil, nil)
	assert.True(t, env.validator.Validate(path).Valid)

	require.NoError(t, env.settings.Set(SettingCurrentVersion, "2.1.0"))
	result := env.validator.Validate(path)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "not newer than installed version")
}

func TestValidateRejectsZeroByteFile(t *testing.T) {
	env := newTestEnv(t)

	path := filepath.Join(env.tempDir, "empty.zip")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	result := env.validator.Validate(path)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "empty")
}

func TestValidateRejectsCorruptArchive(t *testing.T) {
	env := newTestEnv(t)

	path := filepath.Join(env.tempDir, "corrupt.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0644))

	result := env.validator.Validate(path)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "not a well-formed zip archive")
}

func TestValidateRejectsMissingManifest(t *testing.T) {
	env := newTestEnv(t)

	path := makeZip(t, env.tempDir, map[string]string{
		"VERSION":           "9.9.9",
		"public/index.html": "x",
	})
	result := env.validator.Validate(path)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "manifest")
}

func TestValidateRejectsManifestWithoutVersion(t *testing.T) {
	env := newTestEnv(t)

	path := makeZip(t, env.tempDir, map[string]string{
		"manifest.json": `{"changelog":["no version here"]}`,
		"VERSION":       "x",
		"public/":       "",
	})
	result := env.validator.Validate(path)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "declares no version")
}

func TestValidateRejectsPathTraversal(t *testing.T) {
	env := newTestEnv(t)

	path := makeZip(t, env.tempDir, map[string]string{
		"manifest.json":       `{"version":"2.1.0"}`,
		"VERSION":             "2.1.0",
		"public/index.html":   "x",
		"../../etc/passwd":    "root::0:0::/:/bin/sh",
		"public/../../outer":  "escape",
	})
	result := env.validator.Validate(path)
	assert.False(t, result.Valid)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "escapes extraction root")
}

func TestValidateRejectsMissingRequiredEntries(t *testing.T) {
	env := newTestEnv(t)

	// Valid manifest, newer version, but not actually a FoxDesk release.
	path := makeZip(t, env.tempDir, map[string]string{
		"manifest.json": `{"version":"2.1.0"}`,
		"README.md":     "some other project",
	})
	result := env.validator.Validate(path)
	assert.False(t, result.Valid)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "required entry missing from package: VERSION")
	assert.Contains(t, joined, "required entry missing from package: public")
}

func TestValidateDoesNotMutateState(t *testing.T) {
	env := newTestEnv(t)

	path := makePackage(t, env.tempDir, "2.1.0", nil, nil)
	env.validator.Validate(path)

	// The package file is untouched and nothing was staged.
	_, err := os.Stat(path)
	assert.NoError(t, err)
	pending, err := env.updater.GetPendingUpdate()
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Equal(t, "2.0.5", env.settings.GetDefault(SettingCurrentVersion, ""))
}
