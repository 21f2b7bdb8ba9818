package services

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/models"
)

const packageManifestName = "manifest.json"

// Limit on the manifest entry itself; a multi-megabyte manifest is not a
// release of this application.
const maxManifestBytes = 1 << 20

// ValidatorProvider gates candidate update packages.
type ValidatorProvider interface {
	Validate(path string) models.ValidationResult
}

// Validator checks a candidate package archive: structural integrity, a
// declared strictly-newer version, required entries, and no entries escaping
// the extraction root. It reads facts only and never mutates live state.
type Validator struct {
	settings        SettingsServiceProvider
	requiredEntries []string
}

// NewValidator creates a new Validator.
func NewValidator(settings SettingsServiceProvider, requiredEntries []string) *Validator {
	return &Validator{settings: settings, requiredEntries: requiredEntries}
}

// Validate inspects the archive at path and reports whether it is an
// acceptable update for this installation.
func (v *Validator) Validate(path string) models.ValidationResult {
	fi, err := os.Stat(path)
	if err != nil {
		return invalid(fmt.Sprintf("cannot read package file: %v", err))
	}
	if fi.Size() == 0 {
		return invalid("package file is empty")
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return invalid(fmt.Sprintf("not a well-formed zip archive: %v", err))
	}
	defer reader.Close()

	var errs []string

	for _, f := range reader.File {
		if entryEscapesRoot(f.Name) {
			errs = append(errs, fmt.Sprintf("archive entry escapes extraction root: %s", f.Name))
		}
	}

	manifest, err := readPackageManifest(&reader.Reader)
	if err != nil {
		errs = append(errs, err.Error())
		return models.ValidationResult{Valid: false, Errors: errs}
	}

	declared, err := semver.NewVersion(manifest.Version)
	if err != nil {
		errs = append(errs, fmt.Sprintf("manifest declares unparseable version %q", manifest.Version))
		return models.ValidationResult{Valid: false, Errors: errs}
	}

	current, err := semver.NewVersion(v.settings.GetDefault(SettingCurrentVersion, "0.0.0"))
	if err != nil {
		current = semver.MustParse("0.0.0")
	}
	if !declared.GreaterThan(current) {
		errs = append(errs, fmt.Sprintf("not newer than installed version (%s <= %s)", manifest.Version, current.Original()))
	}

	for _, required := range v.requiredEntries {
		if !archiveHasEntry(&reader.Reader, required) {
			errs = append(errs, fmt.Sprintf("required entry missing from package: %s", required))
		}
	}

	if len(errs) > 0 {
		return models.ValidationResult{
			Valid:     false,
			Version:   manifest.Version,
			Changelog: manifest.Changelog,
			Errors:    errs,
		}
	}

	return models.ValidationResult{
		Valid:     true,
		Version:   manifest.Version,
		Changelog: manifest.Changelog,
	}
}

func invalid(msg string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Errors: []string{msg}}
}

func readPackageManifest(reader *zip.Reader) (*models.PackageManifest, error) {
	for _, f := range reader.File {
		if f.Name != packageManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open package manifest: %v", err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes))
		if err != nil {
			return nil, fmt.Errorf("cannot read package manifest: %v", err)
		}

		var manifest models.PackageManifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return nil, fmt.Errorf("package manifest is not valid JSON: %v", err)
		}
		if manifest.Version == "" {
			return nil, fmt.Errorf("package manifest declares no version")
		}
		return &manifest, nil
	}
	return nil, fmt.Errorf("package contains no %s", packageManifestName)
}

// entryEscapesRoot reports whether extracting the entry under a target root
// would write outside that root.
func entryEscapesRoot(name string) bool {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return true
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	return cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator))
}

// archiveHasEntry reports whether the archive contains the named top-level
// file or directory.
func archiveHasEntry(reader *zip.Reader, name string) bool {
	for _, f := range reader.File {
		trimmed := strings.TrimSuffix(f.Name, "/")
		if trimmed == name || strings.HasPrefix(f.Name, name+"/") {
			return true
		}
	}
	return false
}
