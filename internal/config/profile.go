// Package config loads run configuration for the speed-profile service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default parameter values applied when the config file omits a field.
const (
	DefaultGridSize = 0.4 // metres
	DefaultFWHM     = 1.0 // metres
	DefaultWorkers  = 1
	DefaultUnits    = "mps"
)

// ProfileConfig represents the root configuration for profile computation.
// The schema matches the /api/runs request body so the same JSON can be used
// for both startup defaults and per-run overrides. All fields are pointers so
// partial configs merge over defaults.
type ProfileConfig struct {
	// Kernel params
	GridSize  *float64 `json:"grid_size,omitempty"` // cell edge length, > 0
	FWHM      *float64 `json:"fwhm,omitempty"`      // Gaussian spread, > 0
	FillValue *float64 `json:"fill_value,omitempty"`
	Workers   *int     `json:"workers,omitempty"`

	// Display params
	Units *string `json:"units,omitempty"` // mps, mph, kmph, kph

	// Input paths (CLI only; the server receives uploads instead)
	AreaFile *string `json:"area_file,omitempty"`
	DataFile *string `json:"data_file,omitempty"`
}

// EmptyProfileConfig returns a ProfileConfig with all fields set to nil.
func EmptyProfileConfig() *ProfileConfig {
	return &ProfileConfig{}
}

// LoadProfileConfig loads a ProfileConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON retain their defaults, so partial configs are safe.
func LoadProfileConfig(path string) (*ProfileConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ProfileConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values. Nil fields are fine; they fall back
// to defaults at resolution time.
func (c *ProfileConfig) Validate() error {
	if c.GridSize != nil && *c.GridSize <= 0 {
		return fmt.Errorf("grid_size must be positive, got %v", *c.GridSize)
	}
	if c.FWHM != nil && *c.FWHM <= 0 {
		return fmt.Errorf("fwhm must be positive, got %v", *c.FWHM)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// ResolvedGridSize returns the configured grid size or the default.
func (c *ProfileConfig) ResolvedGridSize() float64 {
	if c.GridSize != nil {
		return *c.GridSize
	}
	return DefaultGridSize
}

// ResolvedFWHM returns the configured kernel spread or the default.
func (c *ProfileConfig) ResolvedFWHM() float64 {
	if c.FWHM != nil {
		return *c.FWHM
	}
	return DefaultFWHM
}

// ResolvedWorkers returns the configured worker count or the default.
func (c *ProfileConfig) ResolvedWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return DefaultWorkers
}

// ResolvedUnits returns the configured display units or the default.
func (c *ProfileConfig) ResolvedUnits() string {
	if c.Units != nil {
		return *c.Units
	}
	return DefaultUnits
}

// Merge overlays non-nil fields of other onto a copy of c.
func (c *ProfileConfig) Merge(other *ProfileConfig) *ProfileConfig {
	merged := *c
	if other == nil {
		return &merged
	}
	if other.GridSize != nil {
		merged.GridSize = other.GridSize
	}
	if other.FWHM != nil {
		merged.FWHM = other.FWHM
	}
	if other.FillValue != nil {
		merged.FillValue = other.FillValue
	}
	if other.Workers != nil {
		merged.Workers = other.Workers
	}
	if other.Units != nil {
		merged.Units = other.Units
	}
	if other.AreaFile != nil {
		merged.AreaFile = other.AreaFile
	}
	if other.DataFile != nil {
		merged.DataFile = other.DataFile
	}
	return &merged
}
