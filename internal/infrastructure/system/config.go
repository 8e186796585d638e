// Package system provides infrastructure for system-level configuration
// loaded from ~/.i2cgate/config.yaml.
package system

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"github.com/reglet-dev/i2cgate/internal/version"
)

// Config represents the global configuration file (~/.i2cgate/config.yaml).
type Config struct {
	// Bus is the periph bus name or number; empty opens the first bus.
	Bus string `yaml:"bus"`
	// Simulate replaces the physical bus with the built-in simulated device.
	Simulate bool `yaml:"simulate"`
	// SpeedHz sets the bus clock; 0 leaves the driver default.
	SpeedHz int64 `yaml:"speed_hz"`

	MaxTransferBytes  uint32 `yaml:"max_transfer_bytes"`
	WasmMemoryLimitMB int    `yaml:"wasm_memory_limit_mb"`
	HostModule        string `yaml:"host_module"`

	// DefaultAccess is what guests without a grant receive.
	DefaultAccess string `yaml:"default_access"`
	GrantsFile    string `yaml:"grants_file"`

	// HostVersion is a semver constraint the running build must satisfy.
	HostVersion string `yaml:"host_version"`
}

// MaxTransferLimit is the largest max_transfer_bytes accepted from any source.
// config.schema.json carries the same bound.
const MaxTransferLimit = 65536

// AccessLevel is the permission policy for guests without a grant.
type AccessLevel string

const (
	// AccessReadWrite grants read and write (default)
	AccessReadWrite AccessLevel = "read-write"

	// AccessReadOnly grants read only
	AccessReadOnly AccessLevel = "read-only"

	// AccessNone grants nothing; every transfer is rejected
	AccessNone AccessLevel = "none"
)

// ErrHostVersion is returned when the build does not satisfy host_version.
var ErrHostVersion = errors.New("host version constraint not satisfied")

// GetDefaultAccess returns the configured access level, defaulting to read-write.
func (c *Config) GetDefaultAccess() AccessLevel {
	switch AccessLevel(c.DefaultAccess) {
	case AccessReadOnly:
		return AccessReadOnly
	case AccessNone:
		return AccessNone
	default:
		return AccessReadWrite
	}
}

// DefaultPermissions returns the permissions issued to guests without a grant.
func (c *Config) DefaultPermissions() permissions.Permissions {
	switch c.GetDefaultAccess() {
	case AccessReadOnly:
		return permissions.ReadOnly()
	case AccessNone:
		return permissions.Deny()
	default:
		return permissions.Default()
	}
}

// CheckHostVersion verifies the running build against HostVersion.
// Unreleased builds are allowed with a warning.
func (c *Config) CheckHostVersion(info version.Info) error {
	if c.HostVersion == "" {
		return nil
	}

	ok, err := info.Satisfies(c.HostVersion)
	if errors.Is(err, version.ErrUnreleased) {
		slog.Warn("skipping host_version check for unreleased build",
			"version", info.Version,
			"constraint", c.HostVersion)
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not match %q", ErrHostVersion, info.Version, c.HostVersion)
	}
	return nil
}

// ConfigLoader loads system configuration from disk.
type ConfigLoader struct{}

// NewConfigLoader creates a new system config loader.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// DefaultConfig returns a Config with safe defaults for all fields.
// This is used when no system config file exists.
func DefaultConfig() *Config {
	return &Config{
		Bus:               "",
		Simulate:          false,
		SpeedHz:           0,
		MaxTransferBytes:  0, // 0 means mediator default
		WasmMemoryLimitMB: 0, // 0 means use runtime default
		HostModule:        "i2c",
		DefaultAccess:     string(AccessReadWrite),
	}
}

// Load loads the system configuration from the specified path.
// If the file does not exist, returns DefaultConfig() with safe defaults.
func (l *ConfigLoader) Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	//nolint:gosec // G304: path is user-provided config file, validated to exist above
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	return Parse(data)
}

// Parse validates data against the config schema and decodes it over the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}

	return config, nil
}
