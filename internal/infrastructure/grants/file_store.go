// Package grants persists per-guest I2C permissions and asks the operator
// for them interactively.
package grants

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
)

// FileStore provides file-based persistence for guest grants.
type FileStore struct {
	path string
}

// NewFileStore creates a new FileStore.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
	}
}

// Path returns the path to the grants file.
func (s *FileStore) Path() string {
	return s.path
}

// grantEntry is one guest's grant as written to disk.
type grantEntry struct {
	Guest       string   `yaml:"guest"`
	Read        bool     `yaml:"read"`
	Write       bool     `yaml:"write"`
	Whitelisted *bool    `yaml:"whitelisted,omitempty"`
	Addresses   []string `yaml:"addresses,omitempty"`
	Rule        string   `yaml:"rule,omitempty"`
}

// grantsFile represents the YAML structure of the grants file.
type grantsFile struct {
	Grants []grantEntry `yaml:"grants"`
}

// Load loads grants from disk.
// If the file does not exist, it returns an empty GrantSet without error.
func (s *FileStore) Load() (permissions.GrantSet, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return permissions.NewGrantSet(), nil
	}

	//nolint:gosec // G304: path is user-provided grants file
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grants file: %w", err)
	}

	var file grantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse grants file: %w", err)
	}

	set := permissions.NewGrantSet()
	for i, entry := range file.Grants {
		if entry.Guest == "" {
			return nil, fmt.Errorf("grant %d: guest name is required", i)
		}
		perms, err := entry.toPermissions()
		if err != nil {
			return nil, fmt.Errorf("grant for %s: %w", entry.Guest, err)
		}
		set.Set(entry.Guest, perms)
	}

	return set, nil
}

// Save writes grants to disk, guests in sorted order.
func (s *FileStore) Save(set permissions.GrantSet) error {
	dir := filepath.Dir(s.path)
	//nolint:gosec // G301: 0o755 is standard for user config directories (~/.i2cgate)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create grants directory: %w", err)
	}

	file := grantsFile{Grants: make([]grantEntry, 0, len(set))}
	for _, guest := range set.Guests() {
		perms, _ := set.Get(guest)
		file.Grants = append(file.Grants, fromPermissions(guest, perms))
	}

	data, err := yaml.MarshalWithOptions(file, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("failed to marshal grants to YAML: %w", err)
	}

	return os.WriteFile(s.path, data, 0o600)
}

func (e grantEntry) toPermissions() (permissions.Permissions, error) {
	// An address list implies the allow-list; turning it off explicitly
	// next to addresses is an error.
	whitelisted := len(e.Addresses) > 0
	if e.Whitelisted != nil {
		if !*e.Whitelisted && whitelisted {
			return permissions.Permissions{}, fmt.Errorf("addresses are set but whitelisted is false")
		}
		whitelisted = *e.Whitelisted
	}

	perms := permissions.Permissions{
		CanRead:       e.Read,
		CanWrite:      e.Write,
		IsWhitelisted: whitelisted,
	}

	for _, s := range e.Addresses {
		addr, err := permissions.ParseAddress(s)
		if err != nil {
			return permissions.Permissions{}, err
		}
		perms.Addresses = append(perms.Addresses, addr)
	}

	if e.Rule != "" {
		rule, err := permissions.CompileRule(e.Rule)
		if err != nil {
			return permissions.Permissions{}, err
		}
		perms.Rule = rule
	}

	return perms, nil
}

func fromPermissions(guest string, p permissions.Permissions) grantEntry {
	entry := grantEntry{
		Guest:       guest,
		Read:        p.CanRead,
		Write:       p.CanWrite,
		Rule:        p.Rule.Source(),
	}
	if !p.IsWhitelisted {
		return entry
	}
	entry.Whitelisted = &p.IsWhitelisted
	for _, addr := range p.Addresses {
		entry.Addresses = append(entry.Addresses, permissions.FormatAddress(addr))
	}
	return entry
}
