//
// Copyright (c) 2025 Sumicare
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package state persists zv's configuration: the active toolchain
// pointer, installation metadata and the tracked master version, all
// TOML-backed under the base directory.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	toml "github.com/pelletier/go-toml"

	"github.com/sumicare/zv/zv/version"
)

const (
	// ConfigFileName is the persistent state document under the base directory.
	ConfigFileName = "config.toml"

	// configFilePermission is the mode for the persisted config.
	configFilePermission os.FileMode = 0o644
)

var (
	// errActiveVersionMalformed indicates an active_version table without a recognized key.
	errActiveVersionMalformed = errors.New("malformed active_version entry")
)

type (
	// Installation is the metadata record kept for one installed
	// toolchain under [zig.<semver>].
	Installation struct {
		Path              string    `toml:"path"`
		Checksum          string    `toml:"checksum,omitempty"`
		ChecksumVerified  bool      `toml:"checksum_verified"`
		SignatureVerified bool      `toml:"signature_verified"`
		DownloadURL       string    `toml:"download_url,omitempty"`
		DownloadedAt      time.Time `toml:"downloaded_at"`
	}

	// Active is the persisted active pointer: the selector kind the user
	// activated plus the concrete version it resolved to.
	Active struct {
		Kind    version.Kind
		Version *semver.Version
	}

	// configDoc is the TOML shape of config.toml.
	configDoc struct {
		ToolVersion    string                  `toml:"tool_version,omitempty"`
		ActiveVersion  map[string]string       `toml:"active_version,omitempty"`
		SystemDetected []string                `toml:"system_detected_zig,omitempty"`
		Zig            map[string]Installation `toml:"zig,omitempty"`
	}

	// Config is the loaded persistent state. SystemDetected is
	// informational only; the core never activates entries from it.
	Config struct {
		ToolVersion    string
		Active         *Active
		SystemDetected []string
		Installs       map[string]Installation

		path string
	}
)

// activeKey maps a selector kind to its active_version table key.
func activeKey(kind version.Kind) string {
	switch kind {
	case version.KindMaster:
		return "master"
	case version.KindStable:
		return "stable"
	case version.KindLatest:
		return "latest"
	default:
		return "version"
	}
}

// activeKindFor maps an active_version table key back to a selector kind.
func activeKindFor(key string) (version.Kind, bool) {
	switch key {
	case "version":
		return version.KindExact, true
	case "master":
		return version.KindMaster, true
	case "stable":
		return version.KindStable, true
	case "latest":
		return version.KindLatest, true
	default:
		return version.KindExact, false
	}
}

// encode returns the one-key table form of the pointer.
func (a *Active) encode() map[string]string {
	return map[string]string{activeKey(a.Kind): a.Version.String()}
}

// decodeActive parses the one-key table form.
func decodeActive(table map[string]string) (*Active, error) {
	for _, key := range []string{"version", "master", "stable", "latest"} {
		raw, ok := table[key]
		if !ok {
			continue
		}

		kind, _ := activeKindFor(key)

		parsed, err := semver.StrictNewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s = %q: %v", errActiveVersionMalformed, key, raw, err)
		}

		return &Active{Kind: kind, Version: parsed}, nil
	}

	return nil, errActiveVersionMalformed
}

// IsMaster reports whether the pointer names a master build.
func (a *Active) IsMaster() bool {
	return a.Kind == version.KindMaster
}

// ConfigPath returns the config document path under a base directory.
func ConfigPath(baseDir string) string {
	return filepath.Join(baseDir, ConfigFileName)
}

// Load reads config.toml, returning a fresh empty Config when the file
// does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Installs: make(map[string]Installation),
		path:     path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return nil, fmt.Errorf("reading config: %w", err)
	}

	var doc configDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ToolVersion = doc.ToolVersion
	cfg.SystemDetected = doc.SystemDetected

	if doc.Zig != nil {
		cfg.Installs = doc.Zig
	}

	if len(doc.ActiveVersion) > 0 {
		active, err := decodeActive(doc.ActiveVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}

		cfg.Active = active
	}

	return cfg, nil
}

// Path returns the document path this config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Install returns the metadata record for a version string.
func (c *Config) Install(versionStr string) (Installation, bool) {
	entry, ok := c.Installs[versionStr]

	return entry, ok
}

// RecordInstall stores an installation record. The caller persists with
// Save afterwards.
func (c *Config) RecordInstall(versionStr string, entry Installation) {
	c.Installs[versionStr] = entry
}

// RemoveInstall drops an installation record.
func (c *Config) RemoveInstall(versionStr string) {
	delete(c.Installs, versionStr)
}

// SetActive replaces the active pointer in memory.
func (c *Config) SetActive(active *Active) {
	c.Active = active
}

// Save serializes the whole document and writes it atomically. Used when
// installation metadata changes.
func (c *Config) Save() error {
	doc := configDoc{
		ToolVersion:    c.ToolVersion,
		SystemDetected: c.SystemDetected,
		Zig:            c.Installs,
	}

	if c.Active != nil {
		doc.ActiveVersion = c.Active.encode()
	}

	encoded, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return writeFileAtomic(c.path, encoded, configFilePermission)
}

// SaveActiveVersion updates only the active_version key of the on-disk
// document, keeping every other key and value as read. The document is
// re-rendered from the parsed tree, so comments, blank lines and the
// original key layout are not preserved. This is the normal fast path for
// `use`. When no document exists yet, it falls back to a full Save.
func (c *Config) SaveActiveVersion() error {
	content, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.Save()
		}

		return fmt.Errorf("reading config for surgical edit: %w", err)
	}

	tree, err := toml.LoadBytes(content)
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", c.path, err)
	}

	if c.Active == nil {
		tree.Delete("active_version") //nolint:errcheck // deleting a missing key is fine
	} else {
		sub, err := toml.TreeFromMap(map[string]interface{}{
			activeKey(c.Active.Kind): c.Active.Version.String(),
		})
		if err != nil {
			return fmt.Errorf("building active_version entry: %w", err)
		}

		tree.Set("active_version", sub)
	}

	return writeFileAtomic(c.path, []byte(tree.String()), configFilePermission)
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path. Directory creation is idempotent.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, fmt.Sprintf(".%s.tmp-*", filepath.Base(path)))
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}

	tempPath := tempFile.Name()

	defer func() {
		tempFile.Close()

		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tempPath, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, mode); err != nil {
		return fmt.Errorf("setting mode on temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	return nil
}
