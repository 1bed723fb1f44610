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

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/sumicare/zv/zv/version"
)

const (
	// legacyActiveFileName is the pre-config.toml active pointer.
	legacyActiveFileName = "active.json"
	// legacyMasterDirName is the pre-flattening master subtree under versions/.
	legacyMasterDirName = "master"
)

// legacyActive is the shape of the old active.json document.
type legacyActive struct {
	Version  string `json:"version"`
	Path     string `json:"path"`
	IsMaster bool   `json:"is_master"`
}

// Migrate brings an older on-disk layout up to the current one. It runs on
// startup and is a no-op when config.toml already records a tool version
// at least as new as toolVersion. The steps, from the legacy layout:
//
//  1. flatten versions/master/<semver> into versions/<semver>, recording
//     the moved semver in the master note; an existing versions/<semver>
//     wins conflicts and the master copy is dropped
//  2. translate active.json into the config.toml active pointer
//  3. remove the legacy files
func Migrate(baseDir, toolVersion string) (*Config, error) {
	cfg, err := Load(ConfigPath(baseDir))
	if err != nil {
		return nil, err
	}

	current, err := semver.StrictNewVersion(toolVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing tool version %q: %w", toolVersion, err)
	}

	if cfg.ToolVersion != "" {
		recorded, err := semver.StrictNewVersion(cfg.ToolVersion)
		if err == nil && !recorded.LessThan(current) {
			return cfg, nil
		}
	}

	if err := flattenMasterSubtree(baseDir); err != nil {
		return nil, err
	}

	if err := translateLegacyActive(baseDir, cfg); err != nil {
		return nil, err
	}

	cfg.ToolVersion = current.String()

	if err := cfg.Save(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// flattenMasterSubtree moves versions/master/<semver> entries up into
// versions/<semver> and records the tracked master version.
func flattenMasterSubtree(baseDir string) error {
	versionsDir := filepath.Join(baseDir, "versions")
	masterDir := filepath.Join(versionsDir, legacyMasterDirName)

	entries, err := os.ReadDir(masterDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("reading legacy master subtree: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		parsed, err := semver.StrictNewVersion(entry.Name())
		if err != nil {
			logrus.WithField("dir", entry.Name()).Debug("skipping unparseable legacy master entry")
			continue
		}

		source := filepath.Join(masterDir, entry.Name())
		target := filepath.Join(versionsDir, entry.Name())

		if _, err := os.Stat(target); err == nil {
			// Conflicts resolve in favor of the existing flat entry.
			logrus.WithField("version", entry.Name()).Debug("dropping legacy master copy, flat entry exists")

			if err := os.RemoveAll(source); err != nil {
				return fmt.Errorf("removing conflicting legacy master entry: %w", err)
			}

			continue
		}

		if err := os.Rename(source, target); err != nil {
			return fmt.Errorf("flattening legacy master entry %s: %w", entry.Name(), err)
		}

		if err := WriteMasterVersion(baseDir, parsed); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(masterDir); err != nil {
		return fmt.Errorf("removing legacy master subtree: %w", err)
	}

	return nil
}

// translateLegacyActive converts active.json into the config's active
// pointer and removes the legacy file.
func translateLegacyActive(baseDir string, cfg *Config) error {
	activePath := filepath.Join(baseDir, legacyActiveFileName)

	data, err := os.ReadFile(activePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("reading legacy active.json: %w", err)
	}

	var legacy legacyActive
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parsing legacy active.json: %w", err)
	}

	parsed, err := semver.StrictNewVersion(legacy.Version)
	if err != nil {
		return fmt.Errorf("parsing legacy active version %q: %w", legacy.Version, err)
	}

	kind := version.KindExact
	if legacy.IsMaster {
		kind = version.KindMaster
	}

	cfg.SetActive(&Active{Kind: kind, Version: parsed})

	if _, ok := cfg.Install(parsed.String()); !ok && legacy.Path != "" {
		cfg.RecordInstall(parsed.String(), Installation{Path: legacy.Path})
	}

	if err := os.Remove(activePath); err != nil {
		return fmt.Errorf("removing legacy active.json: %w", err)
	}

	return nil
}
