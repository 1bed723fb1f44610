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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MasterFileName is the small note file in the base directory recording
// which installed semver currently corresponds to the master build.
// Master builds live in versions/<semver> like everything else; this note
// is what tags one of them as master.
const MasterFileName = "master"

// masterPath returns the note file path under a base directory.
func masterPath(baseDir string) string {
	return filepath.Join(baseDir, MasterFileName)
}

// ReadMasterVersion returns the tracked master semver, or nil when no
// master build is tracked.
func ReadMasterVersion(baseDir string) (*semver.Version, error) {
	data, err := os.ReadFile(masterPath(baseDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading master note: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil, nil
	}

	parsed, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing master note %q: %w", raw, err)
	}

	return parsed, nil
}

// WriteMasterVersion records the tracked master semver atomically.
func WriteMasterVersion(baseDir string, v *semver.Version) error {
	return writeFileAtomic(masterPath(baseDir), []byte(v.String()+"\n"), configFilePermission)
}

// ClearMasterVersion removes the note; missing is not an error.
func ClearMasterVersion(baseDir string) error {
	if err := os.Remove(masterPath(baseDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing master note: %w", err)
	}

	return nil
}
