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

package app

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/sumicare/zv/zv/toolchain"
)

// SystemZig is one non-zv-managed Zig installation found in PATH. These
// are recorded informationally in config.toml; the core never activates
// them.
type SystemZig struct {
	Version *semver.Version
	Path    string
}

// DetectSystemZig scans PATH for zig executables outside the zv layout,
// asks each for its version and records the findings in persistent state.
// Binaries that fail to run or report an unparseable version are skipped
// with a debug log.
func (a *App) DetectSystemZig(ctx context.Context) ([]SystemZig, error) {
	binDir := filepath.Join(a.BaseDir, "bin")

	var found []SystemZig

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" || dir == binDir {
			continue
		}

		candidate := filepath.Join(dir, toolchain.ZigExeName())

		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}

		parsed, err := zigVersionOf(ctx, candidate)
		if err != nil {
			logrus.WithField("path", candidate).WithError(err).Debug("skipping undetectable zig binary")
			continue
		}

		found = append(found, SystemZig{Version: parsed, Path: candidate})
	}

	found = lo.UniqBy(found, func(z SystemZig) string {
		return z.Version.String()
	})

	a.Config.SystemDetected = lo.Map(found, func(z SystemZig, _ int) string {
		return z.Version.String()
	})

	if err := a.Config.Save(); err != nil {
		return nil, err
	}

	return found, nil
}

// zigVersionOf runs `zig version` and parses the reported version.
func zigVersionOf(ctx context.Context, zigPath string) (*semver.Version, error) {
	output, err := exec.CommandContext(ctx, zigPath, "version").Output()
	if err != nil {
		return nil, err
	}

	return semver.StrictNewVersion(strings.TrimSpace(string(output)))
}
