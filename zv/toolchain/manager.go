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

// Package toolchain owns the on-disk layout of installed Zig versions,
// archive extraction, the active pointer and shim deployment.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/sumicare/zv/zv/state"
	"github.com/sumicare/zv/zv/version"
)

var (
	// ErrAlreadyInstalled is returned when the target slot already holds
	// a valid installation and no force flag is set.
	ErrAlreadyInstalled = errors.New("version already installed")
	// ErrNoZigExecutable is returned when an installation directory does
	// not contain a zig executable at its root.
	ErrNoZigExecutable = errors.New("no zig executable in installation")
	// ErrActivePointer wraps shim-deployment and active-pointer
	// persistence failures.
	ErrActivePointer = errors.New("active pointer update failed")
	// errUnknownArchive is returned for archives that are neither tar.xz nor zip.
	errUnknownArchive = errors.New("unknown archive kind")
)

// ZigExeName is the platform name of the zig executable.
func ZigExeName() string {
	return exeName("zig")
}

// ZlsExeName is the platform name of the zls executable.
func ZlsExeName() string {
	return exeName("zls")
}

// ZvExeName is the platform name of the zv executable.
func ZvExeName() string {
	return exeName("zv")
}

// exeName appends .exe on Windows.
func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}

	return base
}

type (
	// Installed describes one scanned installation under versions/.
	Installed struct {
		Version  *semver.Version
		Path     string
		IsMaster bool
	}

	// InstallOptions tunes InstallVersion.
	InstallOptions struct {
		// Force replaces an existing valid installation in the slot.
		Force bool
		// Checksum is the verified SHA-256 recorded in the metadata.
		Checksum string
		// DownloadURL is the source recorded in the metadata.
		DownloadURL string
	}

	// Manager owns versions/, bin/, the active pointer and the shims.
	Manager struct {
		baseDir     string
		versionsDir string
		binDir      string
		config      *state.Config
	}
)

// NewManager creates a Manager over a base directory, creating the
// versions/ and bin/ subdirectories when absent.
func NewManager(baseDir string, cfg *state.Config) (*Manager, error) {
	m := &Manager{
		baseDir:     baseDir,
		versionsDir: filepath.Join(baseDir, "versions"),
		binDir:      filepath.Join(baseDir, "bin"),
		config:      cfg,
	}

	for _, dir := range []string{m.versionsDir, m.binDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return m, nil
}

// VersionsDir returns the installations root.
func (m *Manager) VersionsDir() string {
	return m.versionsDir
}

// BinDir returns the shim directory.
func (m *Manager) BinDir() string {
	return m.binDir
}

// InstallDir returns the slot for a version.
func (m *Manager) InstallDir(v *semver.Version) string {
	return filepath.Join(m.versionsDir, v.String())
}

// hasZig reports whether dir holds a zig executable at its root.
func hasZig(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ZigExeName()))

	return err == nil && info.Mode().IsRegular()
}

// IsInstalled reports whether the resolved version occupies a valid slot,
// returning the installation directory. A master resolution additionally
// requires the tracked master note to name the same semver.
func (m *Manager) IsInstalled(rzv version.Resolved) (string, bool) {
	dir := m.InstallDir(rzv.Version())
	if !hasZig(dir) {
		return "", false
	}

	if rzv.IsMaster() {
		tracked, err := state.ReadMasterVersion(m.baseDir)
		if err != nil || tracked == nil || !tracked.Equal(rzv.Version()) {
			return "", false
		}
	}

	return dir, true
}

// InstallVersion extracts a verified tarball into versions/<version>.
// Extraction happens in a temporary sibling directory that is renamed
// into the slot only once it holds a valid zig executable, so a crash or
// error never leaves a partial installation. The metadata record lands in
// persistent state afterwards.
func (m *Manager) InstallVersion(tarballPath string, rzv version.Resolved, opts InstallOptions) (string, error) {
	v := rzv.Version()
	target := m.InstallDir(v)

	if hasZig(target) && !opts.Force {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInstalled, v)
	}

	tempDir, err := os.MkdirTemp(m.versionsDir, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}

	defer os.RemoveAll(tempDir)

	switch version.TarballExt(tarballPath) {
	case "tar.xz":
		err = ExtractTarXz(tarballPath, tempDir)
	case "zip":
		err = ExtractZip(tarballPath, tempDir)
	default:
		return "", fmt.Errorf("%w: %s", errUnknownArchive, filepath.Base(tarballPath))
	}

	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(tarballPath), err)
	}

	if !hasZig(tempDir) {
		return "", fmt.Errorf("%w: %s", ErrNoZigExecutable, filepath.Base(tarballPath))
	}

	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("clearing existing slot: %w", err)
	}

	if err := os.Rename(tempDir, target); err != nil {
		return "", fmt.Errorf("moving installation into place: %w", err)
	}

	m.config.RecordInstall(v.String(), state.Installation{
		Path:              target,
		Checksum:          opts.Checksum,
		ChecksumVerified:  true,
		SignatureVerified: true,
		DownloadURL:       opts.DownloadURL,
		DownloadedAt:      time.Now().UTC(),
	})

	if err := m.config.Save(); err != nil {
		return "", err
	}

	if rzv.IsMaster() {
		if err := state.WriteMasterVersion(m.baseDir, v); err != nil {
			return "", err
		}
	}

	return filepath.Join(target, ZigExeName()), nil
}

// Scan enumerates versions/: every direct subdirectory whose name parses
// as a semver and which holds a zig executable at its root. Anything else
// is ignored. The master classification cross-references the tracked
// master note.
func (m *Manager) Scan() ([]Installed, error) {
	entries, err := os.ReadDir(m.versionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("scanning versions directory: %w", err)
	}

	tracked, err := state.ReadMasterVersion(m.baseDir)
	if err != nil {
		logrus.WithError(err).Warn("unreadable master note, treating all installs as release builds")
	}

	var installed []Installed

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		parsed, err := semver.StrictNewVersion(entry.Name())
		if err != nil {
			continue
		}

		dir := filepath.Join(m.versionsDir, entry.Name())
		if !hasZig(dir) {
			continue
		}

		installed = append(installed, Installed{
			Version:  parsed,
			Path:     dir,
			IsMaster: tracked != nil && tracked.Equal(parsed),
		})
	}

	sort.Slice(installed, func(i, j int) bool {
		return installed[i].Version.LessThan(installed[j].Version)
	})

	return installed, nil
}

// ActiveInstall returns the installation the active pointer names, or nil
// when no pointer is set.
func (m *Manager) ActiveInstall() *Installed {
	active := m.config.Active
	if active == nil {
		return nil
	}

	dir := m.InstallDir(active.Version)
	if entry, ok := m.config.Install(active.Version.String()); ok && entry.Path != "" {
		dir = entry.Path
	}

	return &Installed{
		Version:  active.Version,
		Path:     dir,
		IsMaster: active.IsMaster(),
	}
}

// SetActive promotes an installation: it verifies the slot, refreshes the
// zv binary in bin/, deploys the zig and zls shims and only then persists
// the new pointer with a surgical config edit. A crash after shim
// deployment but before persistence leaves the previous pointer intact,
// which the next scan detects.
func (m *Manager) SetActive(rzv version.Resolved, installPath string) error {
	if installPath == "" {
		installPath = m.InstallDir(rzv.Version())
	}

	if !hasZig(installPath) {
		return fmt.Errorf("%w: %s", ErrNoZigExecutable, installPath)
	}

	zvPath, err := m.ensureZvBinary()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrActivePointer, err)
	}

	for _, shim := range []string{ZigExeName(), ZlsExeName()} {
		if err := deployShim(m.binDir, shim, zvPath); err != nil {
			return fmt.Errorf("%w: %v", ErrActivePointer, err)
		}
	}

	kind := version.KindExact
	if rzv.IsMaster() {
		kind = version.KindMaster
	}

	m.config.SetActive(&state.Active{Kind: kind, Version: rzv.Version()})

	if err := m.config.SaveActiveVersion(); err != nil {
		return fmt.Errorf("%w: %v", ErrActivePointer, err)
	}

	return nil
}
