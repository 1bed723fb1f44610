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

// Package app wires the zv subsystems together: base-directory
// discovery, startup migration and the end-to-end use/install/sync
// flows.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"aead.dev/minisign"
	"github.com/Masterminds/semver/v3"

	"github.com/sumicare/zv/zv/download"
	"github.com/sumicare/zv/zv/index"
	"github.com/sumicare/zv/zv/mirror"
	"github.com/sumicare/zv/zv/resolver"
	"github.com/sumicare/zv/zv/state"
	"github.com/sumicare/zv/zv/toolchain"
	"github.com/sumicare/zv/zv/version"
)

// BaseDirEnv overrides the root of the on-disk layout.
const BaseDirEnv = "ZV_DIR"

// errNoHome is returned when neither ZV_DIR nor a home directory can be located.
var errNoHome = errors.New("cannot locate home directory, set ZV_DIR")

type (
	// Options tunes a Use or Install flow.
	Options struct {
		// Force replaces an existing installation in the slot.
		Force bool
		// ForceCanonical skips community mirrors and downloads from
		// ziglang.org directly.
		ForceCanonical bool
	}

	// App owns the subsystems operating on one base directory. Network
	// pieces are built lazily; the mirror manager only when a flow
	// actually downloads through mirrors.
	App struct {
		BaseDir   string
		Config    *state.Config
		Toolchain *toolchain.Manager

		// IndexURL and MirrorsURL override the well-known endpoints;
		// used by tests.
		IndexURL   string
		MirrorsURL string
		// SigningKey overrides the embedded trust anchor; used by tests.
		SigningKey *minisign.PublicKey

		indexManager *index.Manager
		mirrors      *mirror.Manager
	}
)

// BaseDir resolves the layout root: ZV_DIR when set, otherwise ~/.zv.
func BaseDir() (string, error) {
	if dir := os.Getenv(BaseDirEnv); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNoHome, err)
	}

	return filepath.Join(home, ".zv"), nil
}

// New opens (and if needed creates) the layout at baseDir, runs the
// legacy-layout migration and loads persistent state.
func New(baseDir, toolVersion string) (*App, error) {
	for _, sub := range []string{"", "bin", "versions", "downloads"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating base directory layout: %w", err)
		}
	}

	cfg, err := state.Migrate(baseDir, toolVersion)
	if err != nil {
		return nil, err
	}

	manager, err := toolchain.NewManager(baseDir, cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		BaseDir:   baseDir,
		Config:    cfg,
		Toolchain: manager,
	}, nil
}

// DownloadsDir returns the transient tarball cache.
func (a *App) DownloadsDir() string {
	return filepath.Join(a.BaseDir, "downloads")
}

// Index returns the lazily-built release index manager.
func (a *App) Index() *index.Manager {
	if a.indexManager == nil {
		a.indexManager = index.NewManager(filepath.Join(a.BaseDir, "index.toml"))

		if a.IndexURL != "" {
			a.indexManager.IndexURL = a.IndexURL
		}
	}

	return a.indexManager
}

// Mirrors returns the lazily-built mirror manager with its list loaded
// under the TTL policy.
func (a *App) Mirrors(ctx context.Context) (*mirror.Manager, error) {
	if a.mirrors == nil {
		manager := mirror.NewManager(filepath.Join(a.BaseDir, "mirrors.toml"))

		if a.MirrorsURL != "" {
			manager.MirrorsURL = a.MirrorsURL
		}

		if err := manager.EnsureLoaded(ctx, mirror.RespectTTL); err != nil {
			return nil, err
		}

		a.mirrors = manager
	}

	return a.mirrors, nil
}

// Resolve maps a selector to a concrete release via the index.
func (a *App) Resolve(ctx context.Context, sel version.Selector) (version.Resolved, *index.Release, error) {
	return resolver.New(a.Index()).Resolve(ctx, sel)
}

// Use resolves a selector, installs the release when missing and flips
// the active pointer to it. This is the `zv use` flow.
func (a *App) Use(ctx context.Context, sel version.Selector, opts Options) (version.Resolved, error) {
	rzv, release, err := a.Resolve(ctx, sel)
	if err != nil {
		return version.Resolved{}, err
	}

	installPath, installed := a.Toolchain.IsInstalled(rzv)
	if !installed || opts.Force {
		if _, err := a.installRelease(ctx, rzv, release, opts); err != nil {
			return version.Resolved{}, err
		}

		installPath = a.Toolchain.InstallDir(rzv.Version())
	}

	if err := a.Toolchain.SetActive(rzv, installPath); err != nil {
		return version.Resolved{}, err
	}

	Msgf("Now using Zig %s", rzv)

	return rzv, nil
}

// Install resolves a selector and installs the release without touching
// the active pointer. This is the `zv install` flow.
func (a *App) Install(ctx context.Context, sel version.Selector, opts Options) (version.Resolved, error) {
	rzv, release, err := a.Resolve(ctx, sel)
	if err != nil {
		return version.Resolved{}, err
	}

	if _, installed := a.Toolchain.IsInstalled(rzv); installed && !opts.Force {
		Msgf("Zig %s is already installed", rzv)

		return rzv, nil
	}

	if _, err := a.installRelease(ctx, rzv, release, opts); err != nil {
		return version.Resolved{}, err
	}

	Msgf("Installed Zig %s", rzv)

	return rzv, nil
}

// installRelease runs the download pipeline for the host platform and
// extracts the verified tarball into its slot.
func (a *App) installRelease(ctx context.Context, rzv version.Resolved, release *index.Release, opts Options) (string, error) {
	host, err := version.HostTriple()
	if err != nil {
		return "", err
	}

	artifact, ok := release.Artifact(host)
	if !ok {
		return "", fmt.Errorf("release %s has no artifact for %s (available: %v)", rzv, host, release.Targets())
	}

	var mirrors *mirror.Manager

	if !opts.ForceCanonical {
		mirrors, err = a.Mirrors(ctx)
		if err != nil {
			return "", err
		}
	}

	downloader, err := download.New(a.DownloadsDir(), mirrors)
	if err != nil {
		return "", err
	}

	if a.SigningKey != nil {
		downloader.WithPublicKey(*a.SigningKey)
	}

	downloader.ForceCanonical = opts.ForceCanonical
	downloader.OnProgress = progressPrinter(rzv)

	tarballName := version.TarballName(rzv.Version(), host)

	result, err := downloader.Fetch(ctx, rzv.Version(), tarballName, artifact)
	if err != nil {
		return "", err
	}

	zigExe, err := a.Toolchain.InstallVersion(result.TarballPath, rzv, toolchain.InstallOptions{
		Force:       opts.Force,
		Checksum:    artifact.Shasum,
		DownloadURL: result.SourceURL,
	})
	if err != nil {
		return "", err
	}

	return zigExe, nil
}

// Sync force-refreshes the release index and the mirror list.
func (a *App) Sync(ctx context.Context) error {
	if _, err := a.Index().EnsureLoaded(ctx, index.AlwaysRefresh); err != nil {
		return err
	}

	mirrors, err := a.Mirrors(ctx)
	if err != nil {
		return err
	}

	if err := mirrors.Refresh(ctx); err != nil {
		return err
	}

	if _, err := a.DetectSystemZig(ctx); err != nil {
		return err
	}

	Msgf("Synced release index and %d mirrors", len(mirrors.Mirrors()))

	return nil
}

// List returns the scanned installations.
func (a *App) List() ([]toolchain.Installed, error) {
	return a.Toolchain.Scan()
}

// ListRemote returns every non-master version the release index knows,
// ascending, under the TTL cache policy.
func (a *App) ListRemote(ctx context.Context) ([]*semver.Version, error) {
	idx, err := a.Index().EnsureLoaded(ctx, index.RespectTTL)
	if err != nil {
		return nil, err
	}

	return idx.Versions(), nil
}

// progressPrinter writes a single-line progress report to stderr.
func progressPrinter(rzv version.Resolved) download.Progress {
	return func(downloaded, total uint64) {
		if testing.Testing() {
			return
		}

		if total > 0 {
			fmt.Fprintf(os.Stderr, "\rDownloading Zig %s: %.1f/%.1f MB (%d%%)",
				rzv, float64(downloaded)/1048576, float64(total)/1048576, downloaded*100/total)
		} else {
			fmt.Fprintf(os.Stderr, "\rDownloading Zig %s: %.1f MB",
				rzv, float64(downloaded)/1048576)
		}
	}
}

// Msgf prints a success message to stderr with formatting.
func Msgf(format string, args ...any) {
	// Skip output during testing to avoid interfering with test runner
	if testing.Testing() {
		return
	}

	fmt.Fprintf(os.Stderr, "\033[32m"+format+"\033[39m\n", args...)
}

// Errf prints an error message to stderr with formatting.
func Errf(format string, args ...any) {
	if testing.Testing() {
		return
	}

	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[39m\n", args...)
}
