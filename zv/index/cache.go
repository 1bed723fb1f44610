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

package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	toml "github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"

	"github.com/sumicare/zv/zv/fetch"
)

const (
	// DownloadIndexURL is the canonical release catalog endpoint.
	DownloadIndexURL = "https://ziglang.org/download/index.json"

	// DefaultTTLDays is the cache lifetime applied when ZV_INDEX_TTL_DAYS is unset.
	DefaultTTLDays = 21

	// cacheFilePermission is the mode for persisted cache documents.
	cacheFilePermission os.FileMode = 0o644
)

// ErrCacheNotFound is returned by the OnlyCache strategy when no cached
// index exists on disk.
var ErrCacheNotFound = errors.New("index cache not found")

// Strategy selects how EnsureLoaded balances the on-disk cache against a
// network fetch.
type Strategy int

const (
	// AlwaysRefresh unconditionally fetches from the network.
	AlwaysRefresh Strategy = iota
	// PreferCache uses the cache when present, fetching only when absent.
	PreferCache
	// RespectTTL uses the cache when present and unexpired, else fetches.
	RespectTTL
	// OnlyCache uses the cache and fails with ErrCacheNotFound when absent.
	OnlyCache
)

type (
	// cacheArtifact is the TOML form of an Artifact.
	cacheArtifact struct {
		Tarball string `toml:"tarball"`
		Shasum  string `toml:"shasum"`
		Size    uint64 `toml:"size"`
	}

	// cacheRelease is the TOML form of a Release.
	cacheRelease struct {
		Version   string                   `toml:"version"`
		Date      string                   `toml:"date"`
		Artifacts map[string]cacheArtifact `toml:"artifacts"`
	}

	// cacheIndex is the persisted form of the catalog in index.toml.
	cacheIndex struct {
		LastSynced time.Time               `toml:"last_synced"`
		Releases   map[string]cacheRelease `toml:"releases"`
	}

	// Manager owns the cached catalog: one file on disk, one parsed copy
	// in memory, and the strategy-driven load path.
	Manager struct {
		// IndexURL is the catalog endpoint; overridable for testing.
		IndexURL string

		path  string
		ttl   time.Duration
		index *Index
	}
)

// TTL returns the index cache lifetime, honoring ZV_INDEX_TTL_DAYS.
func TTL() time.Duration {
	if raw := os.Getenv("ZV_INDEX_TTL_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days >= 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}

	return DefaultTTLDays * 24 * time.Hour
}

// NewManager creates a Manager caching at path (normally
// <base>/index.toml).
func NewManager(path string) *Manager {
	return &Manager{
		IndexURL: DownloadIndexURL,
		path:     path,
		ttl:      TTL(),
	}
}

// Index returns the loaded catalog, or nil before EnsureLoaded succeeds.
func (m *Manager) Index() *Index {
	return m.index
}

// EnsureLoaded loads the catalog according to the strategy and returns it.
func (m *Manager) EnsureLoaded(ctx context.Context, strategy Strategy) (*Index, error) {
	switch strategy {
	case AlwaysRefresh:
		if err := m.Refresh(ctx); err != nil {
			return nil, err
		}

	case PreferCache:
		cached, err := m.loadCache()
		if err == nil {
			m.index = cached
		} else if err := m.Refresh(ctx); err != nil {
			return nil, err
		}

	case RespectTTL:
		cached, err := m.loadCache()
		if err == nil && !cached.IsExpired(m.ttl) {
			m.index = cached
		} else {
			if err == nil {
				logrus.WithField("path", m.path).Debug("index cache expired, refreshing")
			}

			if err := m.Refresh(ctx); err != nil {
				return nil, err
			}
		}

	case OnlyCache:
		cached, err := m.loadCache()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, m.path)
			}

			return nil, err
		}

		m.index = cached
	}

	return m.index, nil
}

// Refresh fetches the catalog from the network, stamps last_synced and
// persists the cache. A failed cache write is logged, not fatal.
func (m *Manager) Refresh(ctx context.Context) error {
	body, err := fetch.GetString(ctx, m.IndexURL)
	if err != nil {
		return fmt.Errorf("fetching release index: %w", err)
	}

	parsed, err := ParseJSON([]byte(body))
	if err != nil {
		return err
	}

	parsed.LastSynced = time.Now().UTC()
	m.index = parsed

	if err := m.SaveToDisk(); err != nil {
		logrus.WithError(err).Warn("failed to save refreshed index to disk")
	}

	return nil
}

// SaveToDisk persists the in-memory catalog as TOML, atomically: the
// document is written to a sibling temp file and renamed over the target.
func (m *Manager) SaveToDisk() error {
	if m.index == nil {
		return nil
	}

	doc := cacheIndex{
		LastSynced: m.index.LastSynced,
		Releases:   make(map[string]cacheRelease, len(m.index.Releases)),
	}

	for key, release := range m.index.Releases {
		cached := cacheRelease{
			Version:   release.Version.String(),
			Date:      release.Date,
			Artifacts: make(map[string]cacheArtifact, len(release.Artifacts)),
		}

		for triple, artifact := range release.Artifacts {
			cached.Artifacts[triple] = cacheArtifact(artifact)
		}

		doc.Releases[key] = cached
	}

	encoded, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding index cache: %w", err)
	}

	return writeFileAtomic(m.path, encoded)
}

// loadCache reads and parses the persisted catalog.
func (m *Manager) loadCache() (*Index, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("reading index cache: %w", err)
	}

	var doc cacheIndex
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing index cache %s: %w", m.path, err)
	}

	idx := &Index{
		LastSynced: doc.LastSynced,
		Releases:   make(map[string]*Release, len(doc.Releases)),
	}

	for key, cached := range doc.Releases {
		parsed, err := semver.StrictNewVersion(cached.Version)
		if err != nil {
			return nil, fmt.Errorf("parsing index cache %s: release %q version %q: %w", m.path, key, cached.Version, err)
		}

		release := &Release{
			Key:       key,
			Version:   parsed,
			Date:      cached.Date,
			Artifacts: make(map[string]Artifact, len(cached.Artifacts)),
		}

		for triple, artifact := range cached.Artifacts {
			release.Artifacts[triple] = Artifact(artifact)
		}

		idx.Releases[key] = release
	}

	return idx, nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path, creating the parent directory when needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
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

	if err := os.Chmod(tempPath, cacheFilePermission); err != nil {
		return fmt.Errorf("setting mode on temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	return nil
}
