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

package mirror

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"

	"github.com/sumicare/zv/zv/fetch"
)

const (
	// ListURL is the canonical community mirror list endpoint.
	ListURL = "https://ziglang.org/download/community-mirrors.txt"

	// DefaultTTLDays is the cache lifetime applied when ZV_MIRRORS_TTL_DAYS is unset.
	DefaultTTLDays = 21

	// cacheFilePermission is the mode for the persisted mirror list.
	cacheFilePermission os.FileMode = 0o644
)

// ErrCacheNotFound is returned by the OnlyCache strategy when no cached
// mirror list exists on disk.
var ErrCacheNotFound = errors.New("mirror cache not found")

// Strategy mirrors the index package's cache strategies for the mirror
// list, which has an independent TTL.
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
	// cacheMirror is the TOML form of one mirror. Rank is session-local
	// and deliberately not persisted.
	cacheMirror struct {
		URL    string `toml:"url"`
		Layout string `toml:"layout"`
	}

	// cacheList is the persisted form of mirrors.toml.
	cacheList struct {
		LastSynced time.Time     `toml:"last_synced"`
		Mirrors    []cacheMirror `toml:"mirrors"`
	}

	// Manager owns the mirror list and its session-local ranking.
	Manager struct {
		// MirrorsURL is the list endpoint; overridable for testing.
		MirrorsURL string

		path       string
		ttl        time.Duration
		mirrors    []Mirror
		lastSynced time.Time
		rng        *rand.Rand
	}
)

// TTL returns the mirror cache lifetime, honoring ZV_MIRRORS_TTL_DAYS.
func TTL() time.Duration {
	if raw := os.Getenv("ZV_MIRRORS_TTL_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days >= 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}

	return DefaultTTLDays * 24 * time.Hour
}

// NewManager creates a Manager caching at path (normally
// <base>/mirrors.toml).
func NewManager(path string) *Manager {
	return &Manager{
		MirrorsURL: ListURL,
		path:       path,
		ttl:        TTL(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // tiebreak only
	}
}

// NewStatic creates a Manager over a fixed mirror list, bypassing cache
// and network entirely.
func NewStatic(mirrors []Mirror) *Manager {
	return &Manager{
		MirrorsURL: ListURL,
		ttl:        TTL(),
		mirrors:    mirrors,
		lastSynced: time.Now().UTC(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // tiebreak only
	}
}

// Mirrors returns the loaded mirror list.
func (m *Manager) Mirrors() []Mirror {
	return m.mirrors
}

// EnsureLoaded loads the mirror list according to the strategy.
func (m *Manager) EnsureLoaded(ctx context.Context, strategy Strategy) error {
	switch strategy {
	case AlwaysRefresh:
		return m.Refresh(ctx)

	case PreferCache:
		if err := m.loadCache(); err == nil {
			return nil
		}

		return m.Refresh(ctx)

	case RespectTTL:
		if err := m.loadCache(); err == nil && !m.isExpired() {
			return nil
		}

		return m.Refresh(ctx)

	case OnlyCache:
		if err := m.loadCache(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrCacheNotFound, m.path)
			}

			return err
		}

		return nil
	}

	return nil
}

// Refresh fetches the plain-text list, parses it permissively and persists
// the cache. A failed cache write is logged, not fatal.
func (m *Manager) Refresh(ctx context.Context) error {
	body, err := fetch.GetString(ctx, m.MirrorsURL)
	if err != nil {
		return fmt.Errorf("fetching mirror list: %w", err)
	}

	m.mirrors = ParseList(body)
	m.lastSynced = time.Now().UTC()

	if err := m.saveToDisk(); err != nil {
		logrus.WithError(err).Warn("failed to save refreshed mirror list to disk")
	}

	return nil
}

// ParseList parses the one-URL-per-line list, skipping blank and
// unparseable lines with a warning.
func ParseList(body string) []Mirror {
	var mirrors []Mirror

	for _, line := range strings.Split(body, "\n") {
		parsed, err := Parse(line)
		if err != nil {
			if !errors.Is(err, errEmptyMirrorLine) {
				logrus.WithField("line", strings.TrimSpace(line)).WithError(err).Warn("skipping unparseable mirror line")
			}

			continue
		}

		mirrors = append(mirrors, parsed)
	}

	return mirrors
}

// Ranked returns the mirrors ordered by descending rank with a random
// tiebreak among equals. The canonical origin is not included; callers
// append it as the final fallback.
func (m *Manager) Ranked() []Mirror {
	ranked := make([]Mirror, len(m.mirrors))
	copy(ranked, m.mirrors)

	m.rng.Shuffle(len(ranked), func(i, j int) {
		ranked[i], ranked[j] = ranked[j], ranked[i]
	})

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rank > ranked[j].Rank
	})

	return ranked
}

// ReportSuccess bumps the rank of the mirror with the given base URL.
func (m *Manager) ReportSuccess(baseURL string) {
	m.adjustRank(baseURL, 1)
}

// ReportFailure drops the rank of the mirror with the given base URL.
func (m *Manager) ReportFailure(baseURL string) {
	m.adjustRank(baseURL, -1)
}

// adjustRank applies a session-local rank delta.
func (m *Manager) adjustRank(baseURL string, delta int) {
	for i := range m.mirrors {
		if m.mirrors[i].URL == baseURL {
			m.mirrors[i].Rank += delta
			return
		}
	}
}

// isExpired reports whether the loaded list is older than the TTL.
func (m *Manager) isExpired() bool {
	if m.lastSynced.IsZero() {
		return true
	}

	return time.Since(m.lastSynced) >= m.ttl
}

// saveToDisk persists the list as TOML via a sibling temp file + rename.
func (m *Manager) saveToDisk() error {
	doc := cacheList{
		LastSynced: m.lastSynced,
		Mirrors:    make([]cacheMirror, 0, len(m.mirrors)),
	}

	for _, mir := range m.mirrors {
		doc.Mirrors = append(doc.Mirrors, cacheMirror{URL: mir.URL, Layout: mir.Layout.String()})
	}

	encoded, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding mirror cache: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, fmt.Sprintf(".%s.tmp-*", filepath.Base(m.path)))
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

	if _, err := tempFile.Write(encoded); err != nil {
		return fmt.Errorf("writing %s: %w", tempPath, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, cacheFilePermission); err != nil {
		return fmt.Errorf("setting mode on temp file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", m.path, err)
	}

	return nil
}

// loadCache reads the persisted list, resetting all ranks to 1.
func (m *Manager) loadCache() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("reading mirror cache: %w", err)
	}

	var doc cacheList
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing mirror cache %s: %w", m.path, err)
	}

	mirrors := make([]Mirror, 0, len(doc.Mirrors))
	for _, cached := range doc.Mirrors {
		mirrors = append(mirrors, Mirror{
			URL:    cached.URL,
			Layout: layoutFromString(cached.Layout),
			Rank:   1,
		})
	}

	m.mirrors = mirrors
	m.lastSynced = doc.LastSynced

	return nil
}
