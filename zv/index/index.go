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

// Package index fetches, parses and caches the canonical Zig release
// catalog published at ziglang.org.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/sumicare/zv/zv/version"
)

// MasterKey names the rolling build entry in the release catalog.
const MasterKey = "master"

var (
	// errIndexMalformed indicates the index document is not the expected JSON object.
	errIndexMalformed = errors.New("malformed release index")
	// errMasterMissingVersion indicates a master entry without a resolvable version field.
	errMasterMissingVersion = errors.New("master release missing version field")
	// errNoStableRelease is returned when the index holds no non-prerelease release.
	errNoStableRelease = errors.New("no stable release in index")
	// errNoMasterRelease is returned when the index holds no master entry.
	errNoMasterRelease = errors.New("no master release in index")
)

type (
	// Artifact is a single downloadable tarball with its checksum and size.
	Artifact struct {
		// Tarball is the canonical ziglang.org download URL.
		Tarball string
		// Shasum is the lowercase hex SHA-256 of the tarball.
		Shasum string
		// Size is the tarball size in bytes.
		Size uint64
	}

	// Release is one catalog entry: a concrete version plus its
	// per-platform artifacts.
	Release struct {
		// Key is the catalog key this release was parsed from, either
		// MasterKey or the semver string.
		Key string
		// Version is the concrete version; for master entries it comes
		// from the catalog's version field.
		Version *semver.Version
		// Date is the catalog's ISO-8601 release date.
		Date string
		// Artifacts maps target-triple keys to artifacts.
		Artifacts map[string]Artifact
	}

	// Index is the parsed release catalog plus its sync timestamp.
	Index struct {
		Releases   map[string]*Release
		LastSynced time.Time
	}
)

// IsMaster reports whether this release is the rolling build entry.
func (r *Release) IsMaster() bool {
	return r.Key == MasterKey
}

// Resolved converts the release into the resolver's output space.
func (r *Release) Resolved() version.Resolved {
	if r.IsMaster() {
		return version.NewResolvedMaster(r.Version)
	}

	return version.NewResolved(r.Version)
}

// Artifact returns the artifact for a target triple, if published.
func (r *Release) Artifact(triple version.Triple) (Artifact, bool) {
	artifact, ok := r.Artifacts[triple.Key()]

	return artifact, ok
}

// Targets returns the sorted target-triple keys this release was built for.
func (r *Release) Targets() []string {
	targets := make([]string, 0, len(r.Artifacts))
	for key := range r.Artifacts {
		targets = append(targets, key)
	}

	sort.Strings(targets)

	return targets
}

// Release returns the catalog entry for a concrete version string.
func (idx *Index) Release(key string) (*Release, bool) {
	release, ok := idx.Releases[key]

	return release, ok
}

// Master returns the rolling build entry.
func (idx *Index) Master() (*Release, error) {
	release, ok := idx.Releases[MasterKey]
	if !ok {
		return nil, errNoMasterRelease
	}

	return release, nil
}

// LatestStable returns the maximum-semver release among the non-master,
// non-prerelease entries.
func (idx *Index) LatestStable() (*Release, error) {
	var best *Release

	for key, release := range idx.Releases {
		if key == MasterKey || release.Version == nil {
			continue
		}

		if release.Version.Prerelease() != "" || strings.Contains(key, "-") {
			continue
		}

		if best == nil || release.Version.GreaterThan(best.Version) {
			best = release
		}
	}

	if best == nil {
		return nil, errNoStableRelease
	}

	return best, nil
}

// Versions returns the non-master catalog versions in ascending semver
// order.
func (idx *Index) Versions() []*semver.Version {
	versions := make([]*semver.Version, 0, len(idx.Releases))

	for key, release := range idx.Releases {
		if key == MasterKey || release.Version == nil {
			continue
		}

		versions = append(versions, release.Version)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].LessThan(versions[j])
	})

	return versions
}

// IsExpired reports whether the cached index is older than the TTL. An
// index that was never synced is always expired.
func (idx *Index) IsExpired(ttl time.Duration) bool {
	if idx.LastSynced.IsZero() {
		return true
	}

	return time.Since(idx.LastSynced) >= ttl
}

// artifactJSON is the wire form of an artifact; size arrives either as a
// decimal string or as an integer.
type artifactJSON struct {
	Tarball string   `json:"tarball"`
	Shasum  string   `json:"shasum"`
	Size    flexSize `json:"size"`
}

// flexSize tolerates both JSON string and number encodings.
type flexSize uint64

// UnmarshalJSON implements json.Unmarshaler.
func (s *flexSize) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)

	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing artifact size %q: %w", raw, err)
	}

	*s = flexSize(parsed)

	return nil
}

// skippedReleaseKey reports catalog keys that are not platform artifacts
// and must be silently ignored when parsing a release.
func skippedReleaseKey(key string) bool {
	switch key {
	case "docs", "stdDocs", "langRef", "notes", "bootstrap", "src":
		return true
	default:
		return false
	}
}

// ParseJSON parses the on-the-wire JSON catalog into an Index. Catalog keys
// that are neither MasterKey nor parseable semver strings are skipped, as
// are per-release fields that do not decode as artifacts.
func ParseJSON(data []byte) (*Index, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errIndexMalformed, err)
	}

	releases := make(map[string]*Release, len(raw))

	for key, rawRelease := range raw {
		release, err := parseRelease(key, rawRelease)
		if err != nil {
			return nil, err
		}

		if release != nil {
			releases[key] = release
		}
	}

	return &Index{Releases: releases}, nil
}

// parseRelease parses one catalog entry. Returns (nil, nil) for entries
// whose key is not a usable version.
func parseRelease(key string, data json.RawMessage) (*Release, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: release %q: %v", errIndexMalformed, key, err)
	}

	release := &Release{
		Key:       key,
		Artifacts: make(map[string]Artifact),
	}

	for field, rawValue := range fields {
		switch {
		case field == "date":
			if err := json.Unmarshal(rawValue, &release.Date); err != nil {
				return nil, fmt.Errorf("%w: release %q date: %v", errIndexMalformed, key, err)
			}

		case field == "version":
			var versionStr string
			if err := json.Unmarshal(rawValue, &versionStr); err != nil {
				return nil, fmt.Errorf("%w: release %q version: %v", errIndexMalformed, key, err)
			}

			parsed, err := semver.StrictNewVersion(versionStr)
			if err != nil {
				return nil, fmt.Errorf("%w: release %q version %q: %v", errIndexMalformed, key, versionStr, err)
			}

			release.Version = parsed

		case skippedReleaseKey(field):
			// Documentation and source entries, not platform artifacts.

		default:
			var artifact artifactJSON
			if err := json.Unmarshal(rawValue, &artifact); err != nil || artifact.Tarball == "" {
				continue
			}

			release.Artifacts[field] = Artifact{
				Tarball: artifact.Tarball,
				Shasum:  artifact.Shasum,
				Size:    uint64(artifact.Size),
			}
		}
	}

	if release.Date == "" {
		return nil, fmt.Errorf("%w: release %q missing date", errIndexMalformed, key)
	}

	if key == MasterKey {
		if release.Version == nil {
			return nil, fmt.Errorf("%w: %q", errMasterMissingVersion, key)
		}

		return release, nil
	}

	if release.Version == nil {
		parsed, err := semver.StrictNewVersion(key)
		if err != nil {
			// Unknown future catalog entries are ignored rather than fatal.
			return nil, nil
		}

		release.Version = parsed
	}

	return release, nil
}
