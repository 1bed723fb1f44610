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

// Package mirror fetches, parses and ranks the community mirror list for
// Zig release artifacts.
package mirror

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CanonicalBaseURL is the versioned download root at the canonical origin.
// It is always available as the final fallback when every mirror fails.
const CanonicalBaseURL = "https://ziglang.org/download"

// sourceQuery is appended to artifact requests so mirror operators can
// distinguish zv traffic in their logs.
const sourceQuery = "?source=zv"

var (
	// errUnsupportedScheme is returned for mirror URLs that are not http(s).
	errUnsupportedScheme = errors.New("unsupported mirror scheme")
	// errEmptyMirrorLine is returned for blank list lines.
	errEmptyMirrorLine = errors.New("empty mirror line")
)

// Layout describes how a mirror arranges artifacts under its base URL.
type Layout int

const (
	// LayoutVersioned serves artifacts at {base}/{version}/{tarball}.
	LayoutVersioned Layout = iota
	// LayoutFlat serves artifacts at {base}/{tarball}.
	LayoutFlat
)

// String returns the cache encoding of the layout.
func (l Layout) String() string {
	if l == LayoutFlat {
		return "flat"
	}

	return "versioned"
}

// layoutFromString parses the cache encoding, defaulting to versioned.
func layoutFromString(s string) Layout {
	if s == "flat" {
		return LayoutFlat
	}

	return LayoutVersioned
}

// flatHosts lists known mirrors that use the flat layout. Everything not
// listed here defaults to versioned, matching the canonical origin.
var flatHosts = []string{ //nolint:gochecknoglobals // static lookup table
	"zig.florent.dev",
	"zig.squirl.dev",
}

// Mirror is one HTTP origin for release artifacts. Rank is session-local:
// it starts at 1, grows on successful use and shrinks on failures; it is
// never persisted.
type Mirror struct {
	URL    string
	Layout Layout
	Rank   int
}

// Parse parses one mirror-list line. A missing scheme is treated as
// https://; non-http(s) schemes are rejected.
func Parse(line string) (Mirror, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Mirror{}, errEmptyMirrorLine
	}

	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		if strings.Contains(trimmed, "://") {
			return Mirror{}, fmt.Errorf("%w: %s", errUnsupportedScheme, trimmed)
		}

		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Mirror{}, fmt.Errorf("parsing mirror URL %q: %w", line, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Mirror{}, fmt.Errorf("%w: %s", errUnsupportedScheme, parsed.Scheme)
	}

	if parsed.Host == "" {
		return Mirror{}, fmt.Errorf("parsing mirror URL %q: missing host", line)
	}

	layout := LayoutVersioned
	for _, host := range flatHosts {
		if strings.Contains(parsed.Host, host) {
			layout = LayoutFlat
			break
		}
	}

	return Mirror{
		URL:    strings.TrimRight(parsed.String(), "/"),
		Layout: layout,
		Rank:   1,
	}, nil
}

// DownloadURL forms the artifact URL for this mirror's layout, with the
// source marker query appended.
func (m Mirror) DownloadURL(v *semver.Version, tarball string) string {
	if m.Layout == LayoutFlat {
		return fmt.Sprintf("%s/%s%s", m.URL, tarball, sourceQuery)
	}

	return fmt.Sprintf("%s/%s/%s%s", m.URL, v.String(), tarball, sourceQuery)
}

// Canonical returns the canonical-origin pseudo-mirror used as the final
// fallback in the selection loop.
func Canonical() Mirror {
	return Mirror{URL: CanonicalBaseURL, Layout: LayoutVersioned, Rank: 1}
}

// IsCanonical reports whether the mirror points at the canonical origin.
func (m Mirror) IsCanonical() bool {
	parsed, err := url.Parse(m.URL)
	if err != nil {
		return false
	}

	return strings.HasSuffix(parsed.Host, "ziglang.org")
}
