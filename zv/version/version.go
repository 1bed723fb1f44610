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

// Package version models user-facing Zig version selectors, resolved
// versions and target triples.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
)

var (
	// ErrParse is returned when a selector string cannot be parsed.
	ErrParse = errors.New("invalid version selector")
	// errStablePrerelease is returned when stable@ carries a pre-release or build suffix.
	errStablePrerelease = errors.New("stable@<version> only accepts stable versions")
	// errUnknownPrefix is returned for an unrecognized @-prefix.
	errUnknownPrefix = errors.New("invalid version prefix")
)

// Kind identifies the selector variant. The declaration order defines the
// cross-variant ordering: Exact < Stable < Latest < Master.
type Kind int

const (
	// KindExact selects one concrete semantic version.
	KindExact Kind = iota
	// KindStable selects the latest non-prerelease release from the cached index.
	KindStable
	// KindLatest selects the latest non-prerelease release after a fresh index fetch.
	KindLatest
	// KindMaster selects the rolling development build.
	KindMaster
)

// String returns the selector keyword for the kind.
func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindStable:
		return "stable"
	case KindLatest:
		return "latest"
	case KindMaster:
		return "master"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selector is a user-facing reference to a Zig release. The rolling kinds
// (Stable, Latest, Master) carry a nil Version until resolution; Exact always
// carries one. Two selectors with equal inner versions but different kinds are
// never equal.
type Selector struct {
	Kind    Kind
	Version *semver.Version
}

// Parse parses a selector string. Recognized forms, case-sensitive:
//
//	master | stable | latest
//	<digits>(.<digits>(.<digits>)?)?(-pre)?(+build)?
//	stable@<semver> | master@<semver> | latest@<semver>
func Parse(input string) (Selector, error) {
	switch input {
	case "master":
		return Selector{Kind: KindMaster}, nil
	case "stable":
		return Selector{Kind: KindStable}, nil
	case "latest":
		return Selector{Kind: KindLatest}, nil
	}

	if prefix, rest, found := strings.Cut(input, "@"); found {
		parsed, err := parseNormalized(rest)
		if err != nil {
			return Selector{}, err
		}

		switch prefix {
		case "stable":
			if parsed.Prerelease() != "" || parsed.Metadata() != "" {
				return Selector{}, fmt.Errorf("%w: %q appears to be a pre-release or dev build", errStablePrerelease, rest)
			}

			return Selector{Kind: KindStable, Version: parsed}, nil
		case "master":
			return Selector{Kind: KindMaster, Version: parsed}, nil
		case "latest":
			return Selector{Kind: KindLatest, Version: parsed}, nil
		default:
			return Selector{}, fmt.Errorf("%w: %s", errUnknownPrefix, prefix)
		}
	}

	if input == "" || input[0] < '0' || input[0] > '9' {
		return Selector{}, fmt.Errorf("%w: %q", ErrParse, input)
	}

	parsed, err := parseNormalized(input)
	if err != nil {
		return Selector{}, err
	}

	return Selector{Kind: KindExact, Version: parsed}, nil
}

// parseNormalized parses a version string, padding a missing minor or patch
// component with zeros before any pre-release or build suffix, so that
// "1.2-dev.3" parses as "1.2.0-dev.3".
func parseNormalized(input string) (*semver.Version, error) {
	core := input
	suffix := ""

	if idx := strings.IndexAny(input, "-+"); idx >= 0 {
		core, suffix = input[:idx], input[idx:]
	}

	switch strings.Count(core, ".") {
	case 0:
		core += ".0.0"
	case 1:
		core += ".0"
	}

	parsed, err := semver.StrictNewVersion(core + suffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, input, err)
	}

	return parsed, nil
}

// String renders the selector in a form that reparses to an equal value:
// "1.2.3" for Exact, the bare keyword for an unresolved rolling selector and
// "master@0.14.0" style for a resolved one.
func (s Selector) String() string {
	if s.Kind == KindExact {
		if s.Version == nil {
			return "exact <version: unknown>"
		}

		return s.Version.String()
	}

	if s.Version == nil {
		return s.Kind.String()
	}

	return s.Kind.String() + "@" + s.Version.String()
}

// IsResolved reports whether the selector carries a concrete version.
func (s Selector) IsResolved() bool {
	return s.Version != nil
}

// Equal reports variant-sensitive equality: a rolling selector never equals
// an Exact one even when the inner versions match.
func (s Selector) Equal(other Selector) bool {
	if s.Kind != other.Kind {
		return false
	}

	if s.Version == nil || other.Version == nil {
		return s.Version == nil && other.Version == nil
	}

	return s.Version.Equal(other.Version)
}

// Compare orders selectors: Exact < Stable < Latest < Master across kinds,
// semver order within a kind. A nil version sorts before any concrete one.
func (s Selector) Compare(other Selector) int {
	if s.Kind != other.Kind {
		if s.Kind < other.Kind {
			return -1
		}

		return 1
	}

	switch {
	case s.Version == nil && other.Version == nil:
		return 0
	case s.Version == nil:
		return -1
	case other.Version == nil:
		return 1
	default:
		return s.Version.Compare(other.Version)
	}
}

// Dedup removes duplicate selectors and reduces Stable and Latest selectors
// that are shadowed by an Exact selector with the same inner version (Master
// selectors are kept), so that
// [Stable(v), Latest(v), Exact(v)] reduces to [Exact(v)] in any order.
// Relative order of the survivors is preserved.
func Dedup(selectors []Selector) []Selector {
	unique := lo.UniqBy(selectors, func(s Selector) string {
		return s.String()
	})

	exact := lo.Filter(unique, func(s Selector, _ int) bool {
		return s.Kind == KindExact && s.Version != nil
	})

	return lo.Filter(unique, func(s Selector, _ int) bool {
		if s.Kind != KindStable && s.Kind != KindLatest {
			return true
		}

		if s.Version == nil {
			return true
		}

		return !lo.SomeBy(exact, func(e Selector) bool {
			return e.Version.Equal(s.Version)
		})
	})
}
