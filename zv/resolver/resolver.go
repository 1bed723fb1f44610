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

// Package resolver maps user-facing version selectors to concrete,
// indexed releases.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/sumicare/zv/zv/index"
	"github.com/sumicare/zv/zv/version"
)

var (
	// ErrUnknownVersion is returned when a resolved selector does not
	// appear in the release index.
	ErrUnknownVersion = errors.New("version not found in release index")
	// errStableIsPrerelease is returned when stable@<v> names a prerelease entry.
	errStableIsPrerelease = errors.New("stable selector names a prerelease")
)

// Resolver turns selectors into (resolved version, release) pairs,
// consulting the release index with the cache strategy each selector kind
// mandates.
type Resolver struct {
	indexManager *index.Manager
}

// New creates a Resolver over the given index manager.
func New(indexManager *index.Manager) *Resolver {
	return &Resolver{indexManager: indexManager}
}

// Resolve maps a selector to a concrete release. As a side effect the
// index cache may be refreshed, depending on the selector kind:
//
//	Exact          RespectTTL lookup, ErrUnknownVersion on miss
//	Master (bare)  AlwaysRefresh, the index's master entry
//	Stable (bare)  RespectTTL, maximum non-prerelease entry
//	Latest (bare)  AlwaysRefresh, maximum non-prerelease entry
//	master@v, latest@v  treated as Exact(v)
//	stable@v       treated as Exact(v), re-asserting v is a stable release
func (r *Resolver) Resolve(ctx context.Context, sel version.Selector) (version.Resolved, *index.Release, error) {
	switch sel.Kind {
	case version.KindExact:
		return r.resolveExact(ctx, sel.Version)

	case version.KindMaster:
		if sel.Version != nil {
			return r.resolveExact(ctx, sel.Version)
		}

		idx, err := r.indexManager.EnsureLoaded(ctx, index.AlwaysRefresh)
		if err != nil {
			return version.Resolved{}, nil, err
		}

		master, err := idx.Master()
		if err != nil {
			return version.Resolved{}, nil, err
		}

		return version.NewResolvedMaster(master.Version), master, nil

	case version.KindStable:
		if sel.Version != nil {
			resolved, release, err := r.resolveExact(ctx, sel.Version)
			if err != nil {
				return version.Resolved{}, nil, err
			}

			if release.Version.Prerelease() != "" {
				return version.Resolved{}, nil, fmt.Errorf("%w: %s", errStableIsPrerelease, release.Version)
			}

			return resolved, release, nil
		}

		return r.resolveLatestStable(ctx, index.RespectTTL)

	case version.KindLatest:
		if sel.Version != nil {
			return r.resolveExact(ctx, sel.Version)
		}

		return r.resolveLatestStable(ctx, index.AlwaysRefresh)
	}

	return version.Resolved{}, nil, fmt.Errorf("%w: %s", version.ErrParse, sel)
}

// resolveExact looks one concrete version up in the index under RespectTTL.
func (r *Resolver) resolveExact(ctx context.Context, v *semver.Version) (version.Resolved, *index.Release, error) {
	idx, err := r.indexManager.EnsureLoaded(ctx, index.RespectTTL)
	if err != nil {
		return version.Resolved{}, nil, err
	}

	release, ok := idx.Release(v.String())
	if !ok {
		return version.Resolved{}, nil, fmt.Errorf("%w: %s", ErrUnknownVersion, v)
	}

	return version.NewResolved(release.Version), release, nil
}

// resolveLatestStable finds the maximum non-prerelease entry.
func (r *Resolver) resolveLatestStable(ctx context.Context, strategy index.Strategy) (version.Resolved, *index.Release, error) {
	idx, err := r.indexManager.EnsureLoaded(ctx, strategy)
	if err != nil {
		return version.Resolved{}, nil, err
	}

	stable, err := idx.LatestStable()
	if err != nil {
		return version.Resolved{}, nil, err
	}

	return version.NewResolved(stable.Version), stable, nil
}
