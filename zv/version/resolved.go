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

package version

import "github.com/Masterminds/semver/v3"

// Resolved is a version after consultation with the release index. Unlike a
// Selector it always carries a concrete version; the only remaining
// distinction is whether it names a master build.
type Resolved struct {
	version *semver.Version
	master  bool
}

// NewResolved creates a resolved stable-channel version.
func NewResolved(v *semver.Version) Resolved {
	return Resolved{version: v}
}

// NewResolvedMaster creates a resolved master version.
func NewResolvedMaster(v *semver.Version) Resolved {
	return Resolved{version: v, master: true}
}

// Version returns the concrete version.
func (r Resolved) Version() *semver.Version {
	return r.version
}

// IsMaster reports whether this resolution names a master build.
func (r Resolved) IsMaster() bool {
	return r.master
}

// String renders "1.0.0" for release versions and "master <0.15.0-dev.1>"
// for master builds.
func (r Resolved) String() string {
	if r.master {
		return "master <" + r.version.String() + ">"
	}

	return r.version.String()
}

// Selector converts the resolved version back into the selector space,
// preserving the master distinction.
func (r Resolved) Selector() Selector {
	if r.master {
		return Selector{Kind: KindMaster, Version: r.version}
	}

	return Selector{Kind: KindExact, Version: r.version}
}

// Equal reports equality of channel and version.
func (r Resolved) Equal(other Resolved) bool {
	if r.master != other.master {
		return false
	}

	if r.version == nil || other.version == nil {
		return r.version == nil && other.version == nil
	}

	return r.version.Equal(other.version)
}
