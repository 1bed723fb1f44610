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

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// errBadTripleKey is returned when an "arch-os" key cannot be split.
	errBadTripleKey = errors.New("invalid target triple key")
	// errHostArchNotSupported is returned when the host architecture has no Zig release name.
	errHostArchNotSupported = errors.New("host architecture not supported")
	// errHostOSNotSupported is returned when the host OS has no Zig release name.
	errHostOSNotSupported = errors.New("host OS not supported")
)

// Triple identifies a release platform as Zig names it, e.g. x86_64-linux.
type Triple struct {
	Arch string
	OS   string
}

// ParseTriple parses an "arch-os" key into a Triple.
func ParseTriple(key string) (Triple, error) {
	arch, os, found := strings.Cut(key, "-")
	if !found || arch == "" || os == "" {
		return Triple{}, fmt.Errorf("%w: %q", errBadTripleKey, key)
	}

	return Triple{Arch: arch, OS: os}, nil
}

// Key returns the "arch-os" form used to key index artifacts.
func (t Triple) Key() string {
	return t.Arch + "-" + t.OS
}

// String returns the same form as Key.
func (t Triple) String() string {
	return t.Key()
}

// HostTriple maps the running platform to the triple Zig releases use.
func HostTriple() (Triple, error) {
	return tripleFor(runtime.GOOS, runtime.GOARCH)
}

// tripleFor maps a GOOS/GOARCH pair to Zig's release naming.
func tripleFor(goos, goarch string) (Triple, error) {
	var arch string

	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "x86"
	case "arm":
		arch = "arm"
	case "riscv64":
		arch = "riscv64"
	case "ppc64":
		arch = "powerpc64"
	case "ppc64le":
		arch = "powerpc64le"
	case "s390x":
		arch = "s390x"
	case "loong64":
		arch = "loongarch64"
	default:
		return Triple{}, fmt.Errorf("%w: %s", errHostArchNotSupported, goarch)
	}

	var osName string

	switch goos {
	case "linux":
		osName = "linux"
	case "darwin":
		osName = "macos"
	case "windows":
		osName = "windows"
	case "freebsd":
		osName = "freebsd"
	case "netbsd":
		osName = "netbsd"
	default:
		return Triple{}, fmt.Errorf("%w: %s", errHostOSNotSupported, goos)
	}

	return Triple{Arch: arch, OS: osName}, nil
}

// TarballName returns the release artifact name for a version on the given
// triple: zig-<os>-<arch>-<version>.<ext>, where the extension is zip on
// Windows and tar.xz everywhere else.
func TarballName(v *semver.Version, triple Triple) string {
	ext := "tar.xz"
	if triple.OS == "windows" {
		ext = "zip"
	}

	return fmt.Sprintf("zig-%s-%s-%s.%s", triple.OS, triple.Arch, v.String(), ext)
}

// TarballExt reports the archive extension of a tarball name, or an empty
// string when the name is not a recognized Zig release artifact.
func TarballExt(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.xz"):
		return "tar.xz"
	case strings.HasSuffix(name, ".zip"):
		return "zip"
	default:
		return ""
	}
}
