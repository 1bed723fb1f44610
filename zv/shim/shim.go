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

// Package shim implements the dispatch logic that runs when the zv
// binary is invoked under the names zig or zls via a hardlink or symlink
// in bin/.
package shim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sumicare/zv/zv/state"
	"github.com/sumicare/zv/zv/toolchain"
	"github.com/sumicare/zv/zv/version"
)

const (
	// RecursionEnv carries the shim recursion counter across child
	// processes. It is shim-internal and must not be set by users.
	RecursionEnv = "ZV_RECURSION_COUNT"

	// MaxRecursion is the hard bound on shim re-entry before dispatch
	// aborts: exceeding it means the shim is somehow calling itself.
	MaxRecursion = 4

	// ExitCouldNotStart is the distinguished exit code reported when the
	// child process could not be started at all.
	ExitCouldNotStart = 3
)

var (
	// ErrRecursionExceeded signals a shim→zig→shim loop.
	ErrRecursionExceeded = errors.New("shim recursion limit exceeded")
	// ErrNoActiveVersion is returned when no active pointer is set.
	ErrNoActiveVersion = errors.New("no active Zig version set")
	// ErrRollingOverride is returned for +stable / +latest overrides,
	// which would imply a network call inside an inner build.
	ErrRollingOverride = errors.New("stable and latest selectors are not allowed as shim overrides")
	// ErrNotInstalled is returned when the override names an absent installation.
	ErrNotInstalled = errors.New("version not installed")
	// ErrNoZls is returned when no zls executable exists for the active toolchain.
	ErrNoZls = errors.New("no zls executable for the active toolchain")
)

// Tool identifies which shim identity the process was invoked under.
type Tool int

const (
	// ToolNone means the process was invoked under its own name.
	ToolNone Tool = iota
	// ToolZig means the process was invoked as zig.
	ToolZig
	// ToolZls means the process was invoked as zls.
	ToolZls
)

// Detect classifies the invoked name from argv[0]. Shim dispatch happens
// before any CLI parsing.
func Detect(argv0 string) Tool {
	name := strings.TrimSuffix(filepath.Base(strings.ReplaceAll(argv0, `\`, "/")), ".exe")

	switch name {
	case "zig":
		return ToolZig
	case "zls":
		return ToolZls
	default:
		return ToolNone
	}
}

// RecursionCount reads the counter from the environment; missing or
// malformed values count as zero.
func RecursionCount() int {
	raw := os.Getenv(RecursionEnv)
	if raw == "" {
		return 0
	}

	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}

	return count
}

// CheckRecursion enforces the re-entry bound.
func CheckRecursion() error {
	if count := RecursionCount(); count > MaxRecursion {
		return fmt.Errorf("%w: %s=%d", ErrRecursionExceeded, RecursionEnv, count)
	}

	return nil
}

// Runner launches a child with stdio inherited and the given extra
// environment entries, returning its exit code. The default runner execs
// into the child on Unix and spawns+waits on Windows.
type Runner func(path string, args []string, extraEnv []string) (int, error)

// Dispatcher resolves shim invocations to an underlying executable.
type Dispatcher struct {
	// BaseDir is the zv layout root.
	BaseDir string
	// Run launches the selected child; swappable for tests.
	Run Runner
}

// New creates a Dispatcher over a base directory using the platform
// runner.
func New(baseDir string) *Dispatcher {
	return &Dispatcher{BaseDir: baseDir, Run: runChild}
}

// childEnv is the extra environment for a spawned toolchain process: the
// incremented recursion counter.
func childEnv() []string {
	return []string{fmt.Sprintf("%s=%d", RecursionEnv, RecursionCount()+1)}
}

// DispatchZig handles an invocation under the zig name. If the first
// argument begins with "+" it is stripped and parsed as a version
// override; otherwise the active pointer decides. Returns the child's
// exit code.
func (d *Dispatcher) DispatchZig(args []string) (int, error) {
	if err := CheckRecursion(); err != nil {
		return ExitCouldNotStart, err
	}

	var override *version.Selector

	if len(args) > 0 && strings.HasPrefix(args[0], "+") {
		sel, err := version.Parse(strings.TrimPrefix(args[0], "+"))
		if err != nil {
			return ExitCouldNotStart, fmt.Errorf("invalid version override %q: %w", args[0], err)
		}

		override = &sel
		args = args[1:]
	}

	zigPath, err := d.zigForOverride(override)
	if err != nil {
		return ExitCouldNotStart, err
	}

	return d.Run(zigPath, args, childEnv())
}

// zigForOverride maps an optional override selector to a zig executable.
func (d *Dispatcher) zigForOverride(override *version.Selector) (string, error) {
	if override == nil {
		return d.activeZig()
	}

	switch override.Kind {
	case version.KindExact:
		zigPath := filepath.Join(d.BaseDir, "versions", override.Version.String(), toolchain.ZigExeName())
		if _, err := os.Stat(zigPath); err != nil {
			return "", fmt.Errorf("%w: %s (run `zv install %s` first)", ErrNotInstalled, override.Version, override.Version)
		}

		return zigPath, nil

	case version.KindMaster:
		tracked, err := state.ReadMasterVersion(d.BaseDir)
		if err != nil {
			return "", err
		}

		if tracked == nil {
			return "", fmt.Errorf("%w: master (run `zv install master` first)", ErrNotInstalled)
		}

		zigPath := filepath.Join(d.BaseDir, "versions", tracked.String(), toolchain.ZigExeName())
		if _, err := os.Stat(zigPath); err != nil {
			return "", fmt.Errorf("%w: master <%s>", ErrNotInstalled, tracked)
		}

		return zigPath, nil

	default:
		return "", fmt.Errorf("%w: +%s", ErrRollingOverride, override.Kind)
	}
}

// activeZig resolves the active pointer to its zig executable.
func (d *Dispatcher) activeZig() (string, error) {
	cfg, err := state.Load(state.ConfigPath(d.BaseDir))
	if err != nil {
		return "", err
	}

	if cfg.Active == nil {
		return "", fmt.Errorf("%w (run `zv use <version>` first)", ErrNoActiveVersion)
	}

	installDir := filepath.Join(d.BaseDir, "versions", cfg.Active.Version.String())
	if entry, ok := cfg.Install(cfg.Active.Version.String()); ok && entry.Path != "" {
		installDir = entry.Path
	}

	zigPath := filepath.Join(installDir, toolchain.ZigExeName())
	if _, err := os.Stat(zigPath); err != nil {
		return "", fmt.Errorf("%w: active %s has no zig executable at %s", ErrNotInstalled, cfg.Active.Version, installDir)
	}

	return zigPath, nil
}

// DispatchZls handles an invocation under the zls name: it locates a zls
// executable belonging to the active toolchain and dispatches to it.
// Fetching a compatible zls on demand is handled outside the core.
func (d *Dispatcher) DispatchZls(args []string) (int, error) {
	if err := CheckRecursion(); err != nil {
		return ExitCouldNotStart, err
	}

	zigPath, err := d.activeZig()
	if err != nil {
		return ExitCouldNotStart, err
	}

	zlsPath := filepath.Join(filepath.Dir(zigPath), toolchain.ZlsExeName())
	if _, err := os.Stat(zlsPath); err != nil {
		return ExitCouldNotStart, fmt.Errorf("%w at %s", ErrNoZls, filepath.Dir(zigPath))
	}

	return d.Run(zlsPath, args, childEnv())
}
