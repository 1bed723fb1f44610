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

// zv is a version manager for the Zig compiler toolchain. The same
// binary doubles as the zig/zls shim: hardlinked into bin/ under those
// names it dispatches invocations to the selected installation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sumicare/zv/zv/app"
	"github.com/sumicare/zv/zv/shim"
	"github.com/sumicare/zv/zv/version"
)

var (
	// errSelectorRequired is returned when a subcommand needs a version selector.
	errSelectorRequired = errors.New("version selector required (e.g. 0.13.0, stable, master)")
	// errUnknownCommand is returned for unsupported top-level commands.
	errUnknownCommand = errors.New("unknown command")
	// errUnknownFlag is returned for unrecognized command flags.
	errUnknownFlag = errors.New("unknown flag")

	// toolVersion, commit and date are set via ldflags at build time by
	// the release tooling.
	toolVersion = "1.0.0"
	// commit set via ldflags at build time by the release tooling.
	commit = "none" //nolint:gochecknoglobals // build metadata set via ldflags
	// date set via ldflags at build time by the release tooling.
	date = "unknown" //nolint:gochecknoglobals // build metadata set via ldflags
)

// main is the entry point. Shim dispatch happens before any CLI parsing:
// when the binary is invoked under the zig or zls name it proxies the
// invocation instead of acting as the zv CLI.
func main() {
	if tool := shim.Detect(os.Args[0]); tool != shim.ToolNone {
		os.Exit(runShim(tool, os.Args[1:]))
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runShim dispatches a zig/zls shim invocation and returns the exit code.
func runShim(tool shim.Tool, args []string) int {
	baseDir, err := app.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return shim.ExitCouldNotStart
	}

	dispatcher := shim.New(baseDir)

	var code int

	switch tool {
	case shim.ToolZig:
		code, err = dispatcher.DispatchZig(args)
	case shim.ToolZls:
		code, err = dispatcher.DispatchZls(args)
	default:
		return shim.ExitCouldNotStart
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	return code
}

// run parses command-line arguments and dispatches to the appropriate handler.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]

	switch command {
	case "version", "--version", "-v":
		fmt.Printf("zv %s (commit: %s, built: %s)\n", toolVersion, commit, date)
		return nil

	case "help", "--help", "-h":
		return printUsage()
	}

	baseDir, err := app.BaseDir()
	if err != nil {
		return err
	}

	zvApp, err := app.New(baseDir, toolVersion)
	if err != nil {
		return err
	}

	ctx := context.Background()

	switch command {
	case "use":
		return cmdUse(ctx, zvApp, os.Args[2:])
	case "install", "i":
		return cmdInstall(ctx, zvApp, os.Args[2:])
	case "list", "ls":
		return cmdList(ctx, zvApp, os.Args[2:])
	case "sync":
		return zvApp.Sync(ctx)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

// printUsage displays the CLI usage information to stdout.
func printUsage() error {
	fmt.Print(`zv - Zig toolchain version manager

Usage:
  zv <command> [selector] [options]

Commands:
  use <selector>      Install (if needed) and activate a Zig version
  install <selector>  Install a Zig version without activating it
  list                List installed versions (--all for the full catalog)
  sync                Refresh the release index and mirror list
  version             Print version information
  help                Print this help message

Selectors:
  0.13.0              An exact semantic version
  stable              Latest stable release (cached index)
  latest              Latest stable release (fresh index fetch)
  master              Rolling development build

Options:
  --force             Reinstall over an existing installation
  --force-ziglang     Download from ziglang.org only, skipping mirrors

Environment Variables:
  ZV_DIR                Base directory of the zv layout (default ~/.zv)
  ZV_INDEX_TTL_DAYS     Release index cache lifetime (default 21)
  ZV_MIRRORS_TTL_DAYS   Mirror list cache lifetime (default 21)
  ZV_FETCH_TIMEOUT_SECS Per-request HTTP timeout (default 15)
  ZV_MAX_RETRIES        Mirror attempts per download (default 3)

Shims:
  The zv binary is also deployed as bin/zig and bin/zls. Invoked under
  those names it proxies to the active installation; a leading +selector
  argument (e.g. zig +0.13.0 build) overrides the version per invocation.
`)

	return nil
}

// parseFlags splits a subcommand argument list into the selector and
// recognized option flags.
func parseFlags(args []string) (string, app.Options, error) {
	var (
		selector string
		opts     app.Options
	)

	for _, arg := range args {
		switch {
		case arg == "--force":
			opts.Force = true
		case arg == "--force-ziglang", arg == "--force-ziglang=true":
			opts.ForceCanonical = true
		case arg == "--force-ziglang=false":
			opts.ForceCanonical = false
		case strings.HasPrefix(arg, "-"):
			return "", app.Options{}, fmt.Errorf("%w: %s", errUnknownFlag, arg)
		case selector == "":
			selector = arg
		default:
			return "", app.Options{}, fmt.Errorf("%w: unexpected argument %s", errUnknownCommand, arg)
		}
	}

	if selector == "" {
		return "", app.Options{}, errSelectorRequired
	}

	return selector, opts, nil
}

// cmdUse implements the `use` subcommand: resolve, install when missing,
// activate.
func cmdUse(ctx context.Context, zvApp *app.App, args []string) error {
	selectorStr, opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	sel, err := version.Parse(selectorStr)
	if err != nil {
		return err
	}

	_, err = zvApp.Use(ctx, sel, opts)

	return err
}

// cmdInstall implements the `install` subcommand.
func cmdInstall(ctx context.Context, zvApp *app.App, args []string) error {
	selectorStr, opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	sel, err := version.Parse(selectorStr)
	if err != nil {
		return err
	}

	_, err = zvApp.Install(ctx, sel, opts)

	return err
}

// cmdList implements the `list` subcommand. With --all it lists every
// version the release index offers instead of the installed ones.
func cmdList(ctx context.Context, zvApp *app.App, args []string) error {
	for _, arg := range args {
		switch arg {
		case "--all", "-a":
			return cmdListRemote(ctx, zvApp)
		default:
			return fmt.Errorf("%w: %s", errUnknownFlag, arg)
		}
	}

	installs, err := zvApp.List()
	if err != nil {
		return err
	}

	if len(installs) == 0 {
		fmt.Println("No Zig versions installed. Run `zv use stable` to get started.")
		return nil
	}

	active := zvApp.Toolchain.ActiveInstall()

	for _, install := range installs {
		marker := " "
		if active != nil && active.Version.Equal(install.Version) {
			marker = "*"
		}

		label := install.Version.String()
		if install.IsMaster {
			label += " (master)"
		}

		fmt.Printf("%s %s\n", marker, label)
	}

	return nil
}

// cmdListRemote prints every version the release index offers.
func cmdListRemote(ctx context.Context, zvApp *app.App) error {
	versions, err := zvApp.ListRemote(ctx)
	if err != nil {
		return err
	}

	for _, v := range versions {
		fmt.Println(v)
	}

	return nil
}
