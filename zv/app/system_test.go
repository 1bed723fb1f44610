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

//go:build !windows

package app

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sumicare/zv/zv/state"
)

var _ = Describe("System zig detection", func() {
	var (
		baseDir string
		zvApp   *App
	)

	// fakeZig writes a shell script reporting the given version.
	fakeZig := func(dir, reported string) {
		script := "#!/bin/sh\necho " + reported + "\n"
		Expect(os.WriteFile(filepath.Join(dir, "zig"), []byte(script), 0o755)).To(Succeed())
	}

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()

		var err error
		zvApp, err = New(baseDir, "1.0.0")
		Expect(err).NotTo(HaveOccurred())
	})

	It("records versions of zig binaries found in PATH", func() {
		pathDir := GinkgoT().TempDir()
		fakeZig(pathDir, "0.11.0")

		GinkgoT().Setenv("PATH", pathDir)

		found, err := zvApp.DetectSystemZig(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))
		Expect(found[0].Version.String()).To(Equal("0.11.0"))
		Expect(found[0].Path).To(Equal(filepath.Join(pathDir, "zig")))

		// Recorded informationally in config.toml; nothing activated.
		cfg, err := state.Load(state.ConfigPath(baseDir))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.SystemDetected).To(Equal([]string{"0.11.0"}))
		Expect(cfg.Active).To(BeNil())
	})

	It("skips the zv bin directory and broken binaries", func() {
		pathDir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(pathDir, "zig"), []byte("#!/bin/sh\necho not-a-version\n"), 0o755)).To(Succeed())

		// A shim in our own bin directory must not count as system zig.
		binDir := filepath.Join(baseDir, "bin")
		fakeZig(binDir, "0.13.0")

		GinkgoT().Setenv("PATH", binDir+string(os.PathListSeparator)+pathDir)

		found, err := zvApp.DetectSystemZig(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeEmpty())
	})

	It("deduplicates identical versions found more than once", func() {
		dirA := GinkgoT().TempDir()
		dirB := GinkgoT().TempDir()
		fakeZig(dirA, "0.12.0")
		fakeZig(dirB, "0.12.0")

		GinkgoT().Setenv("PATH", dirA+string(os.PathListSeparator)+dirB)

		found, err := zvApp.DetectSystemZig(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))
	})
})
