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

package index

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sumicare/zv/zv/version"
)

// sampleIndexJSON mimics the ziglang.org catalog shape, including the
// non-artifact keys a parser must skip and a string-typed size.
const sampleIndexJSON = `{
  "master": {
    "version": "0.15.0-dev.233+abc1234",
    "date": "2025-06-01",
    "docs": "https://ziglang.org/documentation/master/",
    "stdDocs": "https://ziglang.org/documentation/master/std/",
    "src": {"tarball": "https://ziglang.org/builds/zig-0.15.0-dev.233.tar.xz", "shasum": "ab", "size": "1"},
    "x86_64-linux": {
      "tarball": "https://ziglang.org/builds/zig-linux-x86_64-0.15.0-dev.233+abc1234.tar.xz",
      "shasum": "1111111111111111111111111111111111111111111111111111111111111111",
      "size": "50000000"
    }
  },
  "0.13.0": {
    "date": "2024-06-07",
    "notes": "https://ziglang.org/download/0.13.0/release-notes.html",
    "bootstrap": {"tarball": "https://ziglang.org/download/0.13.0/bootstrap.tar.xz", "shasum": "cd", "size": 2},
    "x86_64-linux": {
      "tarball": "https://ziglang.org/download/0.13.0/zig-linux-x86_64-0.13.0.tar.xz",
      "shasum": "2222222222222222222222222222222222222222222222222222222222222222",
      "size": 47000000
    },
    "aarch64-macos": {
      "tarball": "https://ziglang.org/download/0.13.0/zig-macos-aarch64-0.13.0.tar.xz",
      "shasum": "3333333333333333333333333333333333333333333333333333333333333333",
      "size": "44000000"
    }
  },
  "0.12.0": {
    "date": "2024-04-20",
    "x86_64-linux": {
      "tarball": "https://ziglang.org/download/0.12.0/zig-linux-x86_64-0.12.0.tar.xz",
      "shasum": "4444444444444444444444444444444444444444444444444444444444444444",
      "size": 45000000
    }
  },
  "0.14.0-rc1": {
    "date": "2025-01-01",
    "x86_64-linux": {
      "tarball": "https://ziglang.org/download/0.14.0-rc1/zig-linux-x86_64-0.14.0-rc1.tar.xz",
      "shasum": "5555555555555555555555555555555555555555555555555555555555555555",
      "size": 46000000
    }
  }
}`

var _ = Describe("Catalog parsing", func() {
	It("parses releases, skipping documentation and source keys", func() {
		idx, err := ParseJSON([]byte(sampleIndexJSON))
		Expect(err).NotTo(HaveOccurred())
		Expect(idx.Releases).To(HaveLen(4))

		release, ok := idx.Release("0.13.0")
		Expect(ok).To(BeTrue())
		Expect(release.Date).To(Equal("2024-06-07"))
		Expect(release.Version.String()).To(Equal("0.13.0"))
		Expect(release.IsMaster()).To(BeFalse())
		Expect(release.Targets()).To(Equal([]string{"aarch64-macos", "x86_64-linux"}))
	})

	It("tolerates size encoded as string or integer", func() {
		idx, err := ParseJSON([]byte(sampleIndexJSON))
		Expect(err).NotTo(HaveOccurred())

		release, _ := idx.Release("0.13.0")
		linux, ok := release.Artifact(version.Triple{Arch: "x86_64", OS: "linux"})
		Expect(ok).To(BeTrue())
		Expect(linux.Size).To(Equal(uint64(47000000)))

		macos, ok := release.Artifact(version.Triple{Arch: "aarch64", OS: "macos"})
		Expect(ok).To(BeTrue())
		Expect(macos.Size).To(Equal(uint64(44000000)))
	})

	It("resolves the master entry from its version field", func() {
		idx, err := ParseJSON([]byte(sampleIndexJSON))
		Expect(err).NotTo(HaveOccurred())

		master, err := idx.Master()
		Expect(err).NotTo(HaveOccurred())
		Expect(master.IsMaster()).To(BeTrue())
		Expect(master.Version.String()).To(Equal("0.15.0-dev.233+abc1234"))
		Expect(master.Resolved().IsMaster()).To(BeTrue())
	})

	It("rejects a master entry without a version", func() {
		_, err := ParseJSON([]byte(`{"master": {"date": "2025-06-01"}}`))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a release without a date", func() {
		_, err := ParseJSON([]byte(`{"0.13.0": {"x86_64-linux": {"tarball": "t", "shasum": "s", "size": 1}}}`))
		Expect(err).To(HaveOccurred())
	})

	It("rejects documents that are not objects", func() {
		_, err := ParseJSON([]byte(`[1, 2, 3]`))
		Expect(err).To(HaveOccurred())
	})

	It("excludes prereleases from the latest stable query", func() {
		idx, err := ParseJSON([]byte(sampleIndexJSON))
		Expect(err).NotTo(HaveOccurred())

		stable, err := idx.LatestStable()
		Expect(err).NotTo(HaveOccurred())
		Expect(stable.Version.String()).To(Equal("0.13.0"))
	})

	It("lists catalog versions in ascending order without master", func() {
		idx, err := ParseJSON([]byte(sampleIndexJSON))
		Expect(err).NotTo(HaveOccurred())

		versions := idx.Versions()
		Expect(versions).To(HaveLen(3))
		Expect(versions[0].String()).To(Equal("0.12.0"))
		Expect(versions[1].String()).To(Equal("0.13.0"))
		Expect(versions[2].String()).To(Equal("0.14.0-rc1"))
	})

	It("fails the latest stable query when only prereleases exist", func() {
		idx, err := ParseJSON([]byte(`{
			"0.14.0-rc1": {"date": "2025-01-01", "x86_64-linux": {"tarball": "t", "shasum": "s", "size": 1}}
		}`))
		Expect(err).NotTo(HaveOccurred())

		_, err = idx.LatestStable()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Index expiry", func() {
	It("treats a never-synced index as expired", func() {
		idx := &Index{}
		Expect(idx.IsExpired(21 * 24 * time.Hour)).To(BeTrue())
	})

	It("respects the TTL", func() {
		idx := &Index{LastSynced: time.Now().Add(-1 * time.Hour)}
		Expect(idx.IsExpired(2 * time.Hour)).To(BeFalse())
		Expect(idx.IsExpired(30 * time.Minute)).To(BeTrue())
	})
})
