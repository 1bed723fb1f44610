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

package resolver

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sumicare/zv/zv/index"
	"github.com/sumicare/zv/zv/mock"
	"github.com/sumicare/zv/zv/version"
)

const resolverIndexJSON = `{
  "master": {
    "version": "0.15.0-dev.233+abc1234",
    "date": "2025-06-01",
    "x86_64-linux": {"tarball": "https://ziglang.org/builds/master.tar.xz", "shasum": "aa", "size": 1}
  },
  "0.13.0": {
    "date": "2024-06-07",
    "x86_64-linux": {"tarball": "https://ziglang.org/download/0.13.0/zig.tar.xz", "shasum": "bb", "size": 2}
  },
  "0.12.0": {
    "date": "2024-04-20",
    "x86_64-linux": {"tarball": "https://ziglang.org/download/0.12.0/zig.tar.xz", "shasum": "cc", "size": 3}
  },
  "0.14.0-rc1": {
    "date": "2025-01-01",
    "x86_64-linux": {"tarball": "https://ziglang.org/download/0.14.0-rc1/zig.tar.xz", "shasum": "dd", "size": 4}
  }
}`

var _ = Describe("Resolver", func() {
	var (
		server   *mock.Server
		manager  *index.Manager
		resolver *Resolver
		ctx      context.Context
	)

	mustSelector := func(input string) version.Selector {
		sel, err := version.Parse(input)
		Expect(err).NotTo(HaveOccurred())

		return sel
	}

	BeforeEach(func() {
		server = mock.NewServer()
		server.SetIndex(resolverIndexJSON)

		manager = index.NewManager(filepath.Join(GinkgoT().TempDir(), "index.toml"))
		manager.IndexURL = server.IndexURL()
		resolver = New(manager)
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	It("resolves an exact version present in the index", func() {
		resolved, release, err := resolver.Resolve(ctx, mustSelector("0.13.0"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.IsMaster()).To(BeFalse())
		Expect(resolved.Version().String()).To(Equal("0.13.0"))
		Expect(release.Key).To(Equal("0.13.0"))
	})

	It("fails with ErrUnknownVersion for an exact version not in the index", func() {
		_, _, err := resolver.Resolve(ctx, mustSelector("0.99.0"))
		Expect(err).To(MatchError(ErrUnknownVersion))
	})

	It("resolves master with a fresh fetch", func() {
		resolved, release, err := resolver.Resolve(ctx, mustSelector("master"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.IsMaster()).To(BeTrue())
		Expect(resolved.Version().String()).To(Equal("0.15.0-dev.233+abc1234"))
		Expect(release.IsMaster()).To(BeTrue())
		Expect(server.Hits("/download/index.json")).To(Equal(1))
	})

	It("resolves stable to the maximum non-prerelease entry", func() {
		resolved, _, err := resolver.Resolve(ctx, mustSelector("stable"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.Version().String()).To(Equal("0.13.0"))
		Expect(resolved.IsMaster()).To(BeFalse())
	})

	It("latest always refetches the index even when cached", func() {
		_, _, err := resolver.Resolve(ctx, mustSelector("stable"))
		Expect(err).NotTo(HaveOccurred())
		firstHits := server.Hits("/download/index.json")

		_, _, err = resolver.Resolve(ctx, mustSelector("latest"))
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Hits("/download/index.json")).To(Equal(firstHits + 1))
	})

	It("stable resolves from a warm cache without a network fetch", func() {
		_, _, err := resolver.Resolve(ctx, mustSelector("stable"))
		Expect(err).NotTo(HaveOccurred())
		hits := server.Hits("/download/index.json")

		_, _, err = resolver.Resolve(ctx, mustSelector("stable"))
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Hits("/download/index.json")).To(Equal(hits))
	})

	It("treats master@v and latest@v as exact lookups", func() {
		resolved, _, err := resolver.Resolve(ctx, mustSelector("master@0.13.0"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.IsMaster()).To(BeFalse())
		Expect(resolved.Version().String()).To(Equal("0.13.0"))

		_, _, err = resolver.Resolve(ctx, mustSelector("latest@0.99.0"))
		Expect(err).To(MatchError(ErrUnknownVersion))
	})

	It("stable@v re-asserts the release is not a prerelease", func() {
		resolved, _, err := resolver.Resolve(ctx, mustSelector("stable@0.12.0"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved.Version().String()).To(Equal("0.12.0"))
	})

	It("never returns an unresolved version", func() {
		for _, input := range []string{"master", "stable", "latest", "0.13.0"} {
			resolved, _, err := resolver.Resolve(ctx, mustSelector(input))
			Expect(err).NotTo(HaveOccurred(), "selector %q", input)
			Expect(resolved.Version()).NotTo(BeNil(), "selector %q", input)
		}
	})
})
