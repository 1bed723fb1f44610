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

package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func mustVersion(s string) *semver.Version {
	v, err := semver.StrictNewVersion(s)
	Expect(err).NotTo(HaveOccurred())

	return v
}

var _ = Describe("Mirror parsing", func() {
	It("defaults a missing scheme to https", func() {
		m, err := Parse("pkg.machengine.org/zig")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.URL).To(Equal("https://pkg.machengine.org/zig"))
		Expect(m.Layout).To(Equal(LayoutVersioned))
		Expect(m.Rank).To(Equal(1))
	})

	It("rejects non-http schemes", func() {
		_, err := Parse("ftp://mirror.example.com/zig")
		Expect(err).To(HaveOccurred())
	})

	It("assigns the flat layout from the host lookup table", func() {
		m, err := Parse("https://zig.florent.dev")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Layout).To(Equal(LayoutFlat))

		m, err = Parse("https://zigmirror.hryx.net/zig")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Layout).To(Equal(LayoutVersioned))
	})

	It("forms URLs per layout with the source marker", func() {
		v := mustVersion("0.13.0")

		flat := Mirror{URL: "https://zig.florent.dev", Layout: LayoutFlat}
		Expect(flat.DownloadURL(v, "zig-linux-x86_64-0.13.0.tar.xz")).To(
			Equal("https://zig.florent.dev/zig-linux-x86_64-0.13.0.tar.xz?source=zv"))

		versioned := Mirror{URL: "https://pkg.machengine.org/zig", Layout: LayoutVersioned}
		Expect(versioned.DownloadURL(v, "zig-linux-x86_64-0.13.0.tar.xz")).To(
			Equal("https://pkg.machengine.org/zig/0.13.0/zig-linux-x86_64-0.13.0.tar.xz?source=zv"))
	})

	It("recognizes the canonical origin", func() {
		Expect(Canonical().IsCanonical()).To(BeTrue())
		Expect(Canonical().Layout).To(Equal(LayoutVersioned))

		m, err := Parse("https://zigmirror.meox.dev")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.IsCanonical()).To(BeFalse())
	})

	It("skips blank and unparseable lines in a list", func() {
		mirrors := ParseList("https://a.example.com\n\nftp://nope.example.com\n  \nb.example.com\n")
		Expect(mirrors).To(HaveLen(2))
		Expect(mirrors[0].URL).To(Equal("https://a.example.com"))
		Expect(mirrors[1].URL).To(Equal("https://b.example.com"))
	})
})

var _ = Describe("Mirror manager", func() {
	var (
		server    *httptest.Server
		cachePath string
		manager   *Manager
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, r *http.Request) {
			_, _ = writer.Write([]byte("https://a.example.com\nhttps://b.example.com\n")) //nolint:errcheck // test handler
		}))
		cachePath = filepath.Join(GinkgoT().TempDir(), "mirrors.toml")
		manager = NewManager(cachePath)
		manager.MirrorsURL = server.URL
	})

	AfterEach(func() {
		server.Close()
	})

	It("fetches, persists and reloads the list", func() {
		Expect(manager.EnsureLoaded(context.Background(), AlwaysRefresh)).To(Succeed())
		Expect(manager.Mirrors()).To(HaveLen(2))
		Expect(cachePath).To(BeARegularFile())

		fresh := NewManager(cachePath)
		fresh.MirrorsURL = "http://127.0.0.1:0/unreachable"
		Expect(fresh.EnsureLoaded(context.Background(), PreferCache)).To(Succeed())
		Expect(fresh.Mirrors()).To(HaveLen(2))
	})

	It("OnlyCache fails when no cache exists", func() {
		err := manager.EnsureLoaded(context.Background(), OnlyCache)
		Expect(err).To(MatchError(ErrCacheNotFound))
	})

	It("orders by descending rank and keeps rank session-local", func() {
		Expect(manager.EnsureLoaded(context.Background(), AlwaysRefresh)).To(Succeed())

		manager.ReportSuccess("https://b.example.com")
		manager.ReportFailure("https://a.example.com")

		ranked := manager.Ranked()
		Expect(ranked[0].URL).To(Equal("https://b.example.com"))
		Expect(ranked[0].Rank).To(Equal(2))
		Expect(ranked[1].Rank).To(Equal(0))

		// Ranks reset on reload: they are never persisted.
		fresh := NewManager(cachePath)
		Expect(fresh.EnsureLoaded(context.Background(), OnlyCache)).To(Succeed())
		for _, m := range fresh.Mirrors() {
			Expect(m.Rank).To(Equal(1))
		}
	})
})
