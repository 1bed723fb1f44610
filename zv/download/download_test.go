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

package download

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"sync/atomic"

	"aead.dev/minisign"
	"github.com/Masterminds/semver/v3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sumicare/zv/zv/index"
	"github.com/sumicare/zv/zv/mirror"
	"github.com/sumicare/zv/zv/mock"
)

const testTarballName = "zig-linux-x86_64-0.13.0.tar.xz"

// signHashed produces a prehashed minisign signature over message, the
// signature form verifySignature checks.
func signHashed(privateKey minisign.PrivateKey, message []byte, trustedComment, untrustedComment string) []byte {
	reader := minisign.NewReader(bytes.NewReader(message))
	_, _ = io.Copy(io.Discard, reader)

	return reader.SignWithComments(privateKey, trustedComment, untrustedComment)
}

var _ = Describe("Downloader", func() {
	var (
		server     *mock.Server
		cacheDir   string
		downloader *Downloader
		publicKey  minisign.PublicKey
		privateKey minisign.PrivateKey
		tarball    []byte
		signature  []byte
		artifact   index.Artifact
		v          *semver.Version
		ctx        context.Context
	)

	canonicalPath := "/download/0.13.0/" + testTarballName

	BeforeEach(func() {
		var err error
		publicKey, privateKey, err = minisign.GenerateKey(rand.Reader)
		Expect(err).NotTo(HaveOccurred())

		tarball = []byte("not really xz but good enough for hashing purposes")
		signature = signHashed(privateKey, tarball,
			"timestamp:1718000000\tfile:"+testTarballName+"\thashed",
			"timestamp:1718000000\tfile:"+testTarballName+"\thashed")

		sum := sha256.Sum256(tarball)

		server = mock.NewServer()
		server.AddFile(canonicalPath, tarball)
		server.AddFile(canonicalPath+".minisig", signature)

		artifact = index.Artifact{
			Tarball: server.URL() + canonicalPath,
			Shasum:  hex.EncodeToString(sum[:]),
			Size:    uint64(len(tarball)),
		}

		v, err = semver.StrictNewVersion("0.13.0")
		Expect(err).NotTo(HaveOccurred())

		cacheDir = GinkgoT().TempDir()
		downloader, err = New(cacheDir, nil)
		Expect(err).NotTo(HaveOccurred())
		downloader.WithPublicKey(publicKey)

		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	// mirrorFor registers a versioned-layout mirror served by the mock
	// server under the given prefix.
	mirrorFor := func(prefix string) mirror.Mirror {
		m, err := mirror.Parse(server.URL() + prefix)
		Expect(err).NotTo(HaveOccurred())

		return m
	}

	It("downloads and verifies from the canonical origin", func() {
		result, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.TarballPath).To(BeARegularFile())
		Expect(result.SignaturePath).To(BeARegularFile())

		stored, err := os.ReadFile(result.TarballPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(tarball))
	})

	It("rotates over failing mirrors and succeeds from the canonical origin", func() {
		badA := mirrorFor("/badA")
		badB := mirrorFor("/badB")
		server.ForceStatus("/badA/0.13.0/"+testTarballName, http.StatusServiceUnavailable)
		server.ForceStatus("/badB/0.13.0/"+testTarballName, http.StatusServiceUnavailable)

		mirrors := mirror.NewStatic([]mirror.Mirror{badA, badB})

		var err error
		downloader, err = New(cacheDir, mirrors)
		Expect(err).NotTo(HaveOccurred())
		downloader.WithPublicKey(publicKey)

		result, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SourceURL).To(Equal(artifact.Tarball))

		Expect(server.Hits("/badA/0.13.0/" + testTarballName)).To(Equal(1))
		Expect(server.Hits("/badB/0.13.0/" + testTarballName)).To(Equal(1))

		// Failing mirrors were demoted for the rest of the session.
		for _, m := range mirrors.Mirrors() {
			Expect(m.Rank).To(Equal(0))
		}
	})

	It("treats a checksum mismatch as transient and tries the next source", func() {
		corrupt := mirrorFor("/corrupt")
		server.AddFile("/corrupt/0.13.0/"+testTarballName, []byte("tampered bytes of the same length ............!!!!"))

		mirrors := mirror.NewStatic([]mirror.Mirror{corrupt})

		var err error
		downloader, err = New(cacheDir, mirrors)
		Expect(err).NotTo(HaveOccurred())
		downloader.WithPublicKey(publicKey)

		result, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SourceURL).To(Equal(artifact.Tarball))
	})

	It("fails all-transient downloads with the accumulated mirror errors", func() {
		server.ForceStatus(canonicalPath, http.StatusServiceUnavailable)

		_, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).To(MatchError(ErrAllSourcesFailed))
	})

	It("fails fatally on an invalid signature without trying other mirrors", func() {
		good := mirrorFor("/good")
		server.AddFile("/good/0.13.0/"+testTarballName, tarball)

		wrongKey, wrongPriv, err := minisign.GenerateKey(rand.Reader)
		Expect(err).NotTo(HaveOccurred())
		_ = wrongKey

		badSignature := signHashed(wrongPriv, tarball,
			"timestamp:1718000000\tfile:"+testTarballName+"\thashed",
			"timestamp:1718000000\tfile:"+testTarballName+"\thashed")
		server.AddFile("/good/0.13.0/"+testTarballName+".minisig", badSignature)

		mirrors := mirror.NewStatic([]mirror.Mirror{good})

		downloader, err = New(cacheDir, mirrors)
		Expect(err).NotTo(HaveOccurred())
		downloader.WithPublicKey(publicKey)

		_, err = downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).To(MatchError(ErrIntegrity))

		// The canonical origin must not have been consulted: a bad
		// signature is not remedied by another mirror.
		Expect(server.Hits(canonicalPath)).To(BeZero())

		entries, err := os.ReadDir(cacheDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("rejects a signature whose trusted comment names another file", func() {
		otherSignature := signHashed(privateKey, tarball,
			"timestamp:1718000000\tfile:zig-linux-x86_64-0.12.0.tar.xz\thashed",
			"timestamp:1718000000\tfile:zig-linux-x86_64-0.12.0.tar.xz\thashed")
		server.AddFile(canonicalPath+".minisig", otherSignature)

		_, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).To(MatchError(ErrIntegrity))
	})

	It("treats a size mismatch as transient", func() {
		short := artifact
		short.Size = artifact.Size + 10

		_, err := downloader.Fetch(ctx, v, testTarballName, short)
		Expect(err).To(MatchError(ErrAllSourcesFailed))
	})

	It("reports progress while streaming", func() {
		var calls atomic.Int64

		downloader.OnProgress = func(downloaded, total uint64) {
			calls.Add(1)

			Expect(total).To(Equal(artifact.Size))
			Expect(downloaded).To(BeNumerically("<=", total))
		}

		_, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(BeNumerically(">=", 1))
	})

	It("honors force-canonical mode", func() {
		tracked := mirrorFor("/tracked")
		server.AddFile("/tracked/0.13.0/"+testTarballName, tarball)
		server.AddFile("/tracked/0.13.0/"+testTarballName+".minisig", signature)

		mirrors := mirror.NewStatic([]mirror.Mirror{tracked})

		var err error
		downloader, err = New(cacheDir, mirrors)
		Expect(err).NotTo(HaveOccurred())
		downloader.WithPublicKey(publicKey)
		downloader.ForceCanonical = true

		result, err := downloader.Fetch(ctx, v, testTarballName, artifact)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SourceURL).To(Equal(artifact.Tarball))
		Expect(server.Hits("/tracked/0.13.0/" + testTarballName)).To(BeZero())
	})

	It("surfaces cancellation without trying further mirrors", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := downloader.Fetch(cancelled, v, testTarballName, artifact)
		Expect(err).To(MatchError(context.Canceled))
	})
})
