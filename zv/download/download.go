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

// Package download streams release artifacts from ranked mirrors with
// retry, verifying size, SHA-256 and the detached minisign signature
// before anything reaches the downloads cache.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"aead.dev/minisign"
	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/sumicare/zv/zv/fetch"
	"github.com/sumicare/zv/zv/index"
	"github.com/sumicare/zv/zv/mirror"
)

const (
	// DefaultMaxRetries bounds the total mirror attempts when
	// ZV_MAX_RETRIES is unset. The canonical origin is always tried on
	// top of this budget.
	DefaultMaxRetries = 3

	// copyChunkSize is the streaming read size.
	copyChunkSize = 64 * 1024

	// progressInterval throttles progress updates.
	progressInterval = 250 * time.Millisecond

	// stallFactor scales the request timeout into the stall threshold.
	stallFactor = 4
)

var (
	// ErrIntegrity is an artifact integrity failure at the signature
	// stage: an invalid signature or a trusted-comment mismatch. Never
	// retried against other mirrors. Size and checksum mismatches are
	// transient (errSizeMismatch, errChecksumMismatch).
	ErrIntegrity = errors.New("artifact integrity failure")

	// ErrAllSourcesFailed is returned when every mirror and the
	// canonical origin failed with transient errors.
	ErrAllSourcesFailed = errors.New("download failed from all sources")

	// errUnexpectedStatus is a transient per-mirror HTTP failure.
	errUnexpectedStatus = errors.New("unexpected HTTP status")
	// errSizeMismatch is a transient per-mirror truncation failure.
	errSizeMismatch = errors.New("size mismatch")
	// errChecksumMismatch is a transient per-mirror corruption failure.
	errChecksumMismatch = errors.New("checksum mismatch")
)

type (
	// Progress receives throttled download progress updates.
	Progress func(downloaded, total uint64)

	// Result names the verified files placed in the downloads cache.
	Result struct {
		TarballPath   string
		SignaturePath string
		// SourceURL is the URL the artifact was actually fetched from.
		SourceURL string
	}

	// Downloader owns the mirror-selection download loop.
	Downloader struct {
		// Mirrors supplies ranked community mirrors; nil means
		// canonical-origin only.
		Mirrors *mirror.Manager
		// ForceCanonical skips mirrors entirely.
		ForceCanonical bool
		// OnProgress, when set, receives throttled progress updates.
		OnProgress Progress

		cacheDir   string
		maxRetries int
		publicKey  minisign.PublicKey
	}
)

// maxRetries returns the total retry budget, honoring ZV_MAX_RETRIES.
func maxRetries() int {
	if raw := os.Getenv("ZV_MAX_RETRIES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}

	return DefaultMaxRetries
}

// New creates a Downloader writing into cacheDir (normally
// <base>/downloads). Mirrors may be nil for canonical-only operation.
func New(cacheDir string, mirrors *mirror.Manager) (*Downloader, error) {
	key, err := zigPublicKey()
	if err != nil {
		return nil, err
	}

	return &Downloader{
		Mirrors:    mirrors,
		cacheDir:   cacheDir,
		maxRetries: maxRetries(),
		publicKey:  key,
	}, nil
}

// WithPublicKey swaps the trust anchor. This is intended for testing
// purposes only; release builds always verify against the embedded key.
func (d *Downloader) WithPublicKey(key minisign.PublicKey) {
	d.publicKey = key
}

// source is one download candidate in the selection loop.
type source struct {
	tarballURL   string
	signatureURL string
	mirrorBase   string
	canonical    bool
}

// sources builds the ordered candidate list: ranked mirrors first (bounded
// by the retry budget), the canonical origin always last.
func (d *Downloader) sources(v *semver.Version, tarballName string, artifact index.Artifact) []source {
	var list []source

	if !d.ForceCanonical && d.Mirrors != nil {
		for _, m := range d.Mirrors.Ranked() {
			if len(list) >= d.maxRetries {
				break
			}

			tarballURL := m.DownloadURL(v, tarballName)
			list = append(list, source{
				tarballURL:   tarballURL,
				signatureURL: tarballURL + ".minisig",
				mirrorBase:   m.URL,
			})
		}
	}

	list = append(list, source{
		tarballURL:   artifact.Tarball,
		signatureURL: artifact.Tarball + ".minisig",
		canonical:    true,
	})

	return list
}

// Fetch downloads and fully verifies one artifact, returning the paths of
// the verified tarball and signature in the downloads cache.
//
// Transient failures (non-200 statuses, connect errors, timeouts, stalls,
// size or checksum mismatches) rotate to the next mirror and demote the
// failing one. A signature failure is fatal: it means corruption or
// tampering, and no other mirror is tried for the same file.
func (d *Downloader) Fetch(ctx context.Context, v *semver.Version, tarballName string, artifact index.Artifact) (*Result, error) {
	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating downloads cache: %w", err)
	}

	finalTarball := filepath.Join(d.cacheDir, tarballName)
	finalSignature := finalTarball + ".minisig"

	var transientErrs error

	for _, src := range d.sources(v, tarballName, artifact) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		tempPath, err := d.attempt(ctx, src.tarballURL, artifact)
		if err != nil {
			// A stall cancels only the attempt's own context; only a
			// cancelled caller context aborts the loop.
			if ctx.Err() != nil {
				return nil, err
			}

			logrus.WithFields(logrus.Fields{
				"url": src.tarballURL,
			}).WithError(err).Warn("transient download failure, rotating mirror")

			if src.mirrorBase != "" && d.Mirrors != nil {
				d.Mirrors.ReportFailure(src.mirrorBase)
			}

			transientErrs = multierr.Append(transientErrs, fmt.Errorf("%s: %w", src.tarballURL, err))

			continue
		}

		// The signature stage is the integrity gate: any failure past
		// this point is fatal for the whole install attempt.
		rawSignature, err := fetchSignature(ctx, src.signatureURL)
		if err != nil {
			os.Remove(tempPath)

			return nil, fmt.Errorf("%w: fetching signature from %s: %v", ErrIntegrity, src.signatureURL, err)
		}

		if err := verifySignature(d.publicKey, tarballName, tempPath, rawSignature); err != nil {
			os.Remove(tempPath)

			return nil, err
		}

		if err := os.WriteFile(finalSignature, rawSignature, 0o644); err != nil {
			os.Remove(tempPath)

			return nil, fmt.Errorf("writing signature file: %w", err)
		}

		if err := os.Rename(tempPath, finalTarball); err != nil {
			os.Remove(tempPath)

			return nil, fmt.Errorf("moving verified tarball into place: %w", err)
		}

		if src.mirrorBase != "" && d.Mirrors != nil {
			d.Mirrors.ReportSuccess(src.mirrorBase)
		}

		return &Result{
			TarballPath:   finalTarball,
			SignaturePath: finalSignature,
			SourceURL:     src.tarballURL,
		}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrAllSourcesFailed, transientErrs)
}

// attempt downloads one URL into a sibling temp file, verifying size and
// SHA-256 incrementally. It returns the temp path on success; all its
// errors are transient from the selection loop's point of view.
func (d *Downloader) attempt(ctx context.Context, url string, artifact index.Artifact) (string, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A stalled body cancels the request; each received chunk pushes the
	// deadline out again.
	stallThreshold := stallFactor * fetch.Timeout()
	stallTimer := time.AfterFunc(stallThreshold, cancel)
	defer stallTimer.Stop()

	resp, err := fetch.Get(attemptCtx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Proceed to streaming consumption.
	default:
		// 404, 429 and 5xx mean a mirror without the file or one under
		// load; other 4xx are equally useless to insist on.
		return "", fmt.Errorf("%w %d", errUnexpectedStatus, resp.StatusCode)
	}

	tempFile, err := os.CreateTemp(d.cacheDir, ".download.tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := tempFile.Name()

	cleanup := func() {
		tempFile.Close()
		os.Remove(tempPath)
	}

	hasher := sha256.New()
	buf := make([]byte, copyChunkSize)

	var downloaded uint64

	lastProgress := time.Now()

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			stallTimer.Reset(stallThreshold)

			if _, err := tempFile.Write(buf[:n]); err != nil {
				cleanup()

				return "", fmt.Errorf("writing %s: %w", tempPath, err)
			}

			hasher.Write(buf[:n])
			downloaded += uint64(n)

			if d.OnProgress != nil && time.Since(lastProgress) >= progressInterval {
				d.OnProgress(downloaded, artifact.Size)
				lastProgress = time.Now()
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			cleanup()

			if ctx.Err() != nil {
				// Cancellation from above, not a stall.
				return "", ctx.Err()
			}

			return "", fmt.Errorf("reading response body: %w", readErr)
		}
	}

	if d.OnProgress != nil {
		d.OnProgress(downloaded, artifact.Size)
	}

	if err := tempFile.Sync(); err != nil {
		cleanup()

		return "", fmt.Errorf("flushing %s: %w", tempPath, err)
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)

		return "", fmt.Errorf("closing %s: %w", tempPath, err)
	}

	if artifact.Size > 0 && downloaded != artifact.Size {
		os.Remove(tempPath)

		return "", fmt.Errorf("%w: got %d bytes, want %d", errSizeMismatch, downloaded, artifact.Size)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if expected := strings.ToLower(strings.TrimSpace(artifact.Shasum)); expected != "" && sum != expected {
		os.Remove(tempPath)

		return "", fmt.Errorf("%w: got %s, want %s", errChecksumMismatch, sum, expected)
	}

	return tempPath, nil
}

// fetchSignature downloads the small detached signature file.
func fetchSignature(ctx context.Context, url string) ([]byte, error) {
	body, err := fetch.GetString(ctx, url)
	if err != nil {
		return nil, err
	}

	return []byte(body), nil
}
