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

// Package fetch holds the shared HTTP plumbing: a swappable client, the
// per-request timeout knob and small GET helpers used by the index and
// mirror caches.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultTimeoutSecs is the per-request timeout applied when
// ZV_FETCH_TIMEOUT_SECS is unset.
const DefaultTimeoutSecs = 15

// userAgent identifies zv traffic to release hosts.
const userAgent = "zv (github.com/sumicare/zv)"

var (
	// httpClient is the HTTP client used by the package functions.
	// It can be overridden for testing purposes.
	httpClient atomic.Value //nolint:gochecknoglobals // used to lock the client

	// errRequestFailed indicates an HTTP request completed with a non-success status code.
	errRequestFailed = errors.New("request failed")
)

func init() { //nolint:gochecknoinits // used to lock the client
	httpClient.Store(&http.Client{})
}

// Client returns the HTTP client used by the package functions.
func Client() *http.Client {
	if client, ok := httpClient.Load().(*http.Client); ok && client != nil {
		return client
	}

	return &http.Client{}
}

// WithClient sets the HTTP client used by the package functions.
// This is intended for testing purposes only.
func WithClient(client *http.Client) {
	if client == nil {
		client = &http.Client{}
	}

	httpClient.Store(client)
}

// Timeout returns the per-request timeout, honoring ZV_FETCH_TIMEOUT_SECS.
func Timeout() time.Duration {
	if raw := os.Getenv("ZV_FETCH_TIMEOUT_SECS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	return DefaultTimeoutSecs * time.Second
}

// Get issues a GET with the shared client and user agent. The caller owns
// the response body.
func Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}

	return resp, nil
}

// GetString downloads content from URL and returns it as a string. The
// request is bounded by the configured timeout.
func GetString(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout())
	defer cancel()

	resp, err := Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w with status %d for %s", errRequestFailed, resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	return string(body), nil
}
