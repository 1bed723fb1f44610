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

// Package mock provides an HTTP server used in tests for simulating the
// release index, the community mirror list and artifact downloads.
package mock

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// Server is a mock release host. It serves the index document at
// /download/index.json, the mirror list at
// /download/community-mirrors.txt and arbitrary registered files at their
// paths. Individual paths can be forced to return an HTTP status to
// simulate failing mirrors.
type Server struct {
	server *httptest.Server

	mu       sync.RWMutex
	index    []byte
	mirrors  []byte
	files    map[string][]byte
	statuses map[string]int
	hits     map[string]int
}

// NewServer creates and starts a mock release host.
func NewServer() *Server {
	srv := &Server{
		files:    make(map[string][]byte),
		statuses: make(map[string]int),
		hits:     make(map[string]int),
	}

	srv.server = httptest.NewServer(http.HandlerFunc(srv.handle))

	return srv
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.server.URL
}

// IndexURL returns the release index endpoint.
func (s *Server) IndexURL() string {
	return s.server.URL + "/download/index.json"
}

// MirrorsURL returns the mirror list endpoint.
func (s *Server) MirrorsURL() string {
	return s.server.URL + "/download/community-mirrors.txt"
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.Close()
}

// SetIndex sets the JSON document served as the release index.
func (s *Server) SetIndex(doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = []byte(doc)
}

// SetMirrors sets the plain-text mirror list.
func (s *Server) SetMirrors(list string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirrors = []byte(list)
}

// AddFile registers a downloadable file at the given path.
func (s *Server) AddFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[path] = content
}

// ForceStatus makes the given path answer with an HTTP status instead of
// its content. Pass 0 to clear.
func (s *Server) ForceStatus(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code == 0 {
		delete(s.statuses, path)
		return
	}

	s.statuses[path] = code
}

// Hits reports how many requests the given path received.
func (s *Server) Hits(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hits[path]
}

// handle routes a request to the registered content.
func (s *Server) handle(writer http.ResponseWriter, request *http.Request) {
	path := request.URL.Path

	s.mu.Lock()
	s.hits[path]++
	forced, isForced := s.statuses[path]
	var body []byte

	switch path {
	case "/download/index.json":
		body = s.index
	case "/download/community-mirrors.txt":
		body = s.mirrors
	default:
		body = s.files[path]
	}
	s.mu.Unlock()

	if isForced {
		writer.WriteHeader(forced)
		return
	}

	if body == nil {
		writer.WriteHeader(http.StatusNotFound)
		return
	}

	_, _ = writer.Write(body) //nolint:errcheck // test server
}
