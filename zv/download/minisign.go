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
	"fmt"
	"io"
	"os"
	"strings"

	"aead.dev/minisign"
)

// ZigPublicKey is the canonical Zig release signing key, embedded at build
// time. There is no configurable trust root.
const ZigPublicKey = "RWSGOq2NVecA2UPNdBUZykf1CCb147pkmdtYxgb3Ti+JO/wCYvhbAb/U"

// zigPublicKey parses the embedded key once.
func zigPublicKey() (minisign.PublicKey, error) {
	var key minisign.PublicKey
	if err := key.UnmarshalText([]byte(ZigPublicKey)); err != nil {
		return minisign.PublicKey{}, fmt.Errorf("parsing embedded public key: %w", err)
	}

	return key, nil
}

// verifySignature verifies the detached minisign signature over the file
// at path. The signature's trusted comment must name the expected tarball
// filename. Every failure is an integrity failure: a bad signature means
// corruption or tampering and is never remedied by another mirror.
func verifySignature(key minisign.PublicKey, expectedFilename, path string, rawSignature []byte) error {
	var sig minisign.Signature
	if err := sig.UnmarshalText(rawSignature); err != nil {
		return fmt.Errorf("%w: parsing signature: %v", ErrIntegrity, err)
	}

	if !strings.Contains(sig.TrustedComment, expectedFilename) {
		return fmt.Errorf("%w: trusted comment %q does not name %q", ErrIntegrity, sig.TrustedComment, expectedFilename)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for verification: %w", path, err)
	}
	defer file.Close()

	reader := minisign.NewReader(file)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading %s for verification: %w", path, err)
	}

	if !reader.Verify(key, rawSignature) {
		return fmt.Errorf("%w: signature verification failed for %s", ErrIntegrity, expectedFilename)
	}

	return nil
}
