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

package toolchain

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// sameFile reports whether two paths name the same underlying file, by
// device+inode on Unix and file index+volume on Windows. Canonical-path
// equality alone cannot detect hardlinks.
func sameFile(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)

	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// ensureZvBinary makes sure bin/ holds a current copy of the running zv
// executable and returns its path. When the process already runs from
// that copy (directly, or through a hardlinked shim) nothing is copied.
func (m *Manager) ensureZvBinary() (string, error) {
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating running executable: %w", err)
	}

	dest := filepath.Join(m.binDir, ZvExeName())

	if sameFile(executable, dest) {
		return dest, nil
	}

	if err := copyFileAtomic(executable, dest, 0o755); err != nil {
		return "", fmt.Errorf("installing zv binary into bin: %w", err)
	}

	return dest, nil
}

// deployShim makes bin/<name> dispatch through the zv binary. Hardlinks
// are preferred (PATH lookup on Windows is extension-sensitive), symlinks
// are the fallback, a plain copy the last resort. An existing shim is
// replaced atomically via a sibling temp name.
func deployShim(binDir, name, zvPath string) error {
	target := filepath.Join(binDir, name)

	if sameFile(target, zvPath) {
		return nil
	}

	tempPath := filepath.Join(binDir, "."+name+".tmp")
	os.Remove(tempPath)

	if err := os.Link(zvPath, tempPath); err != nil {
		if err := os.Symlink(zvPath, tempPath); err != nil {
			if err := copyFileAtomic(zvPath, tempPath, 0o755); err != nil {
				return fmt.Errorf("creating shim %s: %w", name, err)
			}
		}
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)

		return fmt.Errorf("replacing shim %s: %w", name, err)
	}

	return nil
}

// copyFileAtomic copies src over dest via a sibling temp file + rename.
func copyFileAtomic(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dest)

	tempFile, err := os.CreateTemp(dir, fmt.Sprintf(".%s.copy-*", filepath.Base(dest)))
	if err != nil {
		return err
	}

	tempPath := tempFile.Name()

	defer func() {
		tempFile.Close()

		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	if _, err := io.Copy(tempFile, in); err != nil {
		return err
	}

	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tempPath, mode); err != nil {
		return err
	}

	return os.Rename(tempPath, dest)
}
