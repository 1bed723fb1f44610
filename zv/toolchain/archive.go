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
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

const (
	// maxArchiveBytes is the maximum total number of bytes that can be written across all extracted archive entries.
	maxArchiveBytes int64 = 4 << 30
	// maxArchiveFileBytes is the maximum size in bytes permitted for a single extracted archive entry.
	maxArchiveFileBytes int64 = 2 << 30
)

var (
	// errInvalidArchiveFilePathTar is returned when a tar entry would escape the extraction directory.
	errInvalidArchiveFilePathTar = errors.New("invalid file path in tar archive")
	// errInvalidArchiveFilePathZip is returned when a zip entry would escape the extraction directory.
	errInvalidArchiveFilePathZip = errors.New("invalid file path in zip archive")
	// errTarEntryTooLarge indicates a single tar entry exceeds the allowed maximum size.
	errTarEntryTooLarge = errors.New("tar entry too large")
	// errZipEntryTooLarge indicates a single zip entry exceeds the allowed maximum size.
	errZipEntryTooLarge = errors.New("zip entry too large")
	// errArchiveSizeLimitExceeded indicates an archive exceeded one of the configured size limits.
	errArchiveSizeLimitExceeded = errors.New("archive size limit exceeded")
)

// stripComponent drops the single top-level directory Zig archives wrap
// their contents in. Entries at the top level itself map to "".
func stripComponent(name string) string {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))

	_, rest, found := strings.Cut(cleaned, "/")
	if !found {
		return ""
	}

	return rest
}

// extractTarEntries extracts all entries from a tar reader to the
// destination directory, stripping one leading path component.
func extractTarEntries(reader *tar.Reader, destDir string) error {
	var totalWritten int64

	cleanDestDir := filepath.Clean(destDir)

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		stripped := stripComponent(header.Name)
		if stripped == "" {
			continue
		}

		target := filepath.Join(cleanDestDir, filepath.Clean(stripped))
		if !isPathWithinDir(target, cleanDestDir) {
			return fmt.Errorf("%w: %s", errInvalidArchiveFilePathTar, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if header.Size > maxArchiveFileBytes {
				return fmt.Errorf("%w: %d bytes", errTarEntryTooLarge, header.Size)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}

			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, header.FileInfo().Mode())
			if err != nil {
				return fmt.Errorf("creating file %s: %w", target, err)
			}

			lw := &limitedArchiveWriter{
				w:        outFile,
				total:    &totalWritten,
				maxTotal: maxArchiveBytes,
				maxFile:  maxArchiveFileBytes,
			}

			if _, err := io.Copy(lw, reader); err != nil {
				outFile.Close()
				return fmt.Errorf("writing file %s: %w", target, err)
			}

			outFile.Close()

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}

			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		}
	}

	return nil
}

// ExtractTarXz extracts a .tar.xz archive to the destination directory,
// stripping the archive's single top-level directory.
func ExtractTarXz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating xz reader: %w", err)
	}

	return extractTarEntries(tar.NewReader(xzr), destDir)
}

// ExtractZip extracts a .zip archive to the destination directory,
// stripping the archive's single top-level directory.
func ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}
	defer reader.Close()

	var totalWritten int64

	cleanDestDir := filepath.Clean(destDir)

	for _, zipFile := range reader.File {
		stripped := stripComponent(zipFile.Name)
		if stripped == "" {
			continue
		}

		target := filepath.Join(cleanDestDir, filepath.Clean(stripped))
		if !isPathWithinDir(target, cleanDestDir) {
			return fmt.Errorf("%w: %s", errInvalidArchiveFilePathZip, zipFile.Name)
		}

		if zipFile.UncompressedSize64 > uint64(maxArchiveFileBytes) {
			return fmt.Errorf("%w: %d bytes", errZipEntryTooLarge, zipFile.UncompressedSize64)
		}

		if zipFile.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}

		rc, err := zipFile.Open()
		if err != nil {
			return fmt.Errorf("opening file in archive: %w", err)
		}

		outFile, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, zipFile.Mode())
		if err != nil {
			rc.Close()
			return fmt.Errorf("creating file %s: %w", target, err)
		}

		lw := &limitedArchiveWriter{
			w:        outFile,
			total:    &totalWritten,
			maxTotal: maxArchiveBytes,
			maxFile:  maxArchiveFileBytes,
		}

		if _, err := io.Copy(lw, rc); err != nil { //nolint:gosec // G110: decompressed size is bounded by limitedArchiveWriter
			outFile.Close()
			rc.Close()

			return fmt.Errorf("writing file %s: %w", target, err)
		}

		outFile.Close()
		rc.Close()
	}

	return nil
}

// limitedArchiveWriter is a writer that limits the total size of the archive.
type limitedArchiveWriter struct {
	w        io.Writer
	total    *int64
	maxTotal int64
	maxFile  int64
	written  int64
}

// Write implements io.Writer.
func (writer *limitedArchiveWriter) Write(buff []byte) (int, error) {
	remainingFile := writer.maxFile - writer.written

	remainingTotal := writer.maxTotal - *writer.total
	if remainingFile <= 0 || remainingTotal <= 0 {
		return 0, errArchiveSizeLimitExceeded
	}

	toWrite := min(min(int64(len(buff)), remainingFile), remainingTotal)

	numBytes, err := writer.w.Write(buff[:toWrite])

	writer.written += int64(numBytes)
	*writer.total += int64(numBytes)

	if err != nil {
		return numBytes, err
	}

	if int64(numBytes) < int64(len(buff)) {
		return numBytes, errArchiveSizeLimitExceeded
	}

	return numBytes, nil
}

// isPathWithinDir checks if the path is within the directory.
func isPathWithinDir(path, dir string) bool {
	cleanDir := filepath.Clean(dir)
	cleanPath := filepath.Clean(path)

	if cleanDir == cleanPath {
		return true
	}

	return strings.HasPrefix(cleanPath, cleanDir+string(os.PathSeparator))
}
