package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PartialSuffix marks a study directory that is still being filled.
	PartialSuffix = ".partial"

	tempFilePattern = ".*.tmp"
	fileMarker      = "file=/"

	// maxQueryNameLen bounds the query part kept in a fallback file name;
	// longer queries are replaced by a digest.
	maxQueryNameLen = 96
)

// ErrFileTooLarge is returned by CopyFile when the source exceeds the size limit.
var ErrFileTooLarge = errors.New("file size exceeds limit")

// FileStorage lays out studies under a cache root directory.
type FileStorage struct {
	root string
}

// NewFileStorage creates a new FileStorage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{root: filepath.Clean(dir)}
}

// Root returns the cache root directory.
func (s *FileStorage) Root() string {
	return s.root
}

// StudyDir returns the final directory for a study: <root>/<label>.<studyID>.
func (s *FileStorage) StudyDir(label, studyID string) string {
	return filepath.Join(s.root, sanitizeName(label)+"."+sanitizeName(studyID))
}

// StagingDir returns the working directory used while finalDir is being filled.
func StagingDir(finalDir string) string {
	return finalDir + PartialSuffix
}

// DestinationPath derives where a file fetched from sourceURL lands inside
// dir. The part of the URL after "file=/" becomes the relative path, upper
// cased. URLs without the marker fall back to their path component, with the
// query folded into the last segment so WADO-style URLs that differ only in
// their parameters stay distinct.
func DestinationPath(dir, sourceURL string) string {
	_, rel, found := strings.Cut(sourceURL, fileMarker)
	var query string
	if !found {
		rel, query = urlPath(sourceURL)
	}

	parts := strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' })
	if q := queryName(query); q != "" {
		if len(parts) == 0 {
			parts = append(parts, q)
		} else {
			parts[len(parts)-1] += "_" + q
		}
	}

	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, dir)
	for _, p := range parts {
		if p == "." || p == ".." {
			continue
		}
		clean = append(clean, strings.ToUpper(p))
	}
	return filepath.Join(clean...)
}

// urlPath splits raw into its path and query, dropping scheme, host and fragment.
func urlPath(raw string) (path, query string) {
	rest := raw
	if _, after, ok := strings.Cut(rest, "://"); ok {
		rest = after
		if i := strings.IndexAny(rest, "/?#"); i >= 0 {
			rest = rest[i:]
		} else {
			rest = ""
		}
	}
	if i := strings.Index(rest, "#"); i >= 0 {
		rest = rest[:i]
	}
	path, query, _ = strings.Cut(rest, "?")
	return path, query
}

func queryName(query string) string {
	if query == "" {
		return ""
	}
	if len(query) > maxQueryNameLen {
		sum := sha256.Sum256([]byte(query))
		return hex.EncodeToString(sum[:8])
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, query)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// Exists reports whether path exists.
func (s *FileStorage) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir and its parents. An existing directory is not an error.
func (s *FileStorage) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CopyFile streams src into dst through a uniquely named sibling temp file and
// renames it into place, so dst only ever holds a complete file. Concurrent
// copies to the same dst each finish with a complete file; the last rename
// wins. maxSize <= 0 disables the size limit. Returns the number of bytes
// written.
func (s *FileStorage) CopyFile(src io.Reader, dst string, maxSize int64) (int64, error) {
	if err := s.EnsureDir(filepath.Dir(dst)); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+tempFilePattern)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	tmp := file.Name()

	reader := src
	var limited *io.LimitedReader
	if maxSize > 0 {
		limited = &io.LimitedReader{R: src, N: maxSize + 1}
		reader = limited
	}

	n, err := io.Copy(file, reader)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("save file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("close file: %w", closeErr)
	}
	if limited != nil && limited.N <= 0 {
		os.Remove(tmp)
		return n, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, maxSize)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("rename file: %w", err)
	}
	return n, nil
}

// Publish atomically renames the staging directory to its final name.
func (s *FileStorage) Publish(stagingDir, finalDir string) error {
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return fmt.Errorf("publish %s: %w", finalDir, err)
	}
	return nil
}
