// Package artifact stores uploaded study files under a configured root.
// Paths handed back are relative, opaque, and safe to persist in a study
// manifest.
package artifact

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/common"
)

// studiesDir is the subdirectory under the root that holds study artifacts.
const studiesDir = "medical_studies"

type Store struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// NewStore prepares the artifact root. The directory is created if missing
// so writes survive process restart from a clean deployment.
func NewStore(root string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "resolving artifact root", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, studiesDir), 0o755); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "creating artifact root", err)
	}
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &Store{root: abs, maxBytes: maxBytes, logger: logger}, nil
}

// Put writes the reader's contents under the root and returns the relative
// path to store in the manifest. The name is prefixed with a unique token so
// concurrent uploads of the same filename never collide.
func (s *Store) Put(originalName string, r io.Reader) (string, int64, error) {
	ext := constants.NormalizeExt(filepath.Ext(originalName))
	if !constants.ExtensionAllowed(ext) {
		return "", 0, common.Errorf(common.KindInvalidInput, "file extension %q is not allowed", ext)
	}

	name := uuid.NewString() + "_" + sanitizeName(originalName)
	rel := path.Join(studiesDir, name)
	dst := filepath.Join(s.root, studiesDir, name)

	tmp, err := os.CreateTemp(filepath.Join(s.root, studiesDir), ".upload-*")
	if err != nil {
		return "", 0, common.NewAppError(common.KindIOFailure, "creating artifact", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op once renamed
	}()

	// Copy one byte past the ceiling so oversize inputs are detectable.
	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, common.NewAppError(common.KindIOFailure, "writing artifact", err)
	}
	if n > s.maxBytes {
		return "", 0, common.Errorf(common.KindInvalidInput, "file exceeds the %d byte upload limit", s.maxBytes)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return "", 0, common.NewAppError(common.KindIOFailure, "storing artifact", err)
	}
	s.logger.Debug("artifact.put", "rel_path", rel, "bytes", n)
	return rel, n, nil
}

// Open returns a readable stream for a manifest entry.
func (s *Store) Open(relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.Errorf(common.KindNotFound, "artifact %q not found", relPath)
	}
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "opening artifact", err)
	}
	return f, nil
}

// Delete removes an artifact. Missing files are reported as NotFound.
func (s *Store) Delete(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return common.Errorf(common.KindNotFound, "artifact %q not found", relPath)
	}
	if err != nil {
		return common.NewAppError(common.KindIOFailure, "deleting artifact", err)
	}
	return nil
}

// resolve maps a relative manifest entry onto the filesystem, refusing
// anything that could escape the root.
func (s *Store) resolve(relPath string) (string, error) {
	if relPath == "" || path.IsAbs(relPath) || filepath.IsAbs(relPath) {
		return "", common.Errorf(common.KindInvalidInput, "invalid artifact path %q", relPath)
	}
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		if seg == ".." {
			return "", common.Errorf(common.KindInvalidInput, "invalid artifact path %q", relPath)
		}
	}
	full := filepath.Join(s.root, filepath.FromSlash(relPath))
	if !strings.HasPrefix(full, s.root+string(os.PathSeparator)) {
		return "", common.Errorf(common.KindInvalidInput, "invalid artifact path %q", relPath)
	}
	return full, nil
}

// sanitizeName keeps the original basename recognizable while stripping
// anything that could carry path or shell semantics.
func sanitizeName(name string) string {
	base := filepath.Base(filepath.ToSlash(name))
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "artifact"
	}
	return out
}
