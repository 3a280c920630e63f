package export

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pharmaudit/internal/reports/models"
	id "pharmaudit/pkg/domain"
	dErrors "pharmaudit/pkg/domain-errors"
)

const hashPrefix = "sha256:"

// FileStore keeps artifacts as <dir>/<report_id>.<ext>.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Save renders the report into a temp file and renames it into place, so a
// reader never sees a partial artifact.
func (s *FileStore) Save(r *models.ComplianceReport, format models.Format) (*models.Artifact, error) {
	renderer, err := For(format)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	if err := renderer.Render(cw, r); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	path := s.pathFor(r.ID, format)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("move artifact into place: %w", err)
	}
	committed = true

	return &models.Artifact{
		Path:   path,
		Format: format,
		Size:   cw.n,
		Hash:   hashPrefix + hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Open returns the artifact after re-verifying its hash. A changed file
// fails with CodeIntegrity; a missing one with CodeNotFound.
func (s *FileStore) Open(a *models.Artifact) (*os.File, error) {
	if a == nil || a.Path == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "report has no artifact")
	}
	if err := s.contains(a.Path); err != nil {
		return nil, err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dErrors.New(dErrors.CodeNotFound, "report artifact not found")
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	got := hashPrefix + hex.EncodeToString(h.Sum(nil))
	if n != a.Size || subtle.ConstantTimeCompare([]byte(got), []byte(a.Hash)) != 1 {
		_ = f.Close()
		return nil, dErrors.New(dErrors.CodeIntegrity, "report artifact hash mismatch")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rewind artifact: %w", err)
	}
	return f, nil
}

// Delete removes the artifact. A missing file is not an error.
func (s *FileStore) Delete(a *models.Artifact) error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := s.contains(a.Path); err != nil {
		return err
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *FileStore) pathFor(reportID id.ReportID, format models.Format) string {
	return filepath.Join(s.dir, reportID.String()+"."+format.Extension())
}

// contains rejects paths outside the store directory.
func (s *FileStore) contains(path string) error {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return dErrors.New(dErrors.CodeIntegrity, "report artifact path is outside the artifact store")
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
