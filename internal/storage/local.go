package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidPath is returned for paths that escape the storage root.
	ErrInvalidPath = errors.New("invalid storage path")
)

const partialMarker = ".partial-"

var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk under a root directory.
// It does not support publication unless wrapped with S3Storage.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at root, creating the
// directory if needed. An empty root uses os.TempDir()/soundbank.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "soundbank")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &LocalStorage{root: abs}, nil
}

// Root implements Storage.
func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, clean), nil
}

// WriteFile implements Storage.
func (s *LocalStorage) WriteFile(ctx context.Context, rel string, fill func(io.WriteSeeker) error) (Written, error) {
	if err := ctx.Err(); err != nil {
		return Written{}, fmt.Errorf("context cancelled: %w", err)
	}
	dest, err := s.resolve(rel)
	if err != nil {
		return Written{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return Written{}, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+partialMarker+"*")
	if err != nil {
		return Written{}, fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	fail := func(err error) (Written, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Written{}, err
	}

	if err := fill(f); err != nil {
		return fail(fmt.Errorf("write %s: %w", rel, err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind %s: %w", rel, err))
	}
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return fail(fmt.Errorf("hash %s: %w", rel, err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", rel, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Written{}, fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return Written{}, fmt.Errorf("commit %s: %w", rel, err)
	}

	return Written{
		Path:        filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel))),
		Size:        size,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Exists implements Storage.
func (s *LocalStorage) Exists(_ context.Context, rel string) (bool, error) {
	p, err := s.resolve(rel)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return st.Mode().IsRegular(), nil
}

// Open implements Storage.
func (s *LocalStorage) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) // #nosec G304 - path is confined to the storage root
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	return f, nil
}

// Remove implements Storage.
func (s *LocalStorage) Remove(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	p, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// SweepPartial implements Storage. It continues past files it cannot
// delete and returns the first error encountered.
func (s *LocalStorage) SweepPartial(ctx context.Context) (int, error) {
	var removed int
	var firstErr error
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context cancelled: %w", ctxErr)
		}
		if d.IsDir() || !strings.Contains(d.Name(), partialMarker) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove partial file %s: %w", path, err)
			}
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, firstErr
}

// Publish is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}
