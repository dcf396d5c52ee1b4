// Package object provides the local filesystem interchange destination.
package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
	"github.com/parcelfind/parcelfind/pkg/interfaces"
)

// LocalStorage implements ObjectStorage for a local directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates storage rooted at root. The directory is created
// when missing.
func NewLocalStorage(root string) (*LocalStorage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0755); err != nil {
		if isPermission(err) {
			return nil, perrors.WriteDenied(absRoot, err)
		}
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &LocalStorage{root: absRoot}, nil
}

// Root returns the absolute root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Scheme returns "file".
func (s *LocalStorage) Scheme() string {
	return "file"
}

// Location returns the absolute file path for path.
func (s *LocalStorage) Location(path string) string {
	return s.fullPath(path)
}

// Put writes data to a path. With IfNotExists the file is created with
// O_EXCL, so an existing file is never replaced. A partially written file
// is removed before returning the error.
func (s *LocalStorage) Put(ctx context.Context, path string, data io.Reader, opts interfaces.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := s.fullPath(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		if isPermission(err) {
			return perrors.WriteDenied(fullPath, err)
		}
		return fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.IfNotExists {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(fullPath, flags, 0644)
	switch {
	case errors.Is(err, os.ErrExist):
		return perrors.NameCollision(filepath.Base(fullPath), s.root)
	case err != nil && isPermission(err):
		return perrors.WriteDenied(fullPath, err)
	case err != nil:
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(fullPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	return nil
}

// Get returns a reader for the object.
func (s *LocalStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Exists checks if an object exists.
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LocalStorage) fullPath(path string) string {
	return filepath.Join(s.root, path)
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EROFS)
}

var _ interfaces.ObjectStorage = (*LocalStorage)(nil)
