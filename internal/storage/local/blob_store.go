// Package local implements the on-disk store backing the mirror tree.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// ErrPathTraversal is returned for relative paths that escape the base directory.
var ErrPathTraversal = errors.New("path traversal detected")

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory of the mirror.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes mirror files under a single base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, dirPerm); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: cfg.BaseDir,
	}, nil
}

// Root returns the base directory.
func (s *BlobStore) Root() string {
	return s.baseDir
}

// EnsureDirs creates each relative directory under the base directory.
func (s *BlobStore) EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		full, err := s.resolve(dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(full, dirPerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", full, err)
		}
	}
	return nil
}

// Exists reports whether a regular file exists at the relative path.
func (s *BlobStore) Exists(path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// PutObject writes data to the relative path, creating parent directories,
// and returns the full filesystem path.
func (s *BlobStore) PutObject(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	// #nosec G306 -- mirrored files are meant to be served as-is.
	if err := os.WriteFile(full, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", full, err)
	}
	return full, nil
}

// resolve joins path onto the base directory and rejects escapes.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBase := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	return full, nil
}
