package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps blobs under a directory and serves them through the
// HTTP route mounted at publicPrefix.
type LocalStorage struct {
	basePath     string
	publicPrefix string
}

func NewLocalStorage(basePath, publicPrefix string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir failed: %w", err)
	}
	return &LocalStorage{
		basePath:     absPath,
		publicPrefix: strings.TrimRight(publicPrefix, "/"),
	}, nil
}

func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// fullPath maps key into basePath. Keys that would escape it map to "".
func (s *LocalStorage) fullPath(key string) (string, bool) {
	cleanKey := filepath.Clean("/" + key)
	path := filepath.Join(s.basePath, cleanKey)
	if path != s.basePath && !strings.HasPrefix(path, s.basePath+string(os.PathSeparator)) {
		return "", false
	}
	return path, true
}

func (s *LocalStorage) Write(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	path, ok := s.fullPath(key)
	if !ok || path == s.basePath {
		return fmt.Errorf("write blob failed: invalid key %q", key)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write blob failed: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write blob failed: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write blob failed: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("write blob failed: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("write blob failed: %w", err)
	}

	success = true
	return nil
}

func (s *LocalStorage) Read(_ context.Context, key string) (io.ReadCloser, error) {
	path, ok := s.fullPath(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read blob failed: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		entries, err := os.ReadDir(s.basePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("delete blobs failed: %w", err)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
				return fmt.Errorf("delete blobs failed: %w", err)
			}
		}
		return nil
	}

	path, ok := s.fullPath(prefix)
	if !ok {
		return nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return os.RemoveAll(path)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.WalkDir(dir, func(filePath string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), base) {
			if err := os.Remove(filePath); err != nil {
				return fmt.Errorf("delete blob %s failed: %w", filePath, err)
			}
		}
		return nil
	})
}

func (s *LocalStorage) URL(key string) string {
	return s.publicPrefix + "/" + strings.TrimLeft(key, "/")
}
