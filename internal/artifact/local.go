package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/doctrans/pkg/file"
)

// LocalStore keeps artifacts on the local filesystem under root/bucket/key.
type LocalStore struct {
	root string
}

// NewLocalStore creates a filesystem-backed store rooted at root.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root must not be empty")
	}
	if err := file.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) resolve(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key must not be empty")
	}
	// Keys come from job IDs and generated names, but uploads pass through
	// here too, so refuse anything that escapes the root.
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := file.WriteAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to store artifact %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to read artifact %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *LocalStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) Delete(_ context.Context, bucket, key string) error {
	path, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact %s/%s: %w", bucket, key, err)
	}
	return nil
}
