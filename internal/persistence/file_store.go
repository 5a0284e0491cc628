package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MimeLyc/doctrans/pkg/file"
)

// FileStore keeps the snapshot in a single JSON file, written atomically
// via temp file and rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	content = append(content, '\n')
	if err := file.WriteAtomic(s.path, content, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("invalid snapshot file: %w", err)
	}
	return snap, true, nil
}

func (s *FileStore) Close() error {
	return nil
}
