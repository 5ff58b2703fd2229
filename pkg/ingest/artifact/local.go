package artifact

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
)

// LocalStore writes artifacts into a directory on the local filesystem.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Put writes the artifact to dir/name, creating parent directories as
// needed, and returns the absolute path.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

var _ port.ArtifactStore = (*LocalStore)(nil)
