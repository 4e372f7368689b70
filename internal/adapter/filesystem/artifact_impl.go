package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/user/affiliate-ingest/internal/repository"
)

// ArtifactStoreImpl allocates one private download directory per attempt
// below root.
type ArtifactStoreImpl struct {
	root string
}

var _ repository.ArtifactStore = (*ArtifactStoreImpl)(nil)

// NewArtifactStore creates root if needed.
func NewArtifactStore(root string) (*ArtifactStoreImpl, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &ArtifactStoreImpl{root: root}, nil
}

func (s *ArtifactStoreImpl) Allocate(_ context.Context, sourceID string) (repository.ArtifactSlot, error) {
	dir, err := os.MkdirTemp(s.root, "ingest-"+sourceID+"-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("allocate artifact slot: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &slot{dir: abs}, nil
}

type slot struct {
	dir string
}

func (s *slot) Dir() string { return s.dir }

// ReadOnce reads a file received into the slot and deletes it.
func (s *slot) ReadOnce(path string) ([]byte, error) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("artifact %s is outside its slot", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("remove artifact: %w", err)
	}
	return data, nil
}

func (s *slot) Discard() error {
	return os.RemoveAll(s.dir)
}
