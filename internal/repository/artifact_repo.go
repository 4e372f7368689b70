package repository

import "context"

// ArtifactStore hands out scoped locations that receive browser downloads.
type ArtifactStore interface {
	Allocate(ctx context.Context, sourceID string) (ArtifactSlot, error)
}

// ArtifactSlot is a write-once, read-once, delete location for one attempt.
type ArtifactSlot interface {
	// Dir is where the browser writes the download.
	Dir() string
	// ReadOnce returns the file content and removes the file.
	ReadOnce(path string) ([]byte, error)
	// Discard removes the slot and anything left in it. Safe to call
	// after a failed step and more than once.
	Discard() error
}
