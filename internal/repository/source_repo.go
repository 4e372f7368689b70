package repository

import (
	"context"

	"github.com/user/affiliate-ingest/internal/entity"
)

// SourceRegistry exposes the loaded source descriptors.
type SourceRegistry interface {
	Get(id string) (*entity.Source, bool)
	All() []*entity.Source
}

// CredentialProvider resolves a credential reference at attempt start.
type CredentialProvider interface {
	Resolve(ctx context.Context, ref string) (entity.Credentials, error)
}
