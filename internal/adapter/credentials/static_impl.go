package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
)

// StaticProvider serves credentials injected at startup.
type StaticProvider struct {
	byRef map[string]entity.Credentials
}

var _ repository.CredentialProvider = (*StaticProvider)(nil)

// NewStaticProvider copies creds; references are matched case-insensitively.
func NewStaticProvider(creds map[string]map[string]string) *StaticProvider {
	byRef := make(map[string]entity.Credentials, len(creds))
	for ref, values := range creds {
		c := make(entity.Credentials, len(values))
		for k, v := range values {
			c[k] = v
		}
		byRef[strings.ToLower(ref)] = c
	}
	return &StaticProvider{byRef: byRef}
}

// Resolve returns a copy of the credentials for ref.
func (p *StaticProvider) Resolve(_ context.Context, ref string) (entity.Credentials, error) {
	c, ok := p.byRef[strings.ToLower(ref)]
	if !ok || len(c) == 0 {
		return nil, fmt.Errorf("%w: %s", entity.ErrNoCredentials, ref)
	}
	out := make(entity.Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out, nil
}
