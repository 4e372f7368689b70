package memory

import (
	"context"
	"sync"
	"time"

	"github.com/user/affiliate-ingest/internal/repository"
)

type lease struct {
	token   uint64
	expires time.Time
}

// RunLock is an in-process RunLock for single-instance deployments.
type RunLock struct {
	mu     sync.Mutex
	held   map[string]lease
	tokens uint64
	now    func() time.Time
}

var _ repository.RunLock = (*RunLock)(nil)

func NewRunLock() *RunLock {
	return &RunLock{held: make(map[string]lease), now: time.Now}
}

func (l *RunLock) Acquire(_ context.Context, sourceID string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[sourceID]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	l.tokens++
	token := l.tokens
	l.held[sourceID] = lease{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[sourceID]; ok && cur.token == token {
			delete(l.held, sourceID)
		}
	}
	return release, true, nil
}
