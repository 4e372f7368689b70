package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
)

// fakeSession is a scripted BrowserSession. Failures and blocking calls are
// keyed by "<method>:<selector or url>".
type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	block    map[string]bool
	present  map[string]bool
	exists   map[string]int
	empty    bool
	// readyAfter is how many Exists calls return false before a present
	// selector is reported.
	readyAfter int
	artifact   []byte
	noFile     bool
	dir        string
	releases   int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		fail:    map[string]error{},
		block:   map[string]bool{},
		present: map[string]bool{},
		exists:  map[string]int{},
	}
}

func (s *fakeSession) op(ctx context.Context, key, call string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	blocked, err := s.block[key], s.fail[key]
	s.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	return s.op(ctx, "navigate:"+url, "navigate:"+url)
}

func (s *fakeSession) Fill(ctx context.Context, selector, value string) error {
	return s.op(ctx, "fill:"+selector, "fill:"+selector+"="+value)
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	return s.op(ctx, "click:"+selector, "click:"+selector)
}

func (s *fakeSession) Select(ctx context.Context, selector, value string) error {
	return s.op(ctx, "select:"+selector, "select:"+selector+"="+value)
}

func (s *fakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	if err := s.op(ctx, "exists:"+selector, "exists:"+selector); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.exists[selector]
	s.exists[selector]++
	return s.present[selector] && n >= s.readyAfter, nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string) error {
	return s.op(ctx, "wait:"+selector, "wait:"+selector)
}

func (s *fakeSession) WaitEvent(ctx context.Context, event string) error {
	return s.op(ctx, "wait_event:"+event, "wait_event:"+event)
}

func (s *fakeSession) Match(ctx context.Context, _ entity.Landmark) (bool, error) {
	if err := s.op(ctx, "match", "match"); err != nil {
		return false, err
	}
	return s.empty, nil
}

func (s *fakeSession) Download(ctx context.Context, trigger string) (string, error) {
	if err := s.op(ctx, "download:"+trigger, "download:"+trigger); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, "0b1e7c1e-guid")
	if s.noFile {
		return path, nil
	}
	if err := os.WriteFile(path, s.artifact, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
}

func (s *fakeSession) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type fakeSessions struct {
	session *fakeSession
	err     error
}

func (m *fakeSessions) Acquire(_ context.Context, opts repository.SessionOptions) (repository.BrowserSession, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.session.dir = opts.DownloadDir
	return m.session, nil
}

type staticRegistry []*entity.Source

func (r staticRegistry) Get(id string) (*entity.Source, bool) {
	for _, s := range r {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (r staticRegistry) All() []*entity.Source { return r }

// flakyStore accepts inserts until failAt calls have been made.
type flakyStore struct {
	calls  int
	failAt int
}

func (f *flakyStore) Upsert(context.Context, string, []string, []string, [][]any) (int64, error) {
	return 0, errors.New("connection reset")
}

func (f *flakyStore) Insert(_ context.Context, _ string, _ []string, rows [][]any, _ bool) (int64, error) {
	f.calls++
	if f.calls >= f.failAt {
		return 0, fmt.Errorf("chunk %d: connection reset", f.calls)
	}
	return int64(len(rows)), nil
}

func (f *flakyStore) MaxParams() int { return 65535 }

func (f *flakyStore) Ping(context.Context) error { return nil }

// pipelineFunc adapts a function to Pipeline.
type pipelineFunc func(ctx context.Context, src *entity.Source, result *entity.IngestionResult)

func (f pipelineFunc) Run(ctx context.Context, src *entity.Source, result *entity.IngestionResult) {
	f(ctx, src, result)
}

var testTimeouts = Timeouts{
	Navigation: time.Second,
	Action:     time.Second,
	Download:   time.Second,
}
