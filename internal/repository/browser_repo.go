package repository

import (
	"context"
	"time"

	"github.com/user/affiliate-ingest/internal/entity"
)

// SessionOptions configures a browser session acquired for one retrieval attempt.
type SessionOptions struct {
	// DownloadDir receives the exported report file.
	DownloadDir string
	// StartupTimeout bounds engine launch; zero uses the manager default.
	StartupTimeout time.Duration
}

// SessionManager launches isolated browser sessions.
type SessionManager interface {
	// Acquire launches a fresh engine with one isolated context and page.
	// The caller owns the session and must Release it on every exit path.
	Acquire(ctx context.Context, opts SessionOptions) (BrowserSession, error)
}

// BrowserSession is a live automation handle owned by a single retrieval attempt.
// Every blocking method is bounded by the deadline of ctx.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	// Exists reports whether selector currently matches, without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string) error
	// WaitEvent blocks until the named page event (network_idle, load) is observed.
	WaitEvent(ctx context.Context, event string) error
	// Match reports whether the landmark is currently present on the page.
	Match(ctx context.Context, landmark entity.Landmark) (bool, error)
	// Download clicks trigger and waits for the resulting download to
	// complete, returning the path of the received file.
	Download(ctx context.Context, trigger string) (string, error)
	// Release tears the session down. It is idempotent and never fails;
	// teardown problems are logged.
	Release()
}
