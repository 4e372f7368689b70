package chromedp_browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/proxy"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/metrics"
)

// Options configures the browser processes started by a Manager.
type Options struct {
	Headless       bool
	ExecPath       string
	StartupTimeout time.Duration
}

// Manager starts one isolated headless browser per session.
type Manager struct {
	opts    Options
	proxies *proxy.Manager
	logger  *zap.Logger
}

// NewManager creates a session manager backed by chromedp.
func NewManager(opts Options, proxies *proxy.Manager, logger *zap.Logger) *Manager {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	return &Manager{opts: opts, proxies: proxies, logger: logger}
}

var _ repository.SessionManager = (*Manager)(nil)

// Acquire starts a browser, verifies it answers, and routes its downloads
// into opts.DownloadDir. The returned session must be released.
func (m *Manager) Acquire(ctx context.Context, opts repository.SessionOptions) (repository.BrowserSession, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if ua := m.proxies.GetUserAgent(); ua != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(ua))
	}
	if p := m.proxies.GetProxy(); p != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(p))
	}
	if m.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(m.opts.ExecPath))
	}

	// The browser outlives individual steps but never the attempt.
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	sugar := m.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := newSession(browserCtx, browserCancel, allocCancel, opts.DownloadDir, m.logger)
	chromedp.ListenTarget(browserCtx, s.onEvent)

	startup := opts.StartupTimeout
	if startup <= 0 {
		startup = m.opts.StartupTimeout
	}
	startCtx, startCancel := context.WithTimeout(browserCtx, startup)
	defer startCancel()

	err := chromedp.Run(startCtx,
		chromedp.Navigate("about:blank"),
		page.SetLifecycleEventsEnabled(true),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup check: %w", err)
	}

	s.active = true
	metrics.BrowserSessionsActive.Inc()
	m.logger.Debug("browser session acquired", zap.String("download_dir", opts.DownloadDir))
	return s, nil
}
