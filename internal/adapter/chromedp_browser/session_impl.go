package chromedp_browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/metrics"
)

const xpathPrefix = "xpath="

// newDocumentGrace is how long a wait_event after a click or select gives
// the page to start a new document before the current one's state counts.
const newDocumentGrace = 500 * time.Millisecond

// lifecycle events a wait_event step maps onto
var pageEvents = map[string]string{
	entity.EventNetworkIdle: "networkIdle",
	entity.EventLoad:        "load",
}

const selectScript = `function(v) {
	this.value = v;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

type download struct {
	guid  string
	state browser.DownloadProgressState
}

// Session is one live browser driven through chromedp.
type Session struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	downloadDir   string
	logger        *zap.Logger

	mu sync.Mutex
	// frame and loader identify the main frame and its current document.
	// Lifecycle events of other frames are ignored.
	frame     cdp.FrameID
	loader    cdp.LoaderID
	lifecycle map[string]bool
	// docs counts main-frame documents; markDocs and markAt are taken when
	// an action that may navigate starts.
	docs      int
	markDocs  int
	markAt    time.Time
	grace     time.Duration
	now       func() time.Time
	changed   chan struct{}
	downloads chan download

	active      bool
	releaseOnce sync.Once
}

var _ repository.BrowserSession = (*Session)(nil)

func newSession(ctx context.Context, cancelBrowser, cancelAlloc context.CancelFunc, dir string, logger *zap.Logger) *Session {
	return &Session{
		ctx:           ctx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		downloadDir:   dir,
		logger:        logger,
		lifecycle:     make(map[string]bool),
		grace:         newDocumentGrace,
		now:           time.Now,
		changed:       make(chan struct{}),
		downloads:     make(chan download, 8),
	}
}

// onEvent must not block: chromedp delivers target events synchronously.
func (s *Session) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			s.mu.Lock()
			s.frame = e.Frame.ID
			s.mu.Unlock()
		}
	case *page.EventLifecycleEvent:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.frame != "" && e.FrameID != s.frame {
			return
		}
		if e.Name == "init" || e.LoaderID != s.loader {
			s.lifecycle = make(map[string]bool)
			s.loader = e.LoaderID
			s.docs++
		}
		s.lifecycle[e.Name] = true
		close(s.changed)
		s.changed = make(chan struct{})
	case *browser.EventDownloadProgress:
		if e.State == browser.DownloadProgressStateCompleted || e.State == browser.DownloadProgressStateCanceled {
			select {
			case s.downloads <- download{guid: e.GUID, state: e.State}:
			default:
			}
		}
	}
}

// run executes actions on the browser bounded by ctx's deadline and
// cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func query(selector string, extra ...chromedp.QueryOption) (string, []chromedp.QueryOption) {
	if strings.HasPrefix(selector, xpathPrefix) {
		return strings.TrimPrefix(selector, xpathPrefix), append([]chromedp.QueryOption{chromedp.BySearch}, extra...)
	}
	return selector, append([]chromedp.QueryOption{chromedp.ByQuery}, extra...)
}

// mark records that an action which may replace the document is starting.
func (s *Session) mark() {
	s.mu.Lock()
	s.markDocs = s.docs
	s.markAt = s.now()
	s.mu.Unlock()
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mark()
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	sel, opts := query(selector)
	return s.run(ctx,
		chromedp.WaitVisible(sel, opts...),
		chromedp.Clear(sel, opts...),
		chromedp.SendKeys(sel, value, opts...),
	)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	sel, opts := query(selector, chromedp.NodeVisible)
	s.mark()
	return s.run(ctx, chromedp.Click(sel, opts...))
}

// Select sets the value of a form control and fires its input and change
// events, so script-driven filters react as they would to a user.
func (s *Session) Select(ctx context.Context, selector, value string) error {
	sel, opts := query(selector, chromedp.NodeVisible)
	var nodes []*cdp.Node
	s.mark()
	return s.run(ctx,
		chromedp.Nodes(sel, &nodes, opts...),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no node matches %q", selector)
			}
			obj, err := dom.ResolveNode().WithNodeID(nodes[0].NodeID).Do(ctx)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", selector, err)
			}
			// fails harmlessly once the page has navigated away
			defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)
			return chromedp.CallFunctionOn(selectScript, nil, onObject(obj.ObjectID), value).Do(ctx)
		}),
	)
}

// onObject binds a function call to a resolved remote object as its this.
func onObject(id runtime.RemoteObjectID) chromedp.CallOption {
	return func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(id)
	}
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	sel, opts := query(selector, chromedp.AtLeast(0))
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	sel, opts := query(selector)
	return s.run(ctx, chromedp.WaitVisible(sel, opts...))
}

// WaitEvent waits until the main frame's current document has reached
// event. After a click or select the event only counts once a new document
// has started, or once the grace period has passed without one.
func (s *Session) WaitEvent(ctx context.Context, event string) error {
	name, ok := pageEvents[event]
	if !ok {
		return fmt.Errorf("unsupported page event %q", event)
	}
	for {
		s.mu.Lock()
		seen, changed := s.lifecycle[name], s.changed
		fresh := s.docs > s.markDocs
		remaining := s.grace - s.now().Sub(s.markAt)
		s.mu.Unlock()
		if seen && (fresh || remaining <= 0) {
			return nil
		}
		var graceOver <-chan time.Time
		if seen {
			graceOver = time.After(remaining)
		}
		select {
		case <-changed:
		case <-graceOver:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// Match reports whether the landmark is present on the current page. With
// both a selector and a text, some matching element must contain the text.
func (s *Session) Match(ctx context.Context, lm entity.Landmark) (bool, error) {
	if strings.HasPrefix(lm.Selector, xpathPrefix) {
		return s.matchXPath(ctx, lm)
	}
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return false, err
	}
	return MatchHTML(html, lm)
}

func (s *Session) matchXPath(ctx context.Context, lm entity.Landmark) (bool, error) {
	ok, err := s.Exists(ctx, lm.Selector)
	if err != nil || !ok || lm.Text == "" {
		return ok, err
	}
	sel, opts := query(lm.Selector)
	var text string
	if err := s.run(ctx, chromedp.Text(sel, &text, opts...)); err != nil {
		return false, err
	}
	return strings.Contains(collapse(text), collapse(lm.Text)), nil
}

// MatchHTML evaluates a CSS landmark against a rendered document.
func MatchHTML(html string, lm entity.Landmark) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page html: %w", err)
	}
	selection := doc.Find("body")
	if lm.Selector != "" {
		selection = doc.Find(lm.Selector)
	}
	if selection.Length() == 0 {
		return false, nil
	}
	if lm.Text == "" {
		return true, nil
	}
	want := collapse(lm.Text)
	found := false
	selection.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		found = strings.Contains(collapse(el.Text()), want)
		return !found
	})
	return found, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Download clicks trigger and waits for the browser to finish writing the
// file. The file is named after the download GUID inside the session's
// download directory.
func (s *Session) Download(ctx context.Context, trigger string) (string, error) {
	for drained := false; !drained; {
		select {
		case <-s.downloads:
		default:
			drained = true
		}
	}

	if err := s.Click(ctx, trigger); err != nil {
		return "", err
	}

	select {
	case d := <-s.downloads:
		if d.state != browser.DownloadProgressStateCompleted {
			return "", fmt.Errorf("download %s %s: %w", d.guid, d.state, entity.ErrNoDownload)
		}
		path := filepath.Join(s.downloadDir, d.guid)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %v", entity.ErrNoDownload, err)
		}
		return path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.ctx.Done():
		return "", errors.Join(entity.ErrNoDownload, s.ctx.Err())
	}
}

// Release closes the browser. It is safe to call more than once and from
// any error path; teardown failures are logged, never returned.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic while releasing browser session", zap.Any("panic", r))
			}
		}()
		if s.active {
			metrics.BrowserSessionsActive.Dec()
		}
		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Debug("browser did not close cleanly", zap.Error(err))
		}
		if s.cancelBrowser != nil {
			s.cancelBrowser()
		}
		if s.cancelAlloc != nil {
			s.cancelAlloc()
		}
	})
}
