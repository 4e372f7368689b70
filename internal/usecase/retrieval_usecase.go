package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/pkg/utils"
)

// emptyPollInterval is how often check_empty re-examines the page.
const emptyPollInterval = 250 * time.Millisecond

var placeholderRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Timeouts are the engine-wide step budgets. Per-source and per-step values
// override the defaults but never exceed the ceilings.
type Timeouts struct {
	Startup           time.Duration
	Navigation        time.Duration
	Action            time.Duration
	Download          time.Duration
	NavigationCeiling time.Duration
	ActionCeiling     time.Duration
	DownloadCeiling   time.Duration
	Settle            time.Duration
}

// Retrieval is the terminal state of a retrieval attempt. Path is set only
// when State is Downloaded.
type Retrieval struct {
	State entity.State
	Path  string
}

// Retriever drives a source's UI from login to an exported file.
type Retriever interface {
	Retrieve(ctx context.Context, src *entity.Source, creds entity.Credentials, downloadDir string) (Retrieval, error)
}

type retrieverUseCase struct {
	sessions repository.SessionManager
	timeouts Timeouts
	logger   *zap.Logger
	now      func() time.Time
	poll     time.Duration
}

// NewRetrieverUseCase creates a new instance of the retrieval state machine.
func NewRetrieverUseCase(sessions repository.SessionManager, timeouts Timeouts, logger *zap.Logger) Retriever {
	return &retrieverUseCase{
		sessions: sessions,
		timeouts: timeouts,
		logger:   logger,
		now:      time.Now,
		poll:     emptyPollInterval,
	}
}

func stateFor(st entity.Step) entity.State {
	if st.Action == entity.ActionCheckEmpty || st.Action == entity.ActionDownload {
		return entity.StateAwaitingExport
	}
	switch st.Phase {
	case entity.PhaseNavigate:
		return entity.StateNavigating
	case entity.PhaseFilter:
		return entity.StateFiltering
	case entity.PhaseExport:
		return entity.StateAwaitingExport
	}
	return entity.StateAuthenticating
}

// Retrieve runs the entry navigation followed by the source's steps. The
// session is released on every exit path.
func (uc *retrieverUseCase) Retrieve(ctx context.Context, src *entity.Source, creds entity.Credentials, downloadDir string) (Retrieval, error) {
	logger := uc.logger.With(zap.String("source", src.ID))
	failed := Retrieval{State: entity.StateFailed}

	session, err := uc.sessions.Acquire(ctx, repository.SessionOptions{
		DownloadDir:    downloadDir,
		StartupTimeout: uc.timeouts.Startup,
	})
	if err != nil {
		return failed, &entity.RetrievalError{
			SourceID: src.ID,
			State:    entity.StateAuthenticating,
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      fmt.Errorf("acquire browser session: %w", err),
		}
	}
	defer session.Release()

	steps := make([]entity.Step, 0, len(src.Steps)+1)
	steps = append(steps, entity.Step{Phase: entity.PhaseAuthenticate, Action: entity.ActionNavigate, URL: src.EntryURL})
	steps = append(steps, src.Steps...)

	state := entity.StateAuthenticating
	for i, st := range steps {
		next := stateFor(st)
		if next != state {
			logger.Debug("retrieval state",
				zap.String("from", string(state)),
				zap.String("to", string(next)),
				zap.Int("step", i))
			state = next
		}

		path, empty, err := uc.execute(ctx, session, src, creds, st)
		if err != nil {
			return failed, &entity.RetrievalError{
				SourceID: src.ID,
				State:    state,
				Step:     i,
				Action:   st.Action,
				Timeout:  errors.Is(err, context.DeadlineExceeded),
				Err:      err,
			}
		}
		if empty {
			logger.Debug("retrieval state", zap.String("from", string(state)), zap.String("to", string(entity.StateEmpty)), zap.Int("step", i))
			return Retrieval{State: entity.StateEmpty}, nil
		}
		if path != "" {
			logger.Debug("retrieval state", zap.String("from", string(state)), zap.String("to", string(entity.StateDownloaded)), zap.Int("step", i))
			return Retrieval{State: entity.StateDownloaded, Path: path}, nil
		}
	}
	return failed, &entity.RetrievalError{SourceID: src.ID, State: state, Step: len(steps) - 1, Err: entity.ErrNoDownload}
}

// execute runs one step under its own deadline.
func (uc *retrieverUseCase) execute(ctx context.Context, session repository.BrowserSession, src *entity.Source, creds entity.Credentials, st entity.Step) (string, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, uc.timeoutFor(src, st))
	defer cancel()

	settle := st.Action.Interactive()
	switch st.Action {
	case entity.ActionNavigate:
		target, err := uc.expand(st.URL, src, creds)
		if err != nil {
			return "", false, err
		}
		if target, err = resolveURL(src.EntryURL, target); err != nil {
			return "", false, err
		}
		if err := session.Navigate(stepCtx, target); err != nil {
			return "", false, err
		}
	case entity.ActionFill, entity.ActionSelect:
		value, err := uc.expand(st.Value, src, creds)
		if err != nil {
			return "", false, err
		}
		if st.Action == entity.ActionFill {
			err = session.Fill(stepCtx, st.Selector, value)
		} else {
			err = session.Select(stepCtx, st.Selector, value)
		}
		if err != nil {
			return "", false, err
		}
	case entity.ActionClick:
		if err := session.Click(stepCtx, st.Selector); err != nil {
			return "", false, err
		}
	case entity.ActionClickIfPresent:
		present, err := session.Exists(stepCtx, st.Selector)
		if err != nil {
			return "", false, err
		}
		if !present {
			settle = false
			break
		}
		if err := session.Click(stepCtx, st.Selector); err != nil {
			return "", false, err
		}
	case entity.ActionWaitSelector:
		if err := session.WaitVisible(stepCtx, st.Selector); err != nil {
			return "", false, err
		}
	case entity.ActionWaitEvent:
		if err := session.WaitEvent(stepCtx, st.Event); err != nil {
			return "", false, err
		}
	case entity.ActionCheckEmpty:
		empty, err := uc.checkEmpty(stepCtx, session, st)
		return "", empty, err
	case entity.ActionDownload:
		path, err := session.Download(stepCtx, st.Selector)
		if err != nil {
			return "", false, err
		}
		if path == "" {
			return "", false, entity.ErrNoDownload
		}
		return path, false, nil
	default:
		return "", false, fmt.Errorf("unsupported action %q", st.Action)
	}

	if settle {
		if err := sleep(ctx, uc.settleFor(src)); err != nil {
			return "", false, err
		}
	}
	return "", false, nil
}

// checkEmpty polls until either the empty landmark or the export control is
// observable. The empty landmark wins when both are present.
func (uc *retrieverUseCase) checkEmpty(ctx context.Context, session repository.BrowserSession, st entity.Step) (bool, error) {
	ticker := time.NewTicker(uc.poll)
	defer ticker.Stop()
	for {
		empty, err := session.Match(ctx, st.Landmark())
		if err != nil {
			return false, err
		}
		if empty {
			return true, nil
		}
		ready, err := session.Exists(ctx, st.Ready)
		if err != nil {
			return false, err
		}
		if ready {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("neither the empty landmark nor %q appeared: %w", st.Ready, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (uc *retrieverUseCase) timeoutFor(src *entity.Source, st entity.Step) time.Duration {
	var base, ceiling, sourceDefault time.Duration
	switch st.Action {
	case entity.ActionNavigate:
		base, ceiling, sourceDefault = uc.timeouts.Navigation, uc.timeouts.NavigationCeiling, src.NavigationTimeout
	case entity.ActionDownload:
		base, ceiling, sourceDefault = uc.timeouts.Download, uc.timeouts.DownloadCeiling, src.DownloadTimeout
	default:
		base, ceiling, sourceDefault = uc.timeouts.Action, uc.timeouts.ActionCeiling, src.ActionTimeout
	}
	d := base
	if sourceDefault > 0 {
		d = sourceDefault
	}
	if st.Timeout > 0 {
		d = st.Timeout
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

func (uc *retrieverUseCase) settleFor(src *entity.Source) time.Duration {
	if src.Settle > 0 {
		return src.Settle
	}
	return uc.timeouts.Settle
}

// expand substitutes ${name} placeholders with credential values and
// ${today:<layout>} / ${yesterday:<layout>} with dates in the source zone.
func (uc *retrieverUseCase) expand(s string, src *entity.Source, creds entity.Credentials) (string, error) {
	var missing []string
	out := placeholderRegex.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		key, layout, hasLayout := strings.Cut(name, ":")
		if !hasLayout {
			layout = "2006-01-02"
		}
		switch key {
		case "today":
			return uc.now().In(src.Zone()).Format(layout)
		case "yesterday":
			return uc.now().In(src.Zone()).AddDate(0, 0, -1).Format(layout)
		}
		v, ok := creds[strings.ToLower(name)]
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", entity.ErrNoCredentials, strings.Join(missing, ", "))
	}
	return out, nil
}

func resolveURL(entry, target string) (string, error) {
	base, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("parse entry url: %w", err)
	}
	return utils.ToAbsoluteURL(base, target)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
