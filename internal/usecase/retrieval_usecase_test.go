package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/affiliate-ingest/internal/entity"
)

var jst = time.FixedZone("JST", 9*60*60)

func dashboardSource() *entity.Source {
	return &entity.Source{
		ID:          "a8net",
		EntryURL:    "https://dash.example.com/login",
		Credentials: "a8net",
		Encoding:    entity.EncodingUTF8,
		Location:    jst,
		Steps: []entity.Step{
			{Phase: entity.PhaseAuthenticate, Action: entity.ActionFill, Selector: "#user", Value: "${username}"},
			{Phase: entity.PhaseAuthenticate, Action: entity.ActionFill, Selector: "#pass", Value: "${password}"},
			{Phase: entity.PhaseAuthenticate, Action: entity.ActionClick, Selector: "#submit"},
			{Phase: entity.PhaseNavigate, Action: entity.ActionNavigate, URL: "/reports?d=${yesterday:20060102}"},
			{Phase: entity.PhaseNavigate, Action: entity.ActionClickIfPresent, Selector: "#cookie"},
			{Phase: entity.PhaseNavigate, Action: entity.ActionWaitEvent, Event: entity.EventNetworkIdle},
			{Phase: entity.PhaseFilter, Action: entity.ActionSelect, Selector: "#month", Value: "${today:2006-01}"},
			{Phase: entity.PhaseExport, Action: entity.ActionCheckEmpty, Text: "データがありません", Ready: "#csv"},
			{Phase: entity.PhaseExport, Action: entity.ActionDownload, Selector: "#csv"},
		},
	}
}

var dashboardCreds = entity.Credentials{"username": "alice", "password": "pw"}

func newTestRetriever(t *testing.T, session *fakeSession) *retrieverUseCase {
	t.Helper()
	uc := NewRetrieverUseCase(&fakeSessions{session: session}, testTimeouts, zaptest.NewLogger(t)).(*retrieverUseCase)
	uc.now = func() time.Time { return time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC) }
	uc.poll = 5 * time.Millisecond
	return uc
}

func TestRetrieveDownloads(t *testing.T) {
	session := newFakeSession()
	session.present["#csv"] = true
	uc := newTestRetriever(t, session)

	got, err := uc.Retrieve(context.Background(), dashboardSource(), dashboardCreds, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, entity.StateDownloaded, got.State)
	assert.NotEmpty(t, got.Path)
	assert.Equal(t, []string{
		"navigate:https://dash.example.com/login",
		"fill:#user=alice",
		"fill:#pass=pw",
		"click:#submit",
		"navigate:https://dash.example.com/reports?d=20240229",
		"exists:#cookie",
		"wait_event:network_idle",
		"select:#month=2024-03",
		"match",
		"exists:#csv",
		"download:#csv",
	}, session.Calls())
	assert.Equal(t, 1, session.Releases())
}

func TestRetrieveClicksOptionalControlWhenPresent(t *testing.T) {
	session := newFakeSession()
	session.present["#cookie"] = true
	session.present["#csv"] = true
	uc := newTestRetriever(t, session)

	_, err := uc.Retrieve(context.Background(), dashboardSource(), dashboardCreds, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, session.Calls(), "click:#cookie")
}

func TestRetrieveEmpty(t *testing.T) {
	session := newFakeSession()
	session.empty = true
	session.present["#csv"] = true
	uc := newTestRetriever(t, session)

	got, err := uc.Retrieve(context.Background(), dashboardSource(), dashboardCreds, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, entity.StateEmpty, got.State)
	assert.NotContains(t, session.Calls(), "download:#csv")
	assert.Equal(t, 1, session.Releases())
}

func TestRetrieveWaitsForEmptyOrReady(t *testing.T) {
	session := newFakeSession()
	session.present["#csv"] = true
	session.readyAfter = 2
	uc := newTestRetriever(t, session)

	got, err := uc.Retrieve(context.Background(), dashboardSource(), dashboardCreds, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, entity.StateDownloaded, got.State)

	matches := 0
	for _, c := range session.Calls() {
		if c == "match" {
			matches++
		}
	}
	assert.Equal(t, 3, matches)
}

func TestRetrieveFailures(t *testing.T) {
	tests := []struct {
		name      string
		script    func(*fakeSession, *entity.Source)
		wantState entity.State
		wantStep  int
		wantType  string
	}{
		{
			name: "login rejected",
			script: func(s *fakeSession, _ *entity.Source) {
				s.fail["fill:#user"] = errors.New("no such node")
			},
			wantState: entity.StateAuthenticating,
			wantStep:  1,
			wantType:  "retrieval",
		},
		{
			name: "entry page unreachable",
			script: func(s *fakeSession, _ *entity.Source) {
				s.fail["navigate:https://dash.example.com/login"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
			},
			wantState: entity.StateAuthenticating,
			wantStep:  0,
			wantType:  "retrieval",
		},
		{
			name: "filter control missing",
			script: func(s *fakeSession, _ *entity.Source) {
				s.fail["select:#month"] = errors.New("no such node")
			},
			wantState: entity.StateFiltering,
			wantStep:  7,
			wantType:  "retrieval",
		},
		{
			name: "download never completes",
			script: func(s *fakeSession, _ *entity.Source) {
				s.present["#csv"] = true
				s.block["download:#csv"] = true
			},
			wantState: entity.StateAwaitingExport,
			wantStep:  9,
			wantType:  "timeout",
		},
		{
			name: "neither landmark nor export control",
			script: func(_ *fakeSession, src *entity.Source) {
				src.Steps[7].Timeout = 30 * time.Millisecond
			},
			wantState: entity.StateAwaitingExport,
			wantStep:  8,
			wantType:  "timeout",
		},
		{
			name: "idle never reached",
			script: func(s *fakeSession, src *entity.Source) {
				s.block["wait_event:network_idle"] = true
				src.Steps[5].Timeout = 20 * time.Millisecond
			},
			wantState: entity.StateNavigating,
			wantStep:  6,
			wantType:  "timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			src := dashboardSource()
			tt.script(session, src)
			uc := newTestRetriever(t, session)
			uc.timeouts.Download = 30 * time.Millisecond

			got, err := uc.Retrieve(context.Background(), src, dashboardCreds, t.TempDir())
			require.Error(t, err)
			assert.Equal(t, entity.StateFailed, got.State)

			var re *entity.RetrievalError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.wantState, re.State)
			assert.Equal(t, tt.wantStep, re.Step)
			assert.Equal(t, tt.wantType, entity.ErrorType(err))
			assert.Equal(t, 1, session.Releases(), "session released exactly once")
		})
	}
}

func TestRetrieveAcquireFailure(t *testing.T) {
	uc := NewRetrieverUseCase(&fakeSessions{err: errors.New("chrome not found")}, testTimeouts, zaptest.NewLogger(t))
	_, err := uc.Retrieve(context.Background(), dashboardSource(), dashboardCreds, t.TempDir())

	var re *entity.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, entity.StateAuthenticating, re.State)
}

func TestRetrieveMissingCredentialKey(t *testing.T) {
	session := newFakeSession()
	uc := newTestRetriever(t, session)

	_, err := uc.Retrieve(context.Background(), dashboardSource(), entity.Credentials{"username": "alice"}, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrNoCredentials)
	assert.NotContains(t, session.Calls(), "fill:#pass=")
	assert.Equal(t, 1, session.Releases())
}

func TestTimeoutFor(t *testing.T) {
	uc := &retrieverUseCase{timeouts: Timeouts{
		Navigation:        45 * time.Second,
		Action:            30 * time.Second,
		Download:          60 * time.Second,
		NavigationCeiling: 45 * time.Second,
		ActionCeiling:     30 * time.Second,
		DownloadCeiling:   120 * time.Second,
	}}
	src := &entity.Source{DownloadTimeout: 90 * time.Second}

	tests := []struct {
		name string
		step entity.Step
		want time.Duration
	}{
		{"navigation default", entity.Step{Action: entity.ActionNavigate}, 45 * time.Second},
		{"action override", entity.Step{Action: entity.ActionClick, Timeout: 5 * time.Second}, 5 * time.Second},
		{"action clamped", entity.Step{Action: entity.ActionWaitSelector, Timeout: 10 * time.Minute}, 30 * time.Second},
		{"source download default", entity.Step{Action: entity.ActionDownload}, 90 * time.Second},
		{"download clamped", entity.Step{Action: entity.ActionDownload, Timeout: time.Hour}, 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uc.timeoutFor(src, tt.step))
		})
	}
}

func TestSettleAfterInteractiveSteps(t *testing.T) {
	session := newFakeSession()
	session.present["#csv"] = true
	uc := newTestRetriever(t, session)
	src := dashboardSource()
	src.Settle = 20 * time.Millisecond

	start := time.Now()
	_, err := uc.Retrieve(context.Background(), src, dashboardCreds, t.TempDir())
	require.NoError(t, err)
	// entry navigate, two fills, click, navigate, select
	assert.GreaterOrEqual(t, time.Since(start), 6*20*time.Millisecond)
}

func TestSettleFollowsPageChanges(t *testing.T) {
	tests := []struct {
		name       string
		step       entity.Step
		present    bool
		wantSettle bool
	}{
		{"click", entity.Step{Action: entity.ActionClick, Selector: "#go"}, false, true},
		{"select", entity.Step{Action: entity.ActionSelect, Selector: "#month", Value: "3"}, false, true},
		{"optional click on present banner", entity.Step{Action: entity.ActionClickIfPresent, Selector: "#cookie"}, true, true},
		{"optional click on absent banner", entity.Step{Action: entity.ActionClickIfPresent, Selector: "#cookie"}, false, false},
		{"wait selector", entity.Step{Action: entity.ActionWaitSelector, Selector: "#csv"}, false, false},
		{"wait event", entity.Step{Action: entity.ActionWaitEvent, Event: entity.EventLoad}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			session.present[tt.step.Selector] = tt.present
			uc := newTestRetriever(t, session)
			src := dashboardSource()
			src.Settle = time.Hour

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, _, err := uc.execute(ctx, session, src, dashboardCreds, tt.step)
			if tt.wantSettle {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
