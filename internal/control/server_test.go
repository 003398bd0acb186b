package control

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

const (
	bankApp  = "com.bank.app"
	videoApp = "com.google.android.youtube"
)

type stubEngine struct {
	running atomic.Bool
	eval    *usecase.Evaluator
}

func newStubEngine(eval *usecase.Evaluator) *stubEngine {
	e := &stubEngine{eval: eval}
	e.running.Store(true)
	return e
}

func (e *stubEngine) ResetCounters(packageID string) error {
	if !e.running.Load() {
		return domain.ErrEngineNotRunning
	}
	return e.eval.ResetCounters(packageID)
}

func (e *stubEngine) Running() bool { return e.running.Load() }
func (e *stubEngine) Ticks() int64  { return 7 }

type fixture struct {
	store   *infra.JSONStore
	tracker *infra.ForegroundTracker
	eval    *usecase.Evaluator
	engine  *stubEngine
	client  *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := infra.NewJSONStore(filepath.Join(t.TempDir(), "policies.json"), zap.NewNop())
	require.NoError(t, store.SaveAll([]domain.AppPolicy{
		{PackageID: bankApp, DisplayName: "Bank", Mode: domain.ModePasswordProtected, Password: "1234"},
		{PackageID: videoApp, DisplayName: "YouTube", Mode: domain.ModeLaunchLimit, MaxOpens: 3, CurrentOpens: 2},
	}))

	tracker := infra.NewForegroundTracker(nil)
	tracker.Record("com.android.launcher3", time.Now())
	presenter := infra.NewBoardPresenter(nil, nil, zap.NewNop())
	eval := usecase.NewEvaluator(store, tracker, presenter, nil, usecase.DefaultEvaluatorConfig(), zap.NewNop())
	engine := newStubEngine(eval)

	srv := NewServer("127.0.0.1:0", Deps{
		Engine:    engine,
		Evaluator: eval,
		Feed:      tracker,
		Store:     store,
	}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{store: store, tracker: tracker, eval: eval, engine: engine, client: NewClient(ts.URL)}
}

func TestServer_PasswordInterventionFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	iv, err := f.client.Intervention(ctx)
	require.NoError(t, err)
	assert.Nil(t, iv, "nothing presented yet")

	require.NoError(t, f.client.ReportForeground(ctx, bankApp, time.Time{}))
	res := f.eval.Evaluate(ctx)
	require.NotNil(t, res.Presented)

	iv, err = f.client.Intervention(ctx)
	require.NoError(t, err)
	require.NotNil(t, iv)
	assert.Equal(t, bankApp, iv.PackageID)
	assert.Equal(t, "password_protected", iv.Mode)
	assert.True(t, iv.RequiresPassword)
	assert.Contains(t, []string{"top-left", "top-right", "bottom-left", "bottom-right"}, iv.DismissCorner)

	err = f.client.Dismiss(ctx)
	assert.ErrorIs(t, err, domain.ErrDismissNotAllowed)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, CodePasswordRequired, apiErr.Code)

	ok, err := f.client.SubmitPassword(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.client.SubmitPassword(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	iv, err = f.client.Intervention(ctx)
	require.NoError(t, err)
	assert.Nil(t, iv)

	assert.ErrorIs(t, f.client.Dismiss(ctx), domain.ErrNoActiveIntervention)
	assert.ErrorIs(t, f.client.ForgotPassword(ctx), domain.ErrNoActiveIntervention)
}

func TestServer_ForgotPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.tracker.Record(bankApp, time.Now())
	require.NotNil(t, f.eval.Evaluate(ctx).Presented)

	require.NoError(t, f.client.ForgotPassword(ctx))
	assert.Nil(t, f.eval.Active())
}

func TestServer_ResetCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.client.ResetCounters(ctx, videoApp))
	policies, err := f.store.Load()
	require.NoError(t, err)
	for _, p := range policies {
		if p.PackageID == videoApp {
			assert.Zero(t, p.CurrentOpens)
		}
	}

	assert.ErrorIs(t, f.client.ResetCounters(ctx, "com.unknown"), domain.ErrPolicyNotFound)

	f.engine.running.Store(false)
	err = f.client.ResetCounters(ctx, videoApp)
	assert.ErrorIs(t, err, domain.ErrEngineNotRunning)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestServer_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.tracker.Record("com.other.app", time.Now())
	f.eval.Evaluate(ctx)

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, int64(7), st.Ticks)
	assert.Equal(t, "com.other.app", st.Foreground)
	require.Len(t, st.Policies, 2)
	assert.Equal(t, bankApp, st.Policies[0].PackageID)
	assert.True(t, st.Policies[0].HasPassword)
	assert.Equal(t, 2, st.Policies[1].CurrentOpens)
	assert.Nil(t, st.Active)
}

func TestServer_StatusNeverLeaksPasswords(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.client.baseURL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "1234")
}

func TestServer_ForegroundFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.client.ReportForeground(ctx, videoApp, at))

	pkg, ok, err := f.tracker.CurrentForeground(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, videoApp, pkg)

	events, err := f.tracker.ForegroundEventsSince(ctx, videoApp, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, at.Equal(events[0]))
}

func TestServer_InvalidBody(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.client.baseURL+"/api/v1/intervention/password", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	srv := NewServer("", Deps{
		Engine:    newStubEngine(nil),
		Evaluator: usecase.NewEvaluator(nil, nil, nil, nil, usecase.DefaultEvaluatorConfig(), nil),
	}, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := NewClient(ln.Addr().String())
	assert.Eventually(t, func() bool {
		_, err := client.Intervention(context.Background())
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestToAPIError(t *testing.T) {
	cases := []struct {
		err    error
		code   ErrorCode
		status int
	}{
		{domain.ErrNoActiveIntervention, CodeNoIntervention, http.StatusNotFound},
		{domain.ErrPolicyNotFound, CodePolicyNotFound, http.StatusNotFound},
		{domain.ErrDismissNotAllowed, CodePasswordRequired, http.StatusConflict},
		{domain.ErrNotPasswordProtected, CodeNotPasswordProtected, http.StatusConflict},
		{domain.ErrEngineNotRunning, CodeEngineNotRunning, http.StatusServiceUnavailable},
		{errors.New("disk full"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		apiErr := toAPIError(tc.err)
		assert.Equal(t, tc.code, apiErr.Code, tc.err.Error())
		assert.Equal(t, tc.status, apiErr.Status, tc.err.Error())
	}
}

func TestParseCorner(t *testing.T) {
	for c, name := range cornerNames {
		assert.Equal(t, c, ParseCorner(name))
	}
	assert.Equal(t, domain.CornerBottomRight, ParseCorner("middle"))
}
