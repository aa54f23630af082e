package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
)

type fakeSupervisor struct {
	states      map[string]models.BotRunnerState
	registerErr error
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{states: make(map[string]models.BotRunnerState)}
}

func (f *fakeSupervisor) RegisterBot(_ context.Context, botID string) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.states[botID] = models.RunnerRunning
	return nil
}

func (f *fakeSupervisor) UnregisterBot(_ context.Context, botID string) error {
	f.states[botID] = models.RunnerStopped
	return nil
}

func (f *fakeSupervisor) PauseBot(botID string) error {
	f.states[botID] = models.RunnerPaused
	return nil
}

func (f *fakeSupervisor) ResumeBot(botID string) error {
	f.states[botID] = models.RunnerRunning
	return nil
}

func (f *fakeSupervisor) RunnerState(botID string) models.BotRunnerState {
	if st, ok := f.states[botID]; ok {
		return st
	}
	return models.RunnerStopped
}

func (f *fakeSupervisor) BotTodayPnL(context.Context, string) (float64, error) { return 0, nil }

func (f *fakeSupervisor) BotOpenPositionCount(context.Context, string) (int, error) { return 0, nil }

func testServer(t *testing.T) (*Server, *mock.Store, *fakeSupervisor) {
	t.Helper()
	st := mock.NewStore()
	sup := newFakeSupervisor()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := NewServer(Config{Port: 0, AuthToken: "secret"}, st, sup, logger)
	return srv, st, sup
}

func doRequest(srv *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointIsAlwaysPublic(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBotRoutesRejectMissingToken(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/bots?owner_id=user-1", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBotThenListByOwner(t *testing.T) {
	srv, _, _ := testServer(t)
	create := createBotRequest{
		OwnerID: "user-1", Name: "rsi-bot", Capital: 1000, PeriodSecs: 30,
		Symbols: []string{"AAPL"},
	}
	rec := doRequest(srv, http.MethodPost, "/bots", create, "secret")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.BotStopped, created.Status)

	rec = doRequest(srv, http.MethodGet, "/bots?owner_id=user-1", nil, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var bots []models.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bots))
	require.Len(t, bots, 1)
	assert.Equal(t, created.ID, bots[0].ID)
}

func TestStartStopLifecycleUpdatesStatusAndRunnerState(t *testing.T) {
	srv, st, sup := testServer(t)
	bot := models.Bot{ID: "bot-1", OwnerID: "user-1", Name: "b", Symbols: []string{"AAPL"}, Status: models.BotStopped}
	st.PutBot(bot)

	rec := doRequest(srv, http.MethodPost, "/bots/bot-1/start", nil, "secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := st.GetBot(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.BotRunning, got.Status)
	assert.Equal(t, models.RunnerRunning, sup.RunnerState("bot-1"))

	rec = doRequest(srv, http.MethodPost, "/bots/bot-1/stop", nil, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = st.GetBot(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.BotStopped, got.Status)
}

func TestDeleteBotRefusedWhileRunnerActive(t *testing.T) {
	srv, st, sup := testServer(t)
	st.PutBot(models.Bot{ID: "bot-1", OwnerID: "user-1", Status: models.BotRunning})
	sup.states["bot-1"] = models.RunnerRunning

	rec := doRequest(srv, http.MethodDelete, "/bots/bot-1", nil, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)

	sup.states["bot-1"] = models.RunnerStopped
	rec = doRequest(srv, http.MethodDelete, "/bots/bot-1", nil, "secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActivityAndTradesEndpointsReturnBotScopedData(t *testing.T) {
	srv, st, _ := testServer(t)
	st.PutBot(models.Bot{ID: "bot-1", OwnerID: "user-1"})
	require.NoError(t, st.AppendActivityLog(context.Background(), &models.ActivityLog{
		ID: "a1", BotID: "bot-1", Severity: models.SeverityInfo, Category: "risk", Message: "ok",
	}))

	rec := doRequest(srv, http.MethodGet, "/bots/bot-1/activity", nil, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []models.ActivityLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "bot-1", entries[0].BotID)

	rec = doRequest(srv, http.MethodGet, "/bots/bot-1/trades", nil, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}
