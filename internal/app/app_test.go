package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"persona-chat/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ServiceName:          "persona-chat",
		StoreBackend:         config.BackendSQLite,
		SQLitePath:           filepath.Join(t.TempDir(), "chat.db"),
		SeedPredefined:       true,
		OpenAIAPIKey:         "sk-test",
		OpenAIBaseURL:        "http://127.0.0.1:1",
		OpenAIModel:          "gpt-3.5-turbo",
		OpenAIStreamModel:    "gpt-4-turbo",
		OpenAITemperature:    0.7,
		LLMTimeout:           time.Second,
		HistoryWindow:        10,
		MaxMessageLength:     4000,
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionCookieName:    "persona_chat_session",
		SessionTTL:           time.Hour,
		GuestSessionsEnabled: true,
	}
}

func TestNew_SQLiteWiring(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var personas []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &personas))
	require.Len(t, personas, 6)
	for _, p := range personas {
		require.Equal(t, true, p["is_predefined"])
	}
}

func TestNew_SeedIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background()))

	second, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close(context.Background()))
}

func TestNew_RejectsMissingConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "postgres"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown store backend")
}

func TestSessionSecret(t *testing.T) {
	cfg := &config.Config{SessionSecret: "from-env"}
	secret, err := sessionSecret(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "from-env", secret)

	cfg = &config.Config{ParamPrefix: "/pc"}
	secret, err = sessionSecret(context.Background(), cfg, fakeParams{"/pc/session-secret": `{"secret":"from-ssm"}`})
	require.NoError(t, err)
	require.Equal(t, "from-ssm", secret)

	_, err = sessionSecret(context.Background(), &config.Config{}, nil)
	require.Error(t, err)
}

type fakeParams map[string]string

func (f fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}
