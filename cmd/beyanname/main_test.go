package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/beyanname/internal/ai"
	"github.com/kiranshivaraju/beyanname/internal/ai/mock"
	"github.com/kiranshivaraju/beyanname/internal/cache"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/internal/store"
	"github.com/kiranshivaraju/beyanname/pkg/models"
)

// ─── ping-failing wrappers ───────────────────────────────────────────────────

type testStore struct {
	*store.MemoryStore
	pingErr error
}

func (s *testStore) Ping(context.Context) error { return s.pingErr }

type testCache struct {
	*cache.MemoryCache
	pingErr error
}

func (c *testCache) Ping(context.Context) error { return c.pingErr }

func newTestStore(err error) *testStore { return &testStore{MemoryStore: store.NewMemoryStore(), pingErr: err} }
func newTestCache(err error) *testCache { return &testCache{MemoryCache: cache.NewMemoryCache(), pingErr: err} }

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(newTestStore(nil), newTestCache(nil))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	tests := []struct {
		name     string
		storeErr error
		cacheErr error
		database string
		cache    string
	}{
		{"database down", errors.New("connection refused"), nil, "degraded", "ok"},
		{"cache down", nil, errors.New("redis down"), "ok", "degraded"},
		{"both down", errors.New("db down"), errors.New("redis down"), "degraded", "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := healthHandler(newTestStore(tt.storeErr), newTestCache(tt.cacheErr))

			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			w := httptest.NewRecorder()
			h(w, req)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
			details := errObj["details"].(map[string]any)
			assert.Equal(t, tt.database, details["database"])
			assert.Equal(t, tt.cache, details["cache"])
		})
	}
}

// ─── command tests ──────────────────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "AI_PROVIDER", "BEYANNAME_IN_MEMORY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "ARTIFACTS_BACKEND",
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServe_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestServe_InMemoryStillNeedsProvider(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "serve", "--in-memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_PROVIDER")
}

func TestServe_FailsOnUnreachableDatabase(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("AI_PROVIDER", "ollama")

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrations")
}

func TestMigrate_RejectsInMemory(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AI_PROVIDER", "ollama")

	_, err := execute(t, "migrate", "--in-memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a database")
}

func TestProcess_RequiresOwner(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "process", "kdv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--owner")
}

func TestProcess_UnknownJob(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AI_PROVIDER", "ollama")
	t.Setenv("ARTIFACTS_BACKEND", config.ArtifactsNone)

	_, err := execute(t, "process", "kdv-404", "--owner", "mukellef-a", "--in-memory")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessJob_PrintsCompletedStatus(t *testing.T) {
	ctx := context.Background()
	sched := pipeline.NewScheduler(pipeline.Dependencies{
		Store: store.NewMemoryStore(),
		AI:    ai.NewClient(mock.NewMockProvider(), time.Minute, 0),
		Cache: cache.NewMemoryCache(),
	}, pipeline.Options{})

	_, err := sched.Enqueue(ctx, pipeline.EnqueueParams{
		JobID:        "kdv-2024-01",
		OwnerID:      "mukellef-a",
		InputPayload: "KDV matrahı: 120000 TL",
	})
	require.NoError(t, err)

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, processJob(cmd, sched, "kdv-2024-01", "mukellef-a"))

	var view pipeline.StatusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, "kdv-2024-01", view.JobID)
	assert.Equal(t, models.JobStatusCompleted, view.Status)
	assert.Nil(t, view.Failure)
}

func TestTokenValidators(t *testing.T) {
	validators, err := tokenValidators(context.Background(), config.AuthConfig{})
	require.NoError(t, err)
	assert.Empty(t, validators)

	validators, err = tokenValidators(context.Background(), config.AuthConfig{JWTSecret: "s3cret"})
	require.NoError(t, err)
	assert.Len(t, validators, 1)
}
