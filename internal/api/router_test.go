package api

import (
	"context"
	"credit-engine/internal/config"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testConfig() *config.Config {
	return &config.Config{Metrics: config.MetricsConfig{Path: "/metrics"}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealth(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		db := new(MockChecker)
		db.On("Ping", mock.Anything).Return(nil)
		router := SetupRouter(testConfig(), map[string]HealthChecker{"database": db}, discardLogger())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "ok", body["database"])
		db.AssertExpectations(t)
	})

	t.Run("dependency down", func(t *testing.T) {
		db := new(MockChecker)
		db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		router := SetupRouter(testConfig(), map[string]HealthChecker{"database": db}, discardLogger())

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "unreachable", body["database"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := SetupRouter(&config.Config{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
