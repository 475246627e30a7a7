package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("fulltext", Ping(func(context.Context) error { return nil }))
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	connected := false
	c.Register("postings", Connected(func() bool { return connected }))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "disconnected", report.Components["postings"].Message)

	c.Register("redis", Ping(func(context.Context) error { return errors.New("refused") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "refused", report.Components["redis"].Message)
	assert.Len(t, report.Components, 3)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("citations", Connected(func() bool { return false }))

	rec := httptest.NewRecorder()
	c.Routes()["/health/ready"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("fulltext", Ping(func(context.Context) error { return errors.New("closed") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
