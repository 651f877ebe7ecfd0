package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	return NewServer(st, zap.NewNop()), st
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListSessions(t *testing.T) {
	s, st := newTestServer(t)
	id := uuid.New()
	require.NoError(t, st.CreateSession(context.Background(), id, []string{"http://h/a"}))

	rec := doRequest(t, s, http.MethodGet, "/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Sessions, 1)
	assert.Equal(t, id.String(), payload.Sessions[0].ID)
	assert.Equal(t, crawler.SessionRunning, payload.Sessions[0].Status)
	assert.Nil(t, payload.Sessions[0].EndedAt)
}

func TestListSessions_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/sessions?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession(t *testing.T) {
	s, st := newTestServer(t)
	id := uuid.New()
	require.NoError(t, st.CreateSession(context.Background(), id, []string{"http://h/a"}))
	require.NoError(t, st.CloseSession(context.Background(), id, crawler.SessionCompleted,
		store.SessionCounters{PagesCrawled: 7}, ""))

	rec := doRequest(t, s, http.MethodGet, "/v1/sessions/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Session sessionView `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, crawler.SessionCompleted, payload.Session.Status)
	assert.Equal(t, int64(7), payload.Session.PagesCrawled)
	assert.NotNil(t, payload.Session.EndedAt)
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/sessions/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_BadID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/sessions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
