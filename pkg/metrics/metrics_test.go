package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	tm := NewNoopTransferMetrics()
	tm.RecordTransferStart("copy")
	tm.RecordConflicts("copy", "content", 3)
	tm.RecordFastRename("move")
	tm.RecordTransferEnd("copy", "success", 1, 10, time.Second)

	gm := NewNoopGrantMetrics()
	gm.RecordSweep(1, 0, time.Millisecond)
	gm.SetGrantCount(4)
	gm.RecordAccessRequest("granted")
}

func TestServer_IndexAndNotFound(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/metrics")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Status(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9191})
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, get().Code, "no status source yet")

	s.SetStatus(func(context.Context) (Status, error) {
		return Status{PackageName: "com.example.app", SDKLevel: 30, ScopedStorageEnforced: true, Grants: 2, ActiveTransfers: 1}, nil
	})
	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, Status{PackageName: "com.example.app", SDKLevel: 30, ScopedStorageEnforced: true, Grants: 2, ActiveTransfers: 1}, st)

	s.SetStatus(func(context.Context) (Status, error) { return Status{}, errors.New("store closed") })
	assert.Equal(t, http.StatusInternalServerError, get().Code)
}

func TestServer_IndexListsEndpoints(t *testing.T) {
	s := NewServer(ServerConfig{Port: 9191})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "/status")
	assert.Contains(t, rec.Body.String(), "9191")
}
