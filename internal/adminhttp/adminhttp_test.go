package adminhttp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeChecker struct{ healthy bool }

func (f fakeChecker) Healthy() bool { return f.healthy }

type fakeOps struct {
	assertCalled, resetCalled bool
	resetErr                  error
}

func (f *fakeOps) AssertLiveliness() error { f.assertCalled = true; return nil }
func (f *fakeOps) ResetHistory() error     { f.resetCalled = true; return f.resetErr }

func TestHealthEndpointAlwaysOK(t *testing.T) {
	s := New(":0", zap.NewNop(), fakeChecker{healthy: false}, nil, "", nil)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyEndpointReflectsChecker(t *testing.T) {
	s := New(":0", zap.NewNop(), fakeChecker{healthy: false}, nil, "", nil)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s2 := New(":0", zap.NewNop(), fakeChecker{healthy: true}, nil, "", nil)
	rec2 := httptest.NewRecorder()
	s2.httpServer.Handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestMetricsHandlerMountedWhenProvided(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/custom-metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	s := New(":0", zap.NewNop(), nil, mux, "/custom-metrics", nil)
	req := httptest.NewRequest("GET", "/custom-metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestWriterOpsRoutesUnmountedWithoutOps(t *testing.T) {
	s := New(":0", zap.NewNop(), nil, nil, "", nil)
	req := httptest.NewRequest("POST", "/writer/assert-liveliness", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssertLivelinessRouteCallsOps(t *testing.T) {
	ops := &fakeOps{}
	s := New(":0", zap.NewNop(), nil, nil, "", ops)
	req := httptest.NewRequest("POST", "/writer/assert-liveliness", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ops.assertCalled)
}

func TestResetHistoryRouteReportsOpsError(t *testing.T) {
	ops := &fakeOps{resetErr: errors.New("busy")}
	s := New(":0", zap.NewNop(), nil, nil, "", ops)
	req := httptest.NewRequest("POST", "/writer/reset-history", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, ops.resetCalled)
}
