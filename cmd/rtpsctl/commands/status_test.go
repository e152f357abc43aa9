package commands

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatusReportsUnreachableWithNoServer(t *testing.T) {
	status := fetchStatus("127.0.0.1:1")
	assert.False(t, status.Reachable)
	assert.False(t, status.Ready)
}

func TestFetchStatusReportsReadyAgainstLiveServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"healthy","started_at":"2026-07-30T00:00:00Z","uptime":"1s"}`))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	status := fetchStatus(u.Host)
	assert.True(t, status.Reachable)
	assert.True(t, status.Ready)
	assert.Equal(t, "1s", status.Uptime)
}
