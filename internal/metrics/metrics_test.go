package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryExposesHandlerAndCollectors(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)

	reg.ChangesWritten.Inc()
	reg.MatchedReaders.Set(3)
	reg.ChangesDelivered.WithLabelValues("stateless").Inc()

	handler := reg.Handler()
	require.NotNil(t, handler)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "corewriter_matched_readers")
	assert.Contains(t, rec.Body.String(), "corewriter_changes_written_total")
}
