package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledRecordsSpansThroughExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Config{
		Enabled:     true,
		ServiceName: "corewriter-test",
		SampleRatio: 1.0,
	}, exporter)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "unit-test-span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.NotEmpty(t, exporter.GetSpans())
}

func TestRecordErrorSetsErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Config{Enabled: true, SampleRatio: 1.0}, exporter)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "errored-span")
	RecordError(span, errors.New("boom"))
	span.End()

	require.NoError(t, shutdown(context.Background()))
	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, codes.Error, spans[len(spans)-1].Status.Code)
}
