package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/unicro/uniscout/internal/config"
)

func TestSetupDisabledUsesNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false, Exporter: "stdout"})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok, "expected noop provider, got %T", otel.GetTracerProvider())
}

func TestSetupExporters(t *testing.T) {
	for _, exporter := range []string{"", "noop", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exporter})
		require.NoError(t, err, exporter)
		assert.NoError(t, shutdown(context.Background()))
	}

	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestStartSpanAndEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, ok := StartSpan(context.Background(), "scan.start", StringAttr("scope", "ALL"), IntAttr("technologies", 4))
	End(ok, nil)

	_, failed := StartSpan(context.Background(), "scan.stop")
	End(failed, errors.New("stop timed out"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "scan.start", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "stop timed out", spans[1].Status().Description)
}
