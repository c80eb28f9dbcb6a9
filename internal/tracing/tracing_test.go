package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Talos/pkg/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Tracing{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestProvider(t *testing.T) {
	tests := []struct {
		name    string
		ratio   float64
		wantLen int
	}{
		{"sample all", 1, 1},
		{"sample none", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Tracing
			cfg.SampleRatio = tt.ratio

			rec := tracetest.NewSpanRecorder()
			tp, err := newProvider(context.Background(), cfg, sdktrace.WithSpanProcessor(rec))
			require.NoError(t, err)
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			_, span := tp.Tracer("test").Start(context.Background(), "op")
			span.End()

			ended := rec.Ended()
			require.Len(t, ended, tt.wantLen)
			if tt.wantLen == 0 {
				return
			}
			name, ok := ended[0].Resource().Set().Value(semconv.ServiceNameKey)
			require.True(t, ok)
			assert.Equal(t, "talos", name.AsString())
		})
	}
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(nil, nil))
	assert.NoError(t, Shutdown(func(context.Context) error { return nil }, nil))

	boom := errors.New("exporter unreachable")
	assert.ErrorIs(t, Shutdown(func(context.Context) error { return boom }, nil), boom)
}
