// Package reporting forwards execution failures to Sentry.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Talos/pkg/config"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sentry reports errors with the execution tags attached to the event.
type Sentry struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// New creates a Sentry reporter. It returns nil when no DSN is configured.
func New(cfg config.Sentry, logger *zap.Logger) (*Sentry, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	return newSentry(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}, logger)
}

func newSentry(opts sentry.ClientOptions, logger *zap.Logger) (*Sentry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope()), logger: logger}, nil
}

// Report captures err on a scope carrying tags. The trace id of the span in
// ctx, if any, is added as the trace_id tag.
func (s *Sentry) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			scope.SetTag("trace_id", sc.TraceID().String())
		}
		if id := hub.CaptureException(err); id != nil {
			s.logger.Debug("Reported failure", zap.String("event_id", string(*id)))
		}
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
