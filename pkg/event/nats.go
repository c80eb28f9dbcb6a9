package event

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// NATSConn is the subset of *nats.Conn used for publishing.
type NATSConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON encoded events on "<prefix>.<kind>".
type NATSPublisher struct {
	conn   NATSConn
	prefix string
	logger *zap.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher on conn. An empty prefix defaults to "talos.events".
func NewNATSPublisher(conn NATSConn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "talos.events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject used for kind.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := p.Subject(e.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", e.ID),
			zap.Error(err))
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	p.logger.Debug("Published event", zap.String("subject", subject), zap.String("event_id", e.ID))
	return nil
}
