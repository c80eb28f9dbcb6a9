// Package natsconn dials the NATS server shared by the event publisher and
// the run endpoint.
package natsconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Talos/pkg/config"
	"go.uber.org/zap"
)

// Options holds the connection settings.
type Options struct {
	URL  string
	Name string

	// MaxReconnects is the number of reconnect attempts, -1 for unlimited.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Token    string
	Username string
	Password string
}

// DefaultOptions returns options for url with reconnect defaults.
func DefaultOptions(url string) Options {
	return Options{
		URL:           url,
		Name:          "talos",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// FromConfig maps the nats config section onto Options.
func FromConfig(cfg config.NATS) Options {
	o := DefaultOptions(cfg.URL)
	if cfg.Name != "" {
		o.Name = cfg.Name
	}
	o.Token = cfg.Token
	o.Username = cfg.Username
	o.Password = cfg.Password
	return o
}

func (o Options) natsOptions(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(o.Name),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.Timeout(o.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}
	switch {
	case o.Token != "":
		opts = append(opts, nats.Token(o.Token))
	case o.Username != "" && o.Password != "":
		opts = append(opts, nats.UserInfo(o.Username, o.Password))
	}
	return opts
}

// Connect dials NATS, giving up when ctx is done.
func Connect(ctx context.Context, o Options, logger *zap.Logger) (*nats.Conn, error) {
	if o.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(o.URL, o.natsOptions(logger)...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after the caller gave up.
		go func() {
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		logger.Info("Connected to NATS", zap.String("url", res.conn.ConnectedUrl()))
		return res.conn, nil
	}
}

// Close drains conn, falling back to a hard close.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}
