// Package server exposes the module service over NATS request/reply and
// serves gRPC health checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Talos/pkg/config"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrUnknownModule is reported for requests naming an unregistered module.
var ErrUnknownModule = errors.New("unknown module")

// Subscriber is the subset of *nats.Conn the server needs.
type Subscriber interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Server answers run requests.
type Server struct {
	svc    *service.Service
	cfg    config.Server
	pre    []process.Preprocessor
	post   []process.Postprocessor
	logger *zap.Logger

	health *health.Server
	grpc   *grpc.Server

	mu       sync.Mutex
	sub      *nats.Subscription
	closing  bool
	inflight sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithProcessors sets the chains wrapped around every requested run.
func WithProcessors(pre []process.Preprocessor, post []process.Postprocessor) Option {
	return func(s *Server) { s.pre, s.post = pre, post }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server for svc.
func New(svc *service.Service, cfg config.Server, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: zap.NewNop(),
		health: health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Listen subscribes to the run subject in the configured queue group.
func (s *Server) Listen(ctx context.Context, conn Subscriber) error {
	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, func(msg *nats.Msg) {
		// inflight.Add must not race with the Wait in Shutdown.
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.inflight.Done()
			s.respond(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Subject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("Listening for run requests",
		zap.String("subject", s.cfg.Subject),
		zap.String("queue", s.cfg.Queue))
	return nil
}

func (s *Server) respond(ctx context.Context, msg *nats.Msg) {
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}
	if msg.Reply == "" {
		s.logger.Warn("Dropping run request without reply subject", zap.String("subject", msg.Subject))
		return
	}
	if err := msg.Respond(s.Handle(ctx, msg.Data)); err != nil {
		s.logger.Error("Failed to send run response", zap.String("reply", msg.Reply), zap.Error(err))
	}
}

// Handle decodes a JSON Request, runs it and returns the encoded Response.
func (s *Server) Handle(ctx context.Context, data []byte) []byte {
	resp := s.handle(ctx, data)
	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode run response", zap.String("module", resp.Module), zap.Error(err))
		out, _ = json.Marshal(Response{
			ExecutionID: resp.ExecutionID,
			Module:      resp.Module,
			Status:      StatusFailed,
			Error:       fmt.Sprintf("encode response: %v", err),
		})
	}
	return out
}

func (s *Server) handle(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Status: StatusFailed, Error: fmt.Sprintf("invalid request: %v", err)}
	}
	resp := Response{Module: req.Module}

	args, err := DecodeArgs(req.Args)
	if err != nil {
		resp.Status, resp.Error = StatusFailed, err.Error()
		return resp
	}
	info, ok := s.svc.Lookup(req.Module)
	if !ok {
		resp.Status, resp.Error = StatusFailed, fmt.Sprintf("%v: %q", ErrUnknownModule, req.Module)
		return resp
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	f := s.svc.Run(ctx, info, s.pre, s.post, args)
	resp.ExecutionID = f.ID()
	m, err := f.Wait(ctx)
	if m != nil {
		resp.Outputs = module.OutputValues(m)
	}
	switch {
	case err == nil:
		resp.Status = StatusSucceeded
	case process.IsCanceled(err):
		resp.Status, resp.Error = StatusCanceled, err.Error()
		if m != nil {
			for _, it := range module.Unresolved(m) {
				resp.Unresolved = append(resp.Unresolved, it.Name())
			}
		}
	default:
		resp.Status, resp.Error = StatusFailed, err.Error()
	}
	return resp
}

// ServeHealth serves the gRPC health service on the configured address until
// Shutdown is called.
func (s *Server) ServeHealth() error {
	lis, err := net.Listen("tcp", s.cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.HealthAddr, err)
	}
	return s.serveHealth(lis)
}

func (s *Server) serveHealth(lis net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.health)

	s.mu.Lock()
	s.grpc = gs
	s.mu.Unlock()

	s.logger.Info("Serving health checks", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight runs and stops the
// health server.
func (s *Server) Shutdown() {
	s.health.Shutdown()

	s.mu.Lock()
	s.closing = true
	sub, gs := s.sub, s.grpc
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe from run requests", zap.Error(err))
		}
	}
	s.inflight.Wait()
	if gs != nil {
		gs.GracefulStop()
	}
}
