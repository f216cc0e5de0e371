// Package grpcserver runs the operational gRPC endpoint: grpc.health.v1.Health driven by dependency probes.
package grpcserver

import (
	"context"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/and161185/alurea-fulfillment/internal/logging"
)

// ServiceName is the health service name of the whole server. The empty name reports the same status.
const ServiceName = "fulfillment"

// DefaultProbeInterval is how often dependencies are pinged.
const DefaultProbeInterval = 10 * time.Second

const probeTimeout = 3 * time.Second

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Ops serves health over gRPC.
type Ops struct {
	srv      *grpc.Server
	health   *health.Server
	probes   []Probe
	interval time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	last map[string]error
}

// Option customizes Ops.
type Option func(*opsConfig)

type opsConfig struct {
	creds      credentials.TransportCredentials
	reflection bool
	interval   time.Duration
}

// WithTLS serves over TLS.
func WithTLS(creds credentials.TransportCredentials) Option {
	return func(c *opsConfig) { c.creds = creds }
}

// WithReflection registers server reflection (dev only).
func WithReflection() Option {
	return func(c *opsConfig) { c.reflection = true }
}

// WithInterval overrides DefaultProbeInterval.
func WithInterval(d time.Duration) Option {
	return func(c *opsConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New builds the ops server. Every service starts NOT_SERVING until the first probe round.
func New(log *zap.Logger, probes []Probe, opts ...Option) *Ops {
	cfg := opsConfig{interval: DefaultProbeInterval}
	for _, o := range opts {
		o(&cfg)
	}

	sopts := []grpc.ServerOption{grpc.UnaryInterceptor(observeUnary(log))}
	if cfg.creds != nil {
		sopts = append(sopts, grpc.Creds(cfg.creds))
	}
	s := grpc.NewServer(sopts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.reflection {
		reflection.Register(s)
	}

	o := &Ops{
		srv:      s,
		health:   hs,
		probes:   probes,
		interval: cfg.interval,
		log:      log,
		last:     map[string]error{},
	}
	o.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return o
}

func (o *Ops) setAll(st healthpb.HealthCheckResponse_ServingStatus) {
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
	for _, p := range o.probes {
		o.health.SetServingStatus(ServiceName+"."+p.Name, st)
	}
}

// Probe runs every check once and publishes the result. The server is SERVING only if all pass.
func (o *Ops) Probe(ctx context.Context) bool {
	ok := true
	for _, p := range o.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(pctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			ok = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		o.health.SetServingStatus(ServiceName+"."+p.Name, st)
		o.logTransition(p.Name, err)
	}

	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
	return ok
}

// logTransition logs only changes, so a steady failure is not repeated every interval.
func (o *Ops) logTransition(name string, err error) {
	o.mu.Lock()
	prev, seen := o.last[name]
	o.last[name] = err
	o.mu.Unlock()

	switch {
	case err != nil && (!seen || prev == nil):
		o.log.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
	case err == nil && seen && prev != nil:
		o.log.Info("dependency recovered", zap.String("dependency", name))
	}
}

// Watch probes immediately and then every interval until ctx ends.
func (o *Ops) Watch(ctx context.Context) {
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		o.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Serve accepts connections on lis until Stop.
func (o *Ops) Serve(lis net.Listener) error {
	return o.srv.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains connections, forcing after timeout.
func (o *Ops) Stop(timeout time.Duration) {
	o.health.Shutdown()
	done := make(chan struct{})
	go func() {
		o.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.srv.Stop()
	}
}

// healthMethods are the orchestrator's calls; successful ones are logged at debug.
const healthMethods = "/grpc.health.v1.Health/"

// observeUnary logs every call's method, code and peer, and turns a handler panic into codes.Internal.
// The handler sees log through logging.FromContext.
func observeUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc panic",
					zap.String("method", info.FullMethod),
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
				)
				resp, err = nil, status.Error(codes.Internal, "internal")
			}

			code := status.Code(err)
			lvl := zapcore.InfoLevel
			if code == codes.OK && strings.HasPrefix(info.FullMethod, healthMethods) {
				lvl = zapcore.DebugLevel
			}
			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.Stringer("code", code),
				zap.Duration("dur", time.Since(start)),
			}
			if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
				fields = append(fields, zap.String("peer", p.Addr.String()))
			}
			log.Log(lvl, "grpc", fields...)
		}()
		return next(logging.WithLogger(ctx, log), req)
	}
}
