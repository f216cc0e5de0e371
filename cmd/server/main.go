// Command fulfillment-server starts the order fulfillment HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/alurea-fulfillment/internal/config"
	"github.com/and161185/alurea-fulfillment/internal/credential"
	"github.com/and161185/alurea-fulfillment/internal/limiter"
	"github.com/and161185/alurea-fulfillment/internal/logging"
	"github.com/and161185/alurea-fulfillment/internal/metrics"
	"github.com/and161185/alurea-fulfillment/internal/migrate"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/notify"
	"github.com/and161185/alurea-fulfillment/internal/repository/postgres"
	grpcserver "github.com/and161185/alurea-fulfillment/internal/server/grpc"
	httpserver "github.com/and161185/alurea-fulfillment/internal/server/http"
	"github.com/and161185/alurea-fulfillment/internal/service"
	"github.com/and161185/alurea-fulfillment/internal/storage"
	"github.com/and161185/alurea-fulfillment/internal/tracking"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// sweepInterval is how often expired one-time codes are dropped.
const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New("fulfillment", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("ledger", cfg.Ledger.Backend),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.Postgres.DSN, logger); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.Postgres.DSN, int32(cfg.Postgres.MaxConns))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	probes := []grpcserver.Probe{{Name: "postgres", Check: db.Ping}}

	// Repositories
	users := postgres.NewUserRepo(db)
	orders := postgres.NewOrderRepo(db)
	audit := postgres.NewAuditRepo(db)
	lim := limiter.NewPG(db.Pool, cfg.Auth.LimitWindow, cfg.Auth.LimitMaxFails, cfg.Auth.LimitBlock)

	ledger, err := openLedger(ctx, cfg.Ledger, db, logger)
	if err != nil {
		return err
	}
	defer ledger.close()
	probes = append(probes, ledger.probes...)

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.AMQP.URL != "" {
		pub, err := notify.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer func() { _ = pub.Close() }()
		notifier = pub
		probes = append(probes, grpcserver.Probe{Name: "amqp", Check: pub.Ping})
	}

	proofs, err := storage.NewProofs(cfg.Proofs.Dir, cfg.Proofs.MaxBytes)
	if err != nil {
		return fmt.Errorf("proof storage: %w", err)
	}

	m := metrics.New()

	codes := credential.New(credential.WithTTL(cfg.Auth.CodeTTL))
	go codes.Run(ctx, sweepInterval)

	tracker := tracking.New(
		model.Location{Lat: cfg.Tracking.DefaultLat, Lon: cfg.Tracking.DefaultLon},
		tracking.WithStats(m),
	)

	// Services
	authSvc := service.NewAuthService(users, codes, notifier, lim, []byte(cfg.Auth.JWTKey),
		service.WithAudit(audit),
		service.WithAuthRecorder(m),
		service.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	orderSvc := service.NewOrderService(orders, ledger, proofs,
		service.WithEvents(notifier),
		service.WithOrderAudit(audit),
		service.WithOrderRecorder(m),
	)

	opts := []httpserver.Option{
		httpserver.WithMetrics(m, m.Handler()),
		httpserver.WithProofs(proofs),
		httpserver.WithMaxUpload(cfg.Proofs.MaxBytes),
		httpserver.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
	}
	for _, p := range probes {
		opts = append(opts, httpserver.WithHealthCheck(p.Name, p.Check))
	}
	api := httpserver.New(authSvc, orderSvc, ledger, tracker, logger, opts...)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          zap.NewStdLog(logger),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var ops *grpcserver.Ops
	if cfg.GRPC.Addr != "" {
		if ops, err = startOps(ctx, cfg, logger, probes, errCh); err != nil {
			return err
		}
	}

	// Wait for stop
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if ops != nil {
		ops.Stop(cfg.HTTP.ShutdownTimeout)
	}
	return runErr
}

func startOps(ctx context.Context, cfg *config.Config, logger *zap.Logger, probes []grpcserver.Probe, errCh chan<- error) (*grpcserver.Ops, error) {
	var opts []grpcserver.Option
	if cfg.GRPC.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load grpc tls cert/key: %w", err)
		}
		opts = append(opts, grpcserver.WithTLS(creds))
	}
	if cfg.Env == "dev" {
		opts = append(opts, grpcserver.WithReflection())
	}
	ops := grpcserver.New(logger, probes, opts...)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr), zap.Bool("tls", cfg.GRPC.TLSCert != ""))
		if err := ops.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go ops.Watch(ctx)
	return ops, nil
}
