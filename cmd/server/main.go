// Command egi-server starts the EGI reservation engine: the gRPC API, the
// HTTP verification endpoint and the expiry sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	v1 "github.com/autobooknft/egi-reservations/internal/api/reservationsv1"
	"github.com/autobooknft/egi-reservations/internal/audit"
	"github.com/autobooknft/egi-reservations/internal/certificate"
	"github.com/autobooknft/egi-reservations/internal/clock"
	"github.com/autobooknft/egi-reservations/internal/config"
	"github.com/autobooknft/egi-reservations/internal/egilock"
	"github.com/autobooknft/egi-reservations/internal/identity"
	"github.com/autobooknft/egi-reservations/internal/limiter"
	"github.com/autobooknft/egi-reservations/internal/metrics"
	"github.com/autobooknft/egi-reservations/internal/migrate"
	"github.com/autobooknft/egi-reservations/internal/model"
	"github.com/autobooknft/egi-reservations/internal/notify"
	"github.com/autobooknft/egi-reservations/internal/rates"
	"github.com/autobooknft/egi-reservations/internal/repository/memory"
	"github.com/autobooknft/egi-reservations/internal/repository/postgres"
	grpcserver "github.com/autobooknft/egi-reservations/internal/server/grpc"
	"github.com/autobooknft/egi-reservations/internal/server/httpapi"
	"github.com/autobooknft/egi-reservations/internal/service"
	"github.com/autobooknft/egi-reservations/internal/sweeper"
	"github.com/autobooknft/egi-reservations/internal/telemetry"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// storage is what the service and sweeper need from a backend.
type storage interface {
	service.Store
	service.MintGate
	sweeper.Finder
}

// main loads configuration, wires the backends and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (verification, health, metrics)")
	store := flag.String("store", "", "storage backend: postgres or memory")
	dsn := flag.String("dsn", "", "PostgreSQL DSN")
	jwtKey := flag.String("jwt-key", "", "HS256 key for bearer tokens")
	certSecret := flag.String("cert-secret", "", "certificate signing secret")
	certFile := flag.String("tls-cert", "", "TLS certificate (PEM)")
	keyFile := flag.String("tls-key", "", "TLS private key (PEM)")
	dev := flag.Bool("dev", false, "enable server reflection (dev only)")
	flag.Parse()

	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	// explicitly set flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc-addr":
			cfg.GRPCAddr = *grpcAddr
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "store":
			cfg.Store = *store
		case "dsn":
			cfg.DSN = *dsn
		case "jwt-key":
			cfg.JWTKey = *jwtKey
		case "cert-secret":
			cfg.CertificateSecret = *certSecret
		case "tls-cert":
			cfg.TLS.CertFile = *certFile
		case "tls-key":
			cfg.TLS.KeyFile = *keyFile
		case "dev":
			cfg.Dev = *dev
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpcAddr", cfg.GRPCAddr),
		zap.String("httpAddr", cfg.HTTPAddr),
		zap.String("store", cfg.Store),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	m := metrics.New()
	clk := clock.System()

	// Storage
	var (
		st       storage
		lim      limiter.Limiter = limiter.Nop{}
		auditSnk audit.Sink      = audit.NewZapSink(logger)
		ping     httpapi.Pinger
	)
	switch cfg.Store {
	case config.StorePostgres:
		if _, err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer db.Close()
		st = postgres.NewStore(db, cfg.Reservations.LockTimeout)
		ping = db.Ping
		if cfg.Limiter.Enabled {
			lim = limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
		}
		if cfg.AuditSink() == "postgres" {
			auditSnk = postgres.NewAuditRepo(db)
		}
	case config.StoreMemory:
		mem := memory.New()
		for _, e := range cfg.Seed {
			mem.PutEGI(model.EGI{
				ID:                 e.ID,
				CollectionID:       e.CollectionID,
				Title:              e.Title,
				CollectionName:     e.CollectionName,
				MintWindowClosesAt: e.MintWindowClosesAt,
			})
		}
		st = mem
		if cfg.Limiter.Enabled {
			lim = limiter.NewMemory(cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor, clk)
		}
		logger.Warn("in-memory store: state is lost on restart", zap.Int("egis", len(cfg.Seed)))
	}

	// Rates
	var src rates.Source
	if cfg.Rates.FeedURL != "" {
		feed := rates.NewFeed(cfg.Rates.FeedURL, cfg.Rates.RatePerSecond, cfg.Rates.Burst, cfg.Rates.Timeout, logger)
		src = rates.NewCache(feed, cfg.Rates.CacheTTL, clk)
	} else {
		static, err := rates.ParseStatic(cfg.Rates.Static)
		if err != nil {
			logger.Fatal("rates", zap.Error(err))
		}
		src = static
	}

	signer, err := certificate.NewSigner([]byte(cfg.CertificateSecret))
	if err != nil {
		logger.Fatal("certificate signer", zap.Error(err))
	}

	recorder := audit.NewRecorder(auditSnk, cfg.Audit.QueueSize, logger)
	defer recorder.Close()

	var sinks []notify.Sink
	if cfg.Notify.Log {
		sinks = append(sinks, notify.NewLogSink(logger))
	}
	for _, wh := range cfg.Notify.Webhooks {
		sinks = append(sinks, notify.NewWebhookSink(wh.URL, wh.Secret, wh.Timeout))
	}
	dispatcher := notify.NewDispatcher(logger, sinks,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithMetrics(m),
	)
	defer dispatcher.Close()

	// Services
	svc := service.New(st, st, rates.NewConverter(src), signer,
		service.WithLocker(egilock.New(cfg.Reservations.LockTimeout)),
		service.WithClock(clk),
		service.WithDispatcher(dispatcher),
		service.WithAudit(recorder),
		service.WithMetrics(m),
		service.WithLogger(logger),
		service.WithMinOffer(cfg.MinOfferDecimal()),
		service.WithCurrency(cfg.Reservations.Currency),
		service.WithCryptoCurrency(cfg.Reservations.CryptoCurrency),
	)

	sw := sweeper.New(st, svc, sweeper.Config{
		Interval:  cfg.Sweeper.Interval,
		WeakTTL:   cfg.Reservations.WeakTTL,
		BatchSize: cfg.Sweeper.BatchSize,
	}, clk, m, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sw.Run(ctx)
	}()

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.LoggingUnary(logger),
			grpcserver.RecoverUnary(logger),
			grpcserver.AuthUnary(identity.NewJWTResolver([]byte(cfg.JWTKey)), grpcserver.PublicMethods...),
		),
	}
	if cfg.TLS.Enabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("gRPC listener without TLS")
	}
	s := grpc.NewServer(opts...)
	v1.RegisterReservationsServer(s, grpcserver.New(svc, lim, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLS.Enabled()))
		errCh <- s.Serve(lis)
	}()

	var hsrv *http.Server
	if cfg.HTTPAddr != "" {
		api := httpapi.New(svc, ping, m.Handler(), logger)
		hsrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
		stop()
	}

	hs.Shutdown()
	if hsrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hsrv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}
	<-sweepDone

	logger.Info("shutdown complete")
}
