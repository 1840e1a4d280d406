package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/nurse-call-api/internal/config"
	"github.com/jwalitptl/nurse-call-api/internal/handler/health"
	promhandler "github.com/jwalitptl/nurse-call-api/internal/handler/prometheus"
	"github.com/jwalitptl/nurse-call-api/internal/handler/request"
	"github.com/jwalitptl/nurse-call-api/internal/handler/stream"
	"github.com/jwalitptl/nurse-call-api/internal/hub"
	"github.com/jwalitptl/nurse-call-api/internal/middleware"
	"github.com/jwalitptl/nurse-call-api/internal/repository"
	"github.com/jwalitptl/nurse-call-api/internal/repository/memory"
	"github.com/jwalitptl/nurse-call-api/internal/repository/postgres"
	"github.com/jwalitptl/nurse-call-api/internal/router"
	"github.com/jwalitptl/nurse-call-api/internal/service/coordination"
	"github.com/jwalitptl/nurse-call-api/internal/worker"
	"github.com/jwalitptl/nurse-call-api/pkg/auth"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging/redis"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

const metricsNamespace = "nursecall"

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log.ToLoggerConfig())
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(metricsNamespace, reg)

	store := memory.NewRequestStore()
	deps := make(map[string]health.Pinger)

	var (
		db      *sqlx.DB
		archive repository.RequestArchive
		broker  messaging.Broker
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		deps["database"] = db

		archive = postgres.NewRequestArchive(db)
		n, err := store.Hydrate(ctx, archive)
		if err != nil {
			return err
		}
		log.Info("Hydrated request store from archive", "requests", n)
	} else {
		log.Warn("No database configured; requests will not survive a restart")
	}

	if cfg.Redis.URL != "" {
		rb, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.ZL)
		if err != nil {
			return err
		}
		defer rb.Close()
		deps["redis"] = rb
		broker = rb
	}

	h := hub.New(cfg.Hub.ToHubConfig(hub.BootSeq(time.Now())), log, m)
	svc, err := coordination.NewService(ctx, store, h, coordination.Config{
		IdempotencyTTL: cfg.Coordination.IdempotencyTTL,
	}, log, m)
	if err != nil {
		return err
	}

	var jwtSvc auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		jwtSvc = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		log.Warn("No JWT secret configured; trusting identity headers")
	}

	r := router.NewRouter(
		log,
		m,
		jwtSvc,
		request.NewHandler(svc),
		stream.NewHandler(h, stream.Config{AllowedOrigins: cfg.CORS.AllowedOrigins}, log),
		health.NewHandler(h, deps),
		promhandler.New(reg),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RPS),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins),
			RequestTimeout:   cfg.Server.RequestTimeout,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if archive != nil || broker != nil {
		relay := worker.NewRelay(h, svc, archive, broker, worker.RelayConfig{
			Channel:           cfg.Redis.Channel,
			RetryAttempts:     cfg.Relay.RetryAttempts,
			RetryDelay:        cfg.Relay.RetryDelay,
			ReconnectDelay:    cfg.Relay.ReconnectDelay,
			ReconnectMaxDelay: cfg.Relay.ReconnectMaxDelay,
			BreakerFailures:   cfg.Relay.BreakerFailures,
			BreakerTimeout:    cfg.Relay.BreakerTimeout,
		}, log, m)
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error(err, "Server stopped with error")
		return err
	}
	log.Info("Server exited properly")
	return nil
}
