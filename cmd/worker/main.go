package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/nurse-call-api/internal/config"
	"github.com/jwalitptl/nurse-call-api/internal/email"
	"github.com/jwalitptl/nurse-call-api/internal/handler/health"
	promhandler "github.com/jwalitptl/nurse-call-api/internal/handler/prometheus"
	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/worker"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/messaging/redis"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "nurse-call-worker",
		Short:        "Email the nurse station about urgent requests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yml")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log.ToLoggerConfig())
	gin.SetMode(gin.ReleaseMode)

	if cfg.Redis.URL == "" {
		return errors.New("redis.url is not set")
	}
	if len(cfg.Alert.Recipients) == 0 {
		log.Warn("No alert recipients configured; events will be consumed but not emailed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics("nursecall_worker", reg)

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.ZL)
	if err != nil {
		return err
	}
	defer broker.Close()

	minPriority, err := model.ParsePriority(cfg.Alert.MinPriority)
	if err != nil {
		return err
	}
	dispatcher := worker.NewAlertDispatcher(
		broker,
		email.NewSMTPService(cfg.SMTP.ToEmailConfig()),
		worker.AlertConfig{
			Channel:     cfg.Redis.Channel,
			Recipients:  cfg.Alert.Recipients,
			MinPriority: minPriority,
		},
		log,
		m,
	)

	engine := gin.New()
	health.NewHandler(nil, map[string]health.Pinger{"redis": broker}).RegisterRoutes(engine.Group(""))
	promhandler.New(reg).RegisterRoutes(engine)
	srv := &http.Server{Addr: cfg.Alert.HealthAddr, Handler: engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dispatcher.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("event subscription closed")
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error(err, "Worker stopped with error")
		return err
	}
	log.Info("Worker exited properly")
	return nil
}
