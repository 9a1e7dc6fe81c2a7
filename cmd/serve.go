package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/handlers"
	wgrpc "github.com/Gopher0727/Warden/internal/pkg/grpc"
	"github.com/Gopher0727/Warden/internal/routers"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/utils/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the token introspection RPC and the scheduled sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.close()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log.Logger

	// 日志级别支持热更新
	cfg.Watch(func(lc config.LoggingConfig) {
		a.log.SetLevel(lc.Level)
		log.Info("log level reloaded", zap.String("level", lc.Level))
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	var limiter ratelimit.Limiter
	if a.redis != nil {
		limiter = ratelimit.NewFixedWindowLimiter(a.redis.GetClient(), log.Named("ratelimit"), cfg.RateLimit.FailOpen)
	} else if cfg.RateLimit.Enabled {
		log.Warn("rate limiting needs redis, limits are not enforced")
	}

	ingest := utils.NewWorkerPool(cfg.WorkerPool.IngestSize, cfg.WorkerPool.IngestQueue, log.Named("ingest"))
	ingest.Start()
	defer ingest.Stop()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	routers.SetupRoutes(r, cfg, &routers.Dependencies{
		Auth:          handlers.NewAuthHandler(a.authSvc, a.tokenSvc, log),
		Invites:       handlers.NewInviteHandler(a.inviteSvc, log),
		Media:         handlers.NewMediaHandler(a.mediaSvc, &cfg.Media, log),
		Users:         handlers.NewUserHandler(a.userSvc, log),
		Authenticator: a.tokenSvc,
		Limiter:       limiter,
		IngestPool:    ingest,
		Hub:           a.hub,
		Metrics:       a.metrics,
		Logger:        log.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var rpc *wgrpc.Server
	if cfg.GRPC.Enabled {
		s, err := wgrpc.NewServer(cfg.GRPC.Address, nil, log.Named("grpc"))
		if err != nil {
			return err
		}
		rpc = s
		wgrpc.RegisterTokenServer(rpc.GetServer(), wgrpc.NewTokenServer(a.tokenSvc))
		go func() {
			if err := rpc.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	if cfg.Sweep.Enabled {
		if err := a.sweeper.Start(); err != nil {
			return err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if rpc != nil {
		rpc.Stop()
	}
	return runErr
}
