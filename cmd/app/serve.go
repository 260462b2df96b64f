package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/untibullet/request-desk/internal/auth"
	"github.com/untibullet/request-desk/internal/cache"
	"github.com/untibullet/request-desk/internal/config"
	"github.com/untibullet/request-desk/internal/goroutine"
	"github.com/untibullet/request-desk/internal/handlers"
	"github.com/untibullet/request-desk/internal/markup"
	"github.com/untibullet/request-desk/internal/migrations"
	"github.com/untibullet/request-desk/internal/notify"
	"github.com/untibullet/request-desk/internal/otp"
	"github.com/untibullet/request-desk/internal/ratelimit"
	"github.com/untibullet/request-desk/internal/realtime"
	"github.com/untibullet/request-desk/internal/redisdb"
	"github.com/untibullet/request-desk/internal/repository"
	"github.com/untibullet/request-desk/internal/service"
	"github.com/untibullet/request-desk/internal/sla"
	"github.com/untibullet/request-desk/internal/sms"
	"github.com/untibullet/request-desk/internal/storage"
	"github.com/untibullet/request-desk/internal/transcription"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE:  runServe,
	}
}

// eventBus межпроцессная шина событий
type eventBus interface {
	realtime.Publisher
	realtime.Subscriber
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting request desk service",
		zap.String("server_address", cfg.Server.GetAddress()))

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Подключение к базе данных
	pool, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, pool, log); err != nil {
			return err
		}
	}

	rdb, err := redisdb.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	log.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))

	repo := repository.New(pool)

	bus, closeBus, err := initBus(cfg.Realtime, rdb, log)
	if err != nil {
		return err
	}
	defer closeBus()

	hub := realtime.NewHub(log)
	defer hub.Close()

	var wg sync.WaitGroup
	startWorker := func(name string, run func(context.Context) error) {
		wg.Add(1)
		goroutine.SafeGo(log, name, func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				log.Error("worker stopped with error", zap.String("worker", name), zap.Error(err))
			}
		})
	}

	deps := service.Dependencies{
		Publisher:      bus,
		Renderer:       markup.New(),
		MaxUploadBytes: cfg.Storage.MaxSizeMB << 20,
	}

	sinks := []realtime.Sink{hub}
	if cfg.Cache.Enabled {
		requestCache := cache.New(rdb, cfg.Cache, log)
		deps.Cache = requestCache
		sinks = append(sinks, requestCache)
	}

	var dispatcher *notify.Dispatcher
	if cfg.Notification.Enabled {
		outbox := notify.NewRedisOutbox(rdb, cfg.Notification.QueueKey, cfg.Notification.DeadQueueKey, cfg.Notification.InstanceID)
		if n, err := outbox.Recover(ctx); err != nil {
			log.Warn("failed to requeue in-flight notifications", zap.Error(err))
		} else if n > 0 {
			log.Info("requeued in-flight notifications", zap.Int("count", n))
		}

		dispatcher = notify.NewDispatcher(outbox, log, cfg.Notification.Timeout)
		deps.Notifier = dispatcher

		sender := notify.NewHTTPSender(cfg.Notification.Endpoint, cfg.Notification.Secret, cfg.Notification.Timeout)
		startWorker("notification-worker", notify.NewWorker(outbox, sender, cfg.Notification.MaxAttempts, log).Run)
	} else {
		log.Warn("notifications are disabled")
	}

	if cfg.Storage.Endpoint != "" {
		objects, err := storage.NewMinio(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		deps.Objects = objects
	} else {
		log.Warn("attachment storage is not configured")
	}

	startWorker("realtime-relay", realtime.NewRelay(bus, log, sinks...).Run)
	startWorker("sla-sweeper", sla.NewSweeper(repo, sla.NewClassifier(cfg.SLA.AtRiskRatio), bus, cfg.SLA.SweepInterval, log).Run)

	limiter, err := initLimiter(cfg.RateLimit, rdb)
	if err != nil {
		return err
	}
	smsClient, err := sms.New(cfg.SMS, log)
	if err != nil {
		return err
	}
	if !smsClient.IsEnabled() {
		log.Warn("SMS disabled, verification codes will not be delivered")
	}
	otpService := otp.NewService(repo, limiter, smsClient, cfg.OTP, log)

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	requests := service.NewRequestService(repo, deps, log)
	handler := handlers.New(requests, otpService, transcription.New(cfg.Transcription), hub, log)

	e := newServer(cfg, log)
	handler.RegisterRoutes(e, verifier.Middleware())

	// Запуск сервера в горутине
	go func() {
		addr := cfg.Server.GetAddress()
		log.Info("server listening", zap.String("address", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start failed", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()
	log.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	wg.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}

	log.Info("server stopped")
	return nil
}

func newServer(cfg *config.Config, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				log.Info("request",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
				)
			} else {
				log.Error("request error",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Error(v.Error),
				)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	// запас сверху на multipart-заголовки
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.Storage.MaxSizeMB+1)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func initBus(cfg config.RealtimeConfig, rdb *redis.Client, log *zap.Logger) (eventBus, func(), error) {
	switch cfg.Backend {
	case "", "redis":
		return realtime.NewRedisBus(rdb, cfg.Channel, log), func() {}, nil
	case "nats":
		nc, err := realtime.ConnectNats(cfg.NatsURL, log)
		if err != nil {
			return nil, nil, err
		}
		return realtime.NewNatsBus(nc, cfg.Channel, log), func() { _ = nc.Drain() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown realtime backend %q", cfg.Backend)
	}
}

// initLimiter memory подходит только для одного экземпляра
func initLimiter(cfg config.RateLimitConfig, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.Backend {
	case "", "redis":
		return ratelimit.NewRedisLimiter(rdb), nil
	case "memory":
		return ratelimit.NewMemoryLimiter(), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
