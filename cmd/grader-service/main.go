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

	"codegrader/internal/common/cache"
	commonmw "codegrader/internal/common/http/middleware"
	"codegrader/internal/common/mq"
	"codegrader/internal/grader/controller"
	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/observer"
	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/report"
	"codegrader/internal/grader/repository"
	"codegrader/internal/grader/service"
	"codegrader/internal/grader/toolchain"
	"codegrader/internal/grader/workspace"
	"codegrader/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Path to optional .env file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grader service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	if appCfg.Metrics.Enabled {
		metrics = observer.NewPrometheusRecorder(registry)
	}

	runner, err := engine.NewRunner(appCfg.Grader.toEngineConfig())
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	workspaces, err := workspace.NewManager(appCfg.Grader.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("init workspace manager: %w", err)
	}
	languages, err := toolchain.BuildRegistry(appCfg.Languages, runner, toolchain.Options{
		StrictStderr:  *appCfg.Grader.StrictCompileStderr,
		CompileLimits: appCfg.Limits.toCompileLimits(),
	})
	if err != nil {
		return fmt.Errorf("init languages: %w", err)
	}
	grader := orchestrator.New(workspaces, languages, engine.New(runner), metrics, orchestrator.Config{
		DefaultLimits: appCfg.Limits.toRunLimits(),
	})

	svcCfg := service.Config{
		Grader:           grader,
		Languages:        languages,
		Reporter:         report.New(workspaces.Root()),
		JobTopic:         appCfg.Kafka.JobTopic,
		MaxConcurrent:    appCfg.Grader.MaxConcurrent,
		AdmissionTimeout: appCfg.Grader.AdmissionTimeout,
		StatusTimeout:    appCfg.Redis.StatusTimeout,
		MaxSourceBytes:   appCfg.Grader.MaxSourceBytes,
		MaxInputBytes:    appCfg.Grader.MaxInputBytes,
		MaxTestCases:     appCfg.Grader.MaxTestCases,
	}

	var limiter *commonmw.RateLimiter
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		svcCfg.Jobs = repository.NewJobRepository(redisCache, appCfg.Redis.JobTTL)
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Window, appCfg.Redis.StatusTimeout)
	}

	var queue *mq.KafkaQueue
	if appCfg.Kafka.enabled() {
		queue, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer func() {
			_ = queue.Close()
		}()
		svcCfg.Queue = queue
		svcCfg.Verdicts = repository.NewMQVerdictPublisher(queue, appCfg.Kafka.VerdictTopic)
	}

	graderSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init grader service: %w", err)
	}

	if queue != nil {
		if err := queue.SubscribeWithOptions(ctx, appCfg.Kafka.JobTopic, graderSvc.HandleJobMessage, appCfg.Kafka.subscribeOptions()); err != nil {
			return fmt.Errorf("subscribe kafka: %w", err)
		}
		if err := queue.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		logger.Info(ctx, "job consumer started",
			zap.String("topic", appCfg.Kafka.JobTopic),
			zap.Int("concurrency", appCfg.Kafka.Concurrency),
		)
	}

	httpServer := buildHTTPServer(appCfg, graderSvc, limiter, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "grader http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if appCfg.Metrics.Enabled {
		collector := observer.NewHostCollector(registry, workspaces.Root(), appCfg.Metrics.HostInterval)
		g.Go(func() error {
			return collector.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down grader service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		if queue != nil {
			_ = queue.Stop()
		}
		return nil
	})
	return g.Wait()
}

func buildHTTPServer(appCfg *AppConfig, svc *service.Service, limiter *commonmw.RateLimiter, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if appCfg.Metrics.Enabled {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	controller.RegisterRoutes(router, controller.NewGraderController(svc), limiter, routeLimits(appCfg.RateLimit))

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func routeLimits(cfg RateLimitConfig) controller.RouteLimits {
	policy := func(rule RateLimitRule) commonmw.RateLimitPolicy {
		return commonmw.RateLimitPolicy{Window: cfg.Window, IPMax: rule.IPMax, RouteMax: rule.RouteMax}
	}
	return controller.RouteLimits{
		Grade: policy(cfg.Grade),
		Run:   policy(cfg.Run),
		Jobs:  policy(cfg.Jobs),
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
