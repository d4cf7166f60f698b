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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cloudrun-ide/internal/config"
	"cloudrun-ide/internal/engine"
	"cloudrun-ide/internal/handlers"
	"cloudrun-ide/internal/language"
	"cloudrun-ide/internal/logging"
	"cloudrun-ide/internal/metrics"
	"cloudrun-ide/internal/middleware"
	"cloudrun-ide/internal/sandbox"
)

func main() {
	// Load .env file; fall back to plain environment variables.
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg := config.Load()
	log.Info("starting CloudRun IDE backend",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := language.NewRegistry()

	driver, err := sandbox.NewDriver(ctx, sandbox.Config{
		Host:        cfg.DockerHost,
		NamePrefix:  cfg.SandboxNamePrefix,
		MemoryBytes: cfg.MaxMemoryBytes,
		CPUQuota:    cfg.MaxCPUQuota,
		CPUPeriod:   cfg.MaxCPUPeriod,
		StopGrace:   cfg.StopGrace,
	})
	if err != nil {
		log.Fatal("docker init failed", zap.Error(err))
	}
	defer driver.Close()

	// Containers left behind by a previous crash are removed before any
	// new execution can collide with their names.
	swept := driver.SweepOrphans(ctx)
	metrics.Get().OrphansSweptTotal.Add(float64(swept))

	if cfg.PrePullImages {
		log.Info("pre-pulling sandbox images")
		for _, tag := range registry.Tags() {
			spec, _ := registry.Lookup(tag)
			if spec.Image == "" {
				continue
			}
			if err := driver.EnsureImage(ctx, spec.Image); err != nil {
				log.Warn("image pre-pull failed",
					zap.String("image", spec.Image), zap.Error(err))
				continue
			}
			metrics.Get().ImagesPulledTotal.Inc()
		}
	}

	eng := engine.New(registry, driver, engine.Config{
		MaxExecutionTime: cfg.MaxExecutionTime,
		StopGrace:        cfg.StopGrace,
	})

	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute)
	h := handlers.New(eng, registry, driver, cfg.CORSOrigins)
	h.Register(router, limiter.Middleware())

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	log.Info("backend ready", zap.String("addr", srv.Addr))

	select {
	case err := <-serverErrors:
		log.Fatal("http server failed", zap.Error(err))
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	// Executions interrupted by shutdown leave containers behind; sweep
	// them with the same prefix match used at startup.
	driver.SweepOrphans(shutdownCtx)
}
