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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	zerologadapter "github.com/deskgate/deskgate/adapters/zerolog"
	"github.com/deskgate/deskgate/gateway"
	"github.com/deskgate/deskgate/internal/config"
	"github.com/deskgate/deskgate/middleware"
	"github.com/deskgate/deskgate/ratelimit"
	"github.com/deskgate/deskgate/store"
	"github.com/deskgate/deskgate/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	limiterLog := zerologadapter.New(&logger)

	counterStore, closeStore := initStore(cfg, logger, limiterLog)
	defer closeStore()

	gw := gateway.New(gateway.Options{
		Store: counterStore,
		Pipeline: upload.New(upload.Config{
			MaxFileSize: cfg.MaxFileSize,
			MaxFiles:    cfg.MaxFilesPerRequest,
		}),
		Upload:    middleware.UploadOptions{FileField: "files"},
		JWTSecret: []byte(cfg.JWTSecret),
		Logger:    limiterLog,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, gw)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		return
	}
	logger.Info().Msg("gateway stopped")
}

// initStore builds the shared counter store when REDIS_URL is configured.
// Without it, or when the initial probe fails, admission runs fail-open
// rather than refusing to start.
func initStore(cfg config.Config, logger zerolog.Logger, limiterLog ratelimit.Logger) (ratelimit.Store, func()) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, admission control runs fail-open")
		return nil, func() {}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid REDIS_URL, admission control runs fail-open")
		return nil, func() {}
	}

	rs := store.NewRedis(redis.NewClient(opts))

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		// Keep the store: it tracks health per call and recovers on its own.
		logger.Warn().Err(err).Msg("redis unreachable at startup, admitting fail-open until it recovers")
	}

	return rs, func() {
		if err := rs.Close(); err != nil {
			limiterLog.Warnf("closing redis client: %v", err)
		}
	}
}

func registerRoutes(router *gin.Engine, gw *gateway.Gateway) {
	auth := router.Group("/auth", gw.Protect(gateway.ClassAuth)...)
	auth.POST("/login", loginHandler)

	api := router.Group("/api", gw.Protect(gateway.ClassAPI)...)
	api.GET("/tickets", listTicketsHandler)

	search := router.Group("/api/search", gw.Protect(gateway.ClassSearch)...)
	search.GET("", searchHandler)

	uploads := router.Group("/api/uploads", gw.Protect(gateway.ClassUpload)...)
	uploads.POST("", uploadHandler)
}

// The handlers below stand in for the business services behind the gateway.
// They echo just enough to exercise the admission and validation path.

func loginHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func listTicketsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickets": []string{}})
}

func searchHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": []string{}, "query": c.Query("q")})
}

func uploadHandler(c *gin.Context) {
	accepted := middleware.UploadsFrom(c)
	names := make([]string, 0, len(accepted))
	for _, f := range accepted {
		names = append(names, f.Filename)
	}
	c.JSON(http.StatusOK, gin.H{"accepted": names})
}
