package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/cache"
	"github.com/fruitcopy/server/internal/config"
	"github.com/fruitcopy/server/internal/db"
	httphandler "github.com/fruitcopy/server/internal/http"
	"github.com/fruitcopy/server/internal/http/handlers"
	"github.com/fruitcopy/server/internal/metrics"
	"github.com/fruitcopy/server/internal/middleware"
	"github.com/fruitcopy/server/internal/repo"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	rdb, err := cache.Open(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Initialize repositories
	players := repo.NewPlayerRepo(database)
	refreshTokens := repo.NewRefreshRepo(database)

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	authService := auth.NewAuthService(
		auth.NewCooldown(rdb),
		auth.NewOTPStore(rdb, cfg.OTPSecret),
		auth.NewIdentityResolver(players),
		jwtService,
		auth.NewLedger(refreshTokens, cfg.RefreshTokenTTL, cfg.RefreshReuseDetection, logger),
		players,
		cfg.AccessTokenTTL,
		logger,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	router := httphandler.NewRouter(httphandler.RouterDeps{
		AuthHandler:  handlers.NewAuthHandler(authService, cfg.DevMode, logger, m),
		AdminHandler: handlers.NewAdminHandler(authService, logger),
		JWTService:   jwtService,
		Players:      players,
		IPLimiter:    middleware.NewRateLimiter(rdb, time.Minute, cfg.IPRateLimit, logger),
		Metrics:      m,
		Gatherer:     reg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}
