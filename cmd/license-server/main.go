package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/parallaxhq/license-server/internal/activation"
	internalhttp "github.com/parallaxhq/license-server/internal/api/http"
	"github.com/parallaxhq/license-server/internal/api/http/middleware"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/auth"
	"github.com/parallaxhq/license-server/internal/db"
	"github.com/parallaxhq/license-server/internal/registry"
	"github.com/parallaxhq/license-server/internal/signer"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Parallax License Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(config.Db.Url, config.Db.Schema); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.Db.Url, config.Db.Schema)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	authority, err := signer.NewAuthority(config.Signing.Seed)
	if err != nil {
		slog.Error("Failed to load signing seed", "error", err)
		os.Exit(1)
	}
	slog.Info("Signature authority loaded", "public_key", authority.PublicBase64())

	auditDir := config.Audit.Dir
	if auditDir == "" {
		auditDir = "audit"
	}
	sink, err := audit.NewChainLog(auditDir)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}

	reg := registry.New(pool)
	activationSvc := activation.NewService(reg, sink, authority.MACKey())
	authSvc := auth.NewService(reg, auth.Config{
		Secret:   config.Auth.JwtSecret,
		TokenTTL: config.Auth.TokenTTL,
	})

	rateCfg := config.Http.RateLimit
	if rateCfg.MaxAttempts <= 0 {
		rateCfg.MaxAttempts = 10
	}
	if rateCfg.Window <= 0 {
		rateCfg.Window = time.Minute
	}
	limiter := middleware.NewKeyedRateLimiter(rateCfg.MaxAttempts, rateCfg.Window)
	go limiter.StartCleanup(ctx, 5*time.Minute, 15*time.Minute)

	services := &internalhttp.Services{
		Activation:    activationSvc,
		Registry:      reg,
		Authority:     authority,
		Auth:          authSvc,
		AuditSink:     sink,
		JWTSecret:     config.Auth.JwtSecret,
		AdminAPIKey:   config.Http.AdminAPIKey,
		WebhookSecret: config.Webhook.Secret,
		RateLimiter:   limiter,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
