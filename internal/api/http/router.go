package http

import (
	"github.com/gin-gonic/gin"

	"github.com/parallaxhq/license-server/internal/activation"
	"github.com/parallaxhq/license-server/internal/api/http/handler"
	"github.com/parallaxhq/license-server/internal/api/http/middleware"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/auth"
	"github.com/parallaxhq/license-server/internal/registry"
	"github.com/parallaxhq/license-server/internal/signer"
)

type Services struct {
	Activation    *activation.Service
	Registry      *registry.Registry
	Authority     *signer.Authority
	Auth          *auth.Service
	AuditSink     audit.Sink
	JWTSecret     string
	AdminAPIKey   string
	WebhookSecret string
	RateLimiter   *middleware.KeyedRateLimiter
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	activationHandler := handler.NewActivationHandler(srvs.Activation, srvs.RateLimiter)
	activations := engine.Group("/api/activations")
	{
		activations.POST("/activate", activationHandler.Activate)
		activations.POST("/validate", activationHandler.Validate)
		activations.POST("/deactivate", activationHandler.Deactivate)
	}

	adminHandler := handler.NewAdminHandler(srvs.Registry, srvs.Authority, srvs.Auth, srvs.AuditSink)
	engine.POST("/api/admin/login", adminHandler.Login)

	admin := engine.Group("/api/admin", middleware.AdminAuth(srvs.JWTSecret, srvs.AdminAPIKey))
	{
		admin.POST("/licenses", adminHandler.MintLicense)
		admin.GET("/licenses", adminHandler.ListLicenses)
		admin.POST("/licenses/:key/revoke", adminHandler.RevokeLicense)
		admin.POST("/licenses/:key/suspend", adminHandler.SuspendLicense)
		admin.POST("/licenses/:key/resume", adminHandler.ResumeLicense)
	}

	webhookHandler := handler.NewWebhookHandler(adminHandler, srvs.WebhookSecret)
	engine.POST("/api/webhooks/order", webhookHandler.OrderCompleted)
}
