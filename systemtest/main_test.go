package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/parallaxhq/license-server/internal/activation"
	internalhttp "github.com/parallaxhq/license-server/internal/api/http"
	"github.com/parallaxhq/license-server/internal/api/http/middleware"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/auth"
	"github.com/parallaxhq/license-server/internal/db"
	"github.com/parallaxhq/license-server/internal/registry"
	"github.com/parallaxhq/license-server/internal/signer"
	"github.com/parallaxhq/license-server/systemtest/postgres"
	"github.com/parallaxhq/license-server/systemtest/tests"
)

const (
	testSigningSeed = "8f7a1c0b9e2d43568f7a1c0b9e2d43568f7a1c0b9e2d43568f7a1c0b9e2d4356"
	testJWTSecret   = "system-test-jwt-secret"
	testAdminAPIKey = "system-test-api-key"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed system test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "license", "license", "licensedb")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, postgres.TerminatePostgres(context.Background(), container))
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(dbURL, "public"))

	pool, err := db.InitDB(ctx, dbURL, "public")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	authority, err := signer.NewAuthority(testSigningSeed)
	require.NoError(t, err)

	sink, err := audit.NewChainLog(t.TempDir())
	require.NoError(t, err)

	reg := registry.New(pool)
	services := &internalhttp.Services{
		Activation:    activation.NewService(reg, sink, authority.MACKey()),
		Registry:      reg,
		Authority:     authority,
		Auth:          auth.NewService(reg, auth.Config{Secret: testJWTSecret, TokenTTL: time.Hour}),
		AuditSink:     sink,
		JWTSecret:     testJWTSecret,
		AdminAPIKey:   testAdminAPIKey,
		WebhookSecret: "system-test-webhook-secret",
		// High ceiling so only the dedicated rate limit test trips it.
		RateLimiter: middleware.NewKeyedRateLimiter(1000, time.Minute),
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, services)

	env := &tests.Env{
		Router:    engine,
		APIKey:    testAdminAPIKey,
		JWTSecret: testJWTSecret,
		PublicKey: authority.Public(),
		AuditLog:  sink,
	}

	t.Run("AdminLogin", func(t *testing.T) { tests.TestAdminLogin(t, env) })
	t.Run("LicenseLifecycle", func(t *testing.T) { tests.TestLicenseLifecycle(t, env) })
	t.Run("ActivationQuotaUnderContention", func(t *testing.T) { tests.TestActivationQuotaUnderContention(t, env) })
	t.Run("AuditChain", func(t *testing.T) { tests.TestAuditChain(t, env) })
}
