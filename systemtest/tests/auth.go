package tests

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxhq/license-server/internal/api/http/dto"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/auth"
)

// Env carries the shared fixtures for one system test run.
type Env struct {
	Router    *gin.Engine
	APIKey    string
	JWTSecret string
	PublicKey ed25519.PublicKey
	AuditLog  *audit.ChainLog
}

func TestAdminLogin(t *testing.T, env *Env) {
	t.Run("success with seeded admin", func(t *testing.T) {
		body := dto.LoginRequest{Username: "admin", Password: "changeme"}
		rr := doJSON(env.Router, "POST", "/api/admin/login", body)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)

		claims, err := auth.ValidateToken(env.JWTSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		body := dto.LoginRequest{Username: "admin", Password: "wrongpassword"}
		rr := doJSON(env.Router, "POST", "/api/admin/login", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("nonexistent admin", func(t *testing.T) {
		body := dto.LoginRequest{Username: "nobody", Password: "changeme"}
		rr := doJSON(env.Router, "POST", "/api/admin/login", body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("jwt token grants admin access", func(t *testing.T) {
		body := dto.LoginRequest{Username: "admin", Password: "changeme"}
		rr := doJSON(env.Router, "POST", "/api/admin/login", body)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

		rr = doJSONWithBearer(env.Router, "GET", "/api/admin/licenses", nil, resp.Token)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("admin routes reject missing credentials", func(t *testing.T) {
		rr := doJSON(env.Router, "GET", "/api/admin/licenses", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doJSONWithAPIKey(router *gin.Engine, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doJSONWithBearer(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
