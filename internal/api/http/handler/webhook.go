package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parallaxhq/license-server/internal/api/http/dto"
	"github.com/parallaxhq/license-server/internal/license"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// WebhookHandler receives (email, tier, quantity) order events from the
// upstream payment provider and mints licenses in response. The provider
// signs the raw body with a shared secret.
type WebhookHandler struct {
	admin  *AdminHandler
	secret string
}

func NewWebhookHandler(admin *AdminHandler, secret string) *WebhookHandler {
	return &WebhookHandler{admin: admin, secret: secret}
}

func (h *WebhookHandler) OrderCompleted(c *gin.Context) {
	if h.secret == "" {
		slog.Warn("Order webhook secret not configured, rejecting request")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "webhook is not configured"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "cannot read body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(webhookSignatureHeader)) {
		slog.Warn("Order webhook signature mismatch", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid signature"})
		return
	}

	var req dto.OrderWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Email == "" || req.Quantity < 1 || req.Quantity > 100 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid order payload"})
		return
	}

	tier, err := license.ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	keys := make([]string, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		lic, err := h.admin.mint(c, req.Email, tier, 0, nil)
		if err != nil {
			slog.Error("Failed to mint license from order", "email", req.Email, "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to mint licenses"})
			return
		}
		keys = append(keys, lic.Key)
	}

	slog.Info("Order fulfilled", "email", req.Email, "tier", tier, "count", len(keys))
	c.JSON(http.StatusCreated, dto.OrderWebhookResponse{Keys: keys})
}

func (h *WebhookHandler) verifySignature(body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return provided != "" && hmac.Equal([]byte(expected), []byte(provided))
}
