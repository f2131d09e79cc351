package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parallaxhq/license-server/internal/activation"
	"github.com/parallaxhq/license-server/internal/api/http/dto"
	"github.com/parallaxhq/license-server/internal/api/http/middleware"
)

type ActivationHandler struct {
	service *activation.Service
	limiter *middleware.KeyedRateLimiter
}

func NewActivationHandler(service *activation.Service, limiter *middleware.KeyedRateLimiter) *ActivationHandler {
	return &ActivationHandler{service: service, limiter: limiter}
}

func (h *ActivationHandler) Activate(c *gin.Context) {
	var req dto.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(c.ClientIP()+"|"+req.LicenseKey) {
		slog.Warn("Activation rate limit hit", "client_ip", c.ClientIP())
		c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "too many activation attempts, try again later"})
		return
	}

	res, err := h.service.Activate(c.Request.Context(), activation.ActivateParams{
		LicenseKey:         req.LicenseKey,
		MachineFingerprint: req.MachineFingerprint,
		AppVersion:         req.AppVersion,
		OriginIP:           c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ActivateResponse{
		Success:         true,
		ActivationToken: res.Token,
		Tier:            string(res.Tier),
		Features:        res.Features,
		ExpiresAt:       res.ExpiresAt,
	})
}

// Validate reports protocol rejections with HTTP 200 and valid:false so
// the client can separate "server said no" from "no response".
func (h *ActivationHandler) Validate(c *gin.Context) {
	var req dto.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.Validate(c.Request.Context(), req.ActivationToken, req.MachineFingerprint)
	if err != nil {
		var protoErr *activation.Error
		if errors.As(err, &protoErr) {
			c.JSON(http.StatusOK, dto.ValidateResponse{
				Valid: false,
				Error: protoErr.Message,
				Code:  string(protoErr.Code),
			})
			return
		}
		slog.Error("Validation failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.ValidateResponse{
		Valid:     true,
		Tier:      string(res.Tier),
		Features:  res.Features,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *ActivationHandler) Deactivate(c *gin.Context) {
	var req dto.DeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), req.ActivationToken, req.MachineFingerprint); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DeactivateResponse{
		Success: true,
		Message: "license deactivated on this machine",
	})
}

func (h *ActivationHandler) writeError(c *gin.Context, err error) {
	var protoErr *activation.Error
	if !errors.As(err, &protoErr) {
		slog.Error("Activation operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(statusForReason(protoErr.Code), dto.ErrorResponse{
		Error: protoErr.Message,
		Code:  string(protoErr.Code),
	})
}

func statusForReason(code activation.ReasonCode) int {
	switch code {
	case activation.ReasonFormatInvalid:
		return http.StatusBadRequest
	case activation.ReasonInvalidKey, activation.ReasonNotFound:
		return http.StatusNotFound
	case activation.ReasonStatusBlocked, activation.ReasonFingerprintMismatch:
		return http.StatusForbidden
	case activation.ReasonExpired:
		return http.StatusGone
	case activation.ReasonLimitReached:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
