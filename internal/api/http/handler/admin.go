package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parallaxhq/license-server/internal/api/http/dto"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/auth"
	"github.com/parallaxhq/license-server/internal/keycodec"
	"github.com/parallaxhq/license-server/internal/license"
	"github.com/parallaxhq/license-server/internal/registry"
	"github.com/parallaxhq/license-server/internal/signer"
)

type AdminHandler struct {
	registry  *registry.Registry
	authority *signer.Authority
	auth      *auth.Service
	sink      audit.Sink
}

func NewAdminHandler(reg *registry.Registry, authority *signer.Authority, authSvc *auth.Service, sink audit.Sink) *AdminHandler {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &AdminHandler{registry: reg, authority: authority, auth: authSvc, sink: sink}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials"})
			return
		}
		slog.Error("Admin login failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}

func (h *AdminHandler) MintLicense(c *gin.Context) {
	var req dto.MintLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	tier, err := license.ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	lic, err := h.mint(c, req.Email, tier, req.MaxActivations, req.ExpiresAt)
	if err != nil {
		slog.Error("Failed to mint license", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to mint license"})
		return
	}

	resp := licenseToDTO(lic)
	if signed, serr := h.signedPayload(lic); serr == nil {
		resp.SignedPayload = signed
	} else {
		slog.Error("Failed to sign license payload", "key", lic.Key, "error", serr)
	}

	c.JSON(http.StatusCreated, resp)
}

// mint issues a key, persists the license and records the event. Key
// collisions are vanishingly rare but retried a few times anyway since
// the key column is unique.
func (h *AdminHandler) mint(c *gin.Context, email string, tier license.Tier, maxActivations int, expiresAt *time.Time) (*license.License, error) {
	if maxActivations <= 0 {
		maxActivations = license.DefaultMaxActivations(tier)
	}

	var lic *license.License
	for attempt := 0; attempt < 3; attempt++ {
		key, err := keycodec.MintKey(tier, h.authority.MACKey())
		if err != nil {
			return nil, err
		}
		lic, err = h.registry.CreateLicense(c.Request.Context(), &license.License{
			Key:            key,
			Email:          email,
			Tier:           tier,
			MaxActivations: maxActivations,
			ExpiresAt:      expiresAt,
			Features:       license.FeaturesForTier(tier),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, registry.ErrDuplicateKey) {
			return nil, err
		}
	}
	if lic == nil {
		return nil, errors.New("could not mint a unique key")
	}

	if err := h.sink.Record(audit.Event{
		Type:       audit.EventMint,
		LicenseKey: lic.Key,
		Result:     "success",
	}); err != nil {
		slog.Error("Failed to record mint event", "error", err)
	}

	slog.Info("License minted", "key", lic.Key, "tier", lic.Tier, "email", email)
	return lic, nil
}

func (h *AdminHandler) signedPayload(lic *license.License) (string, error) {
	data, err := h.authority.SignLicense(signer.LicensePayload{
		Key:       lic.Key,
		Tier:      string(lic.Tier),
		Features:  lic.Features,
		ExpiresAt: lic.ExpiresAt,
		IssuedAt:  lic.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (h *AdminHandler) ListLicenses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	licenses, total, err := h.registry.ListLicenses(c.Request.Context(), limit, offset)
	if err != nil {
		slog.Error("Failed to list licenses", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return
	}

	resp := dto.ListLicensesResponse{Total: total, Licenses: make([]dto.LicenseResponse, len(licenses))}
	for i := range licenses {
		resp.Licenses[i] = licenseToDTO(&licenses[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) RevokeLicense(c *gin.Context) {
	h.transition(c, license.StatusRevoked, audit.EventRevocation)
}

func (h *AdminHandler) SuspendLicense(c *gin.Context) {
	h.transition(c, license.StatusSuspended, audit.EventSuspension)
}

func (h *AdminHandler) ResumeLicense(c *gin.Context) {
	h.transition(c, license.StatusActive, audit.EventResumption)
}

func (h *AdminHandler) transition(c *gin.Context, status license.Status, eventType audit.EventType) {
	key := c.Param("key")

	lic, err := h.registry.SetLicenseStatus(c.Request.Context(), key, status)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrLicenseNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "license not found"})
		case errors.Is(err, registry.ErrInvalidTransition):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		default:
			slog.Error("Failed to transition license", "key", key, "status", status, "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		}
		return
	}

	if err := h.sink.Record(audit.Event{
		Type:       eventType,
		LicenseKey: lic.Key,
		Result:     "success",
		Reason:     string(status),
	}); err != nil {
		slog.Error("Failed to record status event", "error", err)
	}

	slog.Info("License status changed", "key", lic.Key, "status", status)
	c.JSON(http.StatusOK, licenseToDTO(lic))
}

func licenseToDTO(l *license.License) dto.LicenseResponse {
	return dto.LicenseResponse{
		Key:                l.Key,
		Email:              l.Email,
		Tier:               string(l.Tier),
		Status:             string(l.Status),
		MaxActivations:     l.MaxActivations,
		CurrentActivations: l.CurrentActivations,
		ExpiresAt:          l.ExpiresAt,
		Features:           l.Features,
		CreatedAt:          l.CreatedAt,
	}
}
