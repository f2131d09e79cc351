// Package activation implements the activate / validate / deactivate
// protocol against the license registry, with capacity enforcement and
// idempotent re-activation.
package activation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/keycodec"
	"github.com/parallaxhq/license-server/internal/license"
	"github.com/parallaxhq/license-server/internal/registry"
)

// fingerprintPattern: clients submit a 256-bit digest as 64 hex characters.
var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is the registry surface the service needs. ReserveSlot and
// ReleaseSlot must provide the lost-update guarantee for the quota
// counter; everything else is plain reads plus single-row updates.
type Store interface {
	GetLicenseByKey(ctx context.Context, key string) (*license.License, error)
	MarkLicenseExpired(ctx context.Context, licenseID string) error
	FindActiveActivation(ctx context.Context, licenseID, fingerprint string) (*license.Activation, error)
	GetActivationByToken(ctx context.Context, token string) (*license.Activation, *license.License, error)
	TouchActivation(ctx context.Context, activationID string, at time.Time) error
	ReserveSlot(ctx context.Context, licenseID, fingerprint, token string, at time.Time) (*license.Activation, error)
	ReleaseSlot(ctx context.Context, token, fingerprint string, at time.Time) (*license.Activation, error)
}

type Service struct {
	store  Store
	sink   audit.Sink
	macKey []byte
	now    func() time.Time
}

func NewService(store Store, sink audit.Sink, macKey []byte) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Service{store: store, sink: sink, macKey: macKey, now: time.Now}
}

// ActivateParams carries one activation attempt.
type ActivateParams struct {
	LicenseKey         string
	MachineFingerprint string
	AppVersion         string
	OriginIP           string
}

// Result is returned on successful activation or validation.
type Result struct {
	Token     string
	Tier      license.Tier
	Features  []string
	ExpiresAt *time.Time
}

// Activate binds a license key to a machine fingerprint, consuming one
// quota slot unless the fingerprint is already active (idempotent retry).
func (s *Service) Activate(ctx context.Context, p ActivateParams) (*Result, error) {
	emit := func(result string, reason ReasonCode) {
		s.emit(audit.Event{
			Type:        audit.EventActivation,
			LicenseKey:  p.LicenseKey,
			Fingerprint: p.MachineFingerprint,
			OriginIP:    p.OriginIP,
			Result:      result,
			Reason:      string(reason),
		})
	}

	// Structural checks come before any lookup.
	if !keycodec.ValidateFormat(p.LicenseKey) {
		emit("failure", ReasonFormatInvalid)
		return nil, reject(ReasonFormatInvalid, "license key is malformed")
	}
	if len(s.macKey) > 0 && !keycodec.CheckTag(p.LicenseKey, s.macKey) {
		emit("failure", ReasonFormatInvalid)
		return nil, reject(ReasonFormatInvalid, "license key failed integrity check")
	}
	if !fingerprintPattern.MatchString(p.MachineFingerprint) {
		emit("failure", ReasonFormatInvalid)
		return nil, reject(ReasonFormatInvalid, "machine fingerprint must be 64 hex characters")
	}

	lic, err := s.store.GetLicenseByKey(ctx, p.LicenseKey)
	if err != nil {
		if errors.Is(err, registry.ErrLicenseNotFound) {
			emit("failure", ReasonInvalidKey)
			return nil, reject(ReasonInvalidKey, "license key does not exist")
		}
		return nil, fmt.Errorf("lookup license: %w", err)
	}

	now := s.now()
	if err := s.gateLicense(ctx, lic, now); err != nil {
		emit("failure", ReasonOf(err))
		return nil, err
	}

	// Fast path for retries from an already-activated machine.
	existing, err := s.store.FindActiveActivation(ctx, lic.ID, p.MachineFingerprint)
	if err == nil {
		if terr := s.store.TouchActivation(ctx, existing.ID, now); terr != nil {
			return nil, fmt.Errorf("refresh activation: %w", terr)
		}
		emit("success", "")
		slog.Info("Repeated activation from known machine",
			"key", p.LicenseKey, "tier", lic.Tier)
		return s.result(existing.Token, lic), nil
	}
	if !errors.Is(err, registry.ErrActivationNotFound) {
		return nil, fmt.Errorf("lookup activation: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	act, err := s.store.ReserveSlot(ctx, lic.ID, p.MachineFingerprint, token, now)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrLimitReached):
			emit("failure", ReasonLimitReached)
			return nil, reject(ReasonLimitReached, "all %d activation slots are in use", lic.MaxActivations)
		case errors.Is(err, registry.ErrLicenseNotActive):
			// Status changed between our read and the locked re-check.
			emit("failure", ReasonStatusBlocked)
			return nil, reject(ReasonStatusBlocked, "license is not active")
		default:
			return nil, fmt.Errorf("reserve activation slot: %w", err)
		}
	}

	emit("success", "")
	slog.Info("License activated", "key", p.LicenseKey, "tier", lic.Tier,
		"app_version", p.AppVersion)
	return s.result(act.Token, lic), nil
}

// Validate confirms that a token is still good for the presenting machine
// and refreshes its last-validated timestamp.
func (s *Service) Validate(ctx context.Context, token, fingerprint string) (*Result, error) {
	emit := func(key, result string, reason ReasonCode) {
		s.emit(audit.Event{
			Type:        audit.EventValidation,
			LicenseKey:  key,
			Fingerprint: fingerprint,
			Result:      result,
			Reason:      string(reason),
		})
	}

	act, lic, err := s.store.GetActivationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, registry.ErrActivationNotFound) {
			emit("", "failure", ReasonNotFound)
			return nil, reject(ReasonNotFound, "activation token is unknown")
		}
		return nil, fmt.Errorf("lookup activation: %w", err)
	}

	if act.MachineFingerprint != fingerprint {
		emit(lic.Key, "failure", ReasonFingerprintMismatch)
		slog.Warn("Activation token presented from wrong device", "key", lic.Key)
		return nil, reject(ReasonFingerprintMismatch, "token was issued to a different machine")
	}

	now := s.now()
	if err := s.gateLicense(ctx, lic, now); err != nil {
		emit(lic.Key, "failure", ReasonOf(err))
		return nil, err
	}

	if act.Status != license.ActivationActive {
		emit(lic.Key, "failure", ReasonNotFound)
		return nil, reject(ReasonNotFound, "activation is no longer active")
	}

	if err := s.store.TouchActivation(ctx, act.ID, now); err != nil {
		return nil, fmt.Errorf("refresh activation: %w", err)
	}

	emit(lic.Key, "success", "")
	return s.result(act.Token, lic), nil
}

// Deactivate releases the slot held by a matching active activation.
// Already-deactivated or non-matching requests fail with NOT_FOUND.
func (s *Service) Deactivate(ctx context.Context, token, fingerprint string) error {
	act, err := s.store.ReleaseSlot(ctx, token, fingerprint, s.now())
	if err != nil {
		if errors.Is(err, registry.ErrActivationNotFound) {
			s.emit(audit.Event{
				Type:        audit.EventDeactivation,
				Fingerprint: fingerprint,
				Result:      "failure",
				Reason:      string(ReasonNotFound),
			})
			return reject(ReasonNotFound, "no matching active activation")
		}
		return fmt.Errorf("release activation slot: %w", err)
	}

	s.emit(audit.Event{
		Type:        audit.EventDeactivation,
		Fingerprint: fingerprint,
		Result:      "success",
	})
	slog.Info("License deactivated", "activation_id", act.ID)
	return nil
}

// gateLicense enforces status and lazy expiry. An active license whose
// expiry has passed is flipped to expired here (self-healing) and the
// attempt fails with EXPIRED.
func (s *Service) gateLicense(ctx context.Context, lic *license.License, now time.Time) error {
	switch lic.Status {
	case license.StatusSuspended:
		return reject(ReasonStatusBlocked, "license is suspended")
	case license.StatusRevoked:
		return reject(ReasonStatusBlocked, "license has been revoked")
	case license.StatusExpired:
		return reject(ReasonExpired, "license has expired")
	}

	if lic.Expired(now) {
		if err := s.store.MarkLicenseExpired(ctx, lic.ID); err != nil {
			slog.Error("Failed to apply lazy expiry", "key", lic.Key, "error", err)
		}
		return reject(ReasonExpired, "license expired at %s", lic.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) result(token string, lic *license.License) *Result {
	return &Result{
		Token:     token,
		Tier:      lic.Tier,
		Features:  lic.Features,
		ExpiresAt: lic.ExpiresAt,
	}
}

func (s *Service) emit(e audit.Event) {
	if err := s.sink.Record(e); err != nil {
		slog.Error("Failed to record audit event", "type", e.Type, "error", err)
	}
}

// newToken draws a 256-bit activation token, rendered as 64 hex chars.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate activation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
