package licenseclient

import (
	"context"
	"net/http"
	"time"
)

// Source says how a startup Status was decided.
type Source string

const (
	// SourceOnline means the server confirmed the activation just now.
	SourceOnline Source = "online"
	// SourceGrace means the server was unreachable and the cached
	// credential is still inside the offline grace window.
	SourceGrace Source = "grace"
	// SourceFree means no usable credential exists; the app runs on the
	// free tier.
	SourceFree Source = "free"
	// SourceRejected means the server explicitly rejected the cached
	// credential, which has been cleared.
	SourceRejected Source = "rejected"
)

// Status is the entitlement decision handed to the application at launch.
type Status struct {
	Tier      string
	Features  []string
	ExpiresAt *time.Time
	Source    Source
}

// freeStatus is what an install without entitlements runs on.
func freeStatus(src Source) *Status {
	return &Status{
		Tier:     "free",
		Features: []string{"builder", "library", "local_vault"},
		Source:   src,
	}
}

// CheckStartup decides the tier for this launch. It attempts an online
// validation of the cached credential; on transport failure it falls back
// to the cache for up to the grace period past the last successful online
// validation. Only an explicit server rejection clears the cache; a dead
// network never revokes anything. CheckStartup itself never returns an
// error: any failure degrades to the free tier.
func (c *Client) CheckStartup(ctx context.Context) *Status {
	cred, err := c.store.Load()
	if err != nil || cred == nil {
		return freeStatus(SourceFree)
	}

	var resp validateResponse
	httpStatus, err := c.post(ctx, "/api/activations/validate", validateRequest{
		ActivationToken:    cred.ActivationToken,
		MachineFingerprint: c.fingerprint,
	}, &resp)
	if err != nil || httpStatus != http.StatusOK {
		// Transport failure or server-side fault: soft failure.
		return c.graceFallback(cred)
	}

	if !resp.Valid {
		// The server saw the credential and said no. Hard failure.
		_ = c.store.Clear()
		return freeStatus(SourceRejected)
	}

	cred.Tier = resp.Tier
	cred.Features = resp.Features
	cred.ExpiresAt = resp.ExpiresAt
	cred.LastOnlineValidationAt = c.now()
	_ = c.store.Save(cred)

	return &Status{
		Tier:      resp.Tier,
		Features:  resp.Features,
		ExpiresAt: resp.ExpiresAt,
		Source:    SourceOnline,
	}
}

// graceFallback grants the cached tier while the last online validation is
// recent enough. The validation timestamp is deliberately not advanced, so
// repeated offline launches cannot extend the window. The cache survives
// past the window: the next reachable server decides its fate.
func (c *Client) graceFallback(cred *CachedCredential) *Status {
	elapsed := c.now().Sub(cred.LastOnlineValidationAt)
	if elapsed > c.gracePeriod {
		return freeStatus(SourceFree)
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(c.now()) {
		return freeStatus(SourceFree)
	}
	return &Status{
		Tier:      cred.Tier,
		Features:  cred.Features,
		ExpiresAt: cred.ExpiresAt,
		Source:    SourceGrace,
	}
}
