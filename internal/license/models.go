package license

import "time"

// License status values. Licenses are never deleted; revocation and
// expiry are status transitions so the audit trail stays intact.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// ActivationStatus values for a single device binding.
type ActivationStatus string

const (
	ActivationActive      ActivationStatus = "active"
	ActivationDeactivated ActivationStatus = "deactivated"
)

// License is one issued entitlement, identified by its formatted key.
// Invariant: 0 <= CurrentActivations <= MaxActivations.
type License struct {
	ID                 string
	Key                string
	Email              string
	Tier               Tier
	Status             Status
	MaxActivations     int
	CurrentActivations int
	ExpiresAt          *time.Time // nil = perpetual
	Features           []string
	CreatedAt          time.Time
}

// Expired reports whether the license has a hard expiry in the past.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Activation binds one license to one machine fingerprint. At most one
// active Activation may exist per (license, fingerprint) pair.
type Activation struct {
	ID                 string
	LicenseID          string
	Token              string
	MachineFingerprint string
	Status             ActivationStatus
	ActivatedAt        time.Time
	LastValidatedAt    time.Time
	DeactivatedAt      *time.Time
}
