package registry

import "errors"

var (
	// ErrLicenseNotFound means no license row exists for the key.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrActivationNotFound means no activation row matches the token.
	ErrActivationNotFound = errors.New("activation not found")
	// ErrLimitReached is returned by ReserveSlot when the quota check
	// inside the locking transaction fails.
	ErrLimitReached = errors.New("activation limit reached")
	// ErrLicenseNotActive is returned by ReserveSlot when the license
	// status changed between the caller's read and the locked re-check.
	ErrLicenseNotActive = errors.New("license is not active")
	// ErrDuplicateKey means a minted key collided with an existing row.
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrInvalidTransition is returned by SetLicenseStatus for a
	// disallowed status change, such as resuming a revoked license.
	ErrInvalidTransition = errors.New("invalid license status transition")
)
