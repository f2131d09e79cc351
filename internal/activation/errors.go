package activation

import (
	"errors"
	"fmt"
)

// ReasonCode identifies why a protocol operation was rejected. The codes
// are part of the wire contract: clients branch on them to tell a
// known-bad credential from a merely unconfirmed one.
type ReasonCode string

const (
	// ReasonFormatInvalid fails the cheap structural check before any lookup.
	ReasonFormatInvalid ReasonCode = "FORMAT_INVALID"
	// ReasonInvalidKey means the key does not resolve to a license.
	ReasonInvalidKey ReasonCode = "INVALID_KEY"
	// ReasonStatusBlocked covers suspended and revoked licenses.
	ReasonStatusBlocked ReasonCode = "STATUS_BLOCKED"
	// ReasonExpired is time-based and applied lazily.
	ReasonExpired ReasonCode = "EXPIRED"
	// ReasonLimitReached means the activation quota is exhausted.
	ReasonLimitReached ReasonCode = "LIMIT_REACHED"
	// ReasonNotFound means the activation token is unresolvable.
	ReasonNotFound ReasonCode = "NOT_FOUND"
	// ReasonFingerprintMismatch means the token was presented from the
	// wrong device. Callers should treat this as suspicious.
	ReasonFingerprintMismatch ReasonCode = "FINGERPRINT_MISMATCH"
)

// Error is a protocol rejection carrying its reason code. Server-internal
// failures (datastore down) are ordinary wrapped errors, not *Error.
type Error struct {
	Code    ReasonCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code ReasonCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason code from an error chain, or "" if the
// error is not a protocol rejection.
func ReasonOf(err error) ReasonCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
