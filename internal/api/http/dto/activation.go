package dto

import "time"

type ActivateRequest struct {
	LicenseKey         string `json:"license_key" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
	AppVersion         string `json:"app_version"`
}

type ActivateResponse struct {
	Success         bool       `json:"success"`
	ActivationToken string     `json:"activation_token"`
	Tier            string     `json:"tier"`
	Features        []string   `json:"features"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type ValidateRequest struct {
	ActivationToken    string `json:"activation_token" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
}

// ValidateResponse is returned with HTTP 200 even for protocol
// rejections: the client needs the reason code to distinguish a
// known-bad credential from a transport failure.
type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Tier      string     `json:"tier,omitempty"`
	Features  []string   `json:"features,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
}

type DeactivateRequest struct {
	ActivationToken    string `json:"activation_token" binding:"required"`
	MachineFingerprint string `json:"machine_fingerprint" binding:"required"`
}

type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
