package dto

import "time"

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type MintLicenseRequest struct {
	Email          string     `json:"email" binding:"required,email"`
	Tier           string     `json:"tier" binding:"required"`
	MaxActivations int        `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type LicenseResponse struct {
	Key                string     `json:"key"`
	Email              string     `json:"email"`
	Tier               string     `json:"tier"`
	Status             string     `json:"status"`
	MaxActivations     int        `json:"max_activations"`
	CurrentActivations int        `json:"current_activations"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Features           []string   `json:"features"`
	CreatedAt          time.Time  `json:"created_at"`
	// SignedPayload is a portable Ed25519-signed copy of the license
	// metadata for offline verification paths. Only set on mint.
	SignedPayload string `json:"signed_payload,omitempty"`
}

type ListLicensesResponse struct {
	Licenses []LicenseResponse `json:"licenses"`
	Total    int64             `json:"total"`
}

type OrderWebhookRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Tier     string `json:"tier" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1,max=100"`
}

type OrderWebhookResponse struct {
	Keys []string `json:"keys"`
}
