// Package licenseclient is the client-resident half of the activation
// protocol: it activates license keys against the license server, caches
// the resulting credential, and keeps a previously activated install
// working through a bounded offline grace window.
package licenseclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/parallaxhq/license-server/internal/keycodec"
	"github.com/parallaxhq/license-server/internal/signer"
)

// DefaultGracePeriod bounds offline use after the last successful online
// validation.
const DefaultGracePeriod = 7 * 24 * time.Hour

const defaultTimeout = 10 * time.Second

var (
	ErrInvalidKeyFormat = errors.New("license key format is invalid")

	// ErrTransientNetwork wraps transport-level failures. It never means
	// the server rejected anything; callers should retry or fall back to
	// the cached credential.
	ErrTransientNetwork = errors.New("license server unreachable")
)

// APIError is an explicit rejection from the license server, carrying the
// protocol reason code. It is never produced for transport failures.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Options configures a Client. PublicKey is the Ed25519 key embedded in
// the application build; Store defaults to an in-memory store if nil.
type Options struct {
	ServerURL   string
	PublicKey   ed25519.PublicKey
	Store       CredentialStore
	HTTPClient  *http.Client
	AppVersion  string
	GracePeriod time.Duration
	// Fingerprint overrides the derived machine fingerprint. Tests use
	// it; real clients leave it empty.
	Fingerprint string
}

type Client struct {
	serverURL   string
	publicKey   ed25519.PublicKey
	store       CredentialStore
	httpClient  *http.Client
	appVersion  string
	gracePeriod time.Duration
	fingerprint string
	now         func() time.Time
}

func New(opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	c := &Client{
		serverURL:   opts.ServerURL,
		publicKey:   opts.PublicKey,
		store:       opts.Store,
		httpClient:  opts.HTTPClient,
		appVersion:  opts.AppVersion,
		gracePeriod: opts.GracePeriod,
		fingerprint: opts.Fingerprint,
		now:         time.Now,
	}
	if c.store == nil {
		c.store = &MemoryStore{}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.gracePeriod <= 0 {
		c.gracePeriod = DefaultGracePeriod
	}
	if c.fingerprint == "" {
		c.fingerprint = Fingerprint()
	}
	return c, nil
}

type activateRequest struct {
	LicenseKey         string `json:"license_key"`
	MachineFingerprint string `json:"machine_fingerprint"`
	AppVersion         string `json:"app_version"`
}

type activateResponse struct {
	Success         bool       `json:"success"`
	ActivationToken string     `json:"activation_token"`
	Tier            string     `json:"tier"`
	Features        []string   `json:"features"`
	ExpiresAt       *time.Time `json:"expires_at"`
	Error           string     `json:"error"`
	Code            string     `json:"code"`
}

type validateRequest struct {
	ActivationToken    string `json:"activation_token"`
	MachineFingerprint string `json:"machine_fingerprint"`
}

type validateResponse struct {
	Valid     bool       `json:"valid"`
	Tier      string     `json:"tier"`
	Features  []string   `json:"features"`
	ExpiresAt *time.Time `json:"expires_at"`
	Error     string     `json:"error"`
	Code      string     `json:"code"`
}

// Activate redeems a license key for this machine and caches the
// returned credential. The key format is checked locally first so an
// obvious typo never costs a network round trip.
func (c *Client) Activate(ctx context.Context, licenseKey string) (*Status, error) {
	if !keycodec.ValidateFormat(licenseKey) {
		return nil, ErrInvalidKeyFormat
	}

	var resp activateResponse
	status, err := c.post(ctx, "/api/activations/activate", activateRequest{
		LicenseKey:         licenseKey,
		MachineFingerprint: c.fingerprint,
		AppVersion:         c.appVersion,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !resp.Success {
		return nil, &APIError{Code: resp.Code, Message: resp.Error}
	}

	cred := &CachedCredential{
		ActivationToken:        resp.ActivationToken,
		Tier:                   resp.Tier,
		Features:               resp.Features,
		ExpiresAt:              resp.ExpiresAt,
		LastOnlineValidationAt: c.now(),
	}
	if err := c.store.Save(cred); err != nil {
		return nil, fmt.Errorf("cache credential: %w", err)
	}

	return &Status{
		Tier:      resp.Tier,
		Features:  resp.Features,
		ExpiresAt: resp.ExpiresAt,
		Source:    SourceOnline,
	}, nil
}

// Deactivate releases this machine's slot. Local state is cleared even
// when the server is unreachable, so a machine can always be reset.
func (c *Client) Deactivate(ctx context.Context) error {
	cred, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if _, err := c.post(ctx, "/api/activations/deactivate", validateRequest{
		ActivationToken:    cred.ActivationToken,
		MachineFingerprint: c.fingerprint,
	}, &resp); err != nil {
		// Server unreachable: still clear local state.
		if cerr := c.store.Clear(); cerr != nil {
			return cerr
		}
		return nil
	}

	return c.store.Clear()
}

// VerifyOfflinePayload checks a signed license payload against the
// embedded public key, for distribution channels that ship license
// metadata without server contact.
func (c *Client) VerifyOfflinePayload(encoded string) (*signer.LicensePayload, error) {
	if len(c.publicKey) != ed25519.PublicKeySize {
		return nil, errors.New("no embedded public key configured")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode offline payload: %w", err)
	}
	payload, err := signer.VerifyLicense(c.publicKey, data)
	if err != nil {
		return nil, err
	}
	if payload.ExpiresAt != nil && payload.ExpiresAt.Before(c.now()) {
		return nil, errors.New("offline license payload has expired")
	}
	return payload, nil
}

// post sends a JSON request and decodes the body into out. A returned
// error means transport failure; HTTP-level rejections decode into out
// and return the status code.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.appVersion != "" {
		req.Header.Set("User-Agent", "Parallax/"+c.appVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("parse server response: %w", err)
	}
	return resp.StatusCode, nil
}
