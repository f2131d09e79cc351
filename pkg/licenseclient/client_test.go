package licenseclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxhq/license-server/internal/signer"
)

// deadTransport simulates a machine with no route to the license server.
type deadTransport struct{}

func (deadTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: network is unreachable")
}

func offlineClient(t *testing.T, store CredentialStore) *Client {
	t.Helper()
	c, err := New(Options{
		ServerURL:   "http://license.invalid",
		Store:       store,
		HTTPClient:  &http.Client{Transport: deadTransport{}},
		Fingerprint: testFingerprint,
	})
	require.NoError(t, err)
	return c
}

const testFingerprint = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// validTestKey passes the local format check; the fake servers in these
// tests never inspect it further.
const validTestKey = "PRLX-P0AB-C1DE-F2GH-J3KL"

func proCredential(lastOnline time.Time) *CachedCredential {
	return &CachedCredential{
		ActivationToken:        "tok-pro",
		Tier:                   "pro",
		Features:               []string{"builder", "library", "local_vault", "ai_assistant", "export", "voice"},
		LastOnlineValidationAt: lastOnline,
	}
}

func TestCheckStartupNoCredential(t *testing.T) {
	c := offlineClient(t, &MemoryStore{})

	st := c.CheckStartup(context.Background())

	assert.Equal(t, SourceFree, st.Source)
	assert.Equal(t, "free", st.Tier)
	assert.Contains(t, st.Features, "local_vault")
}

func TestCheckStartupGraceWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("inside window keeps cached tier", func(t *testing.T) {
		store := &MemoryStore{}
		require.NoError(t, store.Save(proCredential(now.Add(-(6*24+23)*time.Hour))))
		c := offlineClient(t, store)
		c.now = func() time.Time { return now }

		st := c.CheckStartup(context.Background())

		assert.Equal(t, SourceGrace, st.Source)
		assert.Equal(t, "pro", st.Tier)
		assert.Contains(t, st.Features, "ai_assistant")
	})

	t.Run("past window degrades to free", func(t *testing.T) {
		store := &MemoryStore{}
		require.NoError(t, store.Save(proCredential(now.Add(-7*24*time.Hour - time.Second))))
		c := offlineClient(t, store)
		c.now = func() time.Time { return now }

		st := c.CheckStartup(context.Background())

		assert.Equal(t, SourceFree, st.Source)
		assert.Equal(t, "free", st.Tier)

		// The credential outlives the window; a later reachable server
		// decides whether it is still good.
		cred, err := store.Load()
		require.NoError(t, err)
		assert.NotNil(t, cred)
	})

	t.Run("offline launches do not extend the window", func(t *testing.T) {
		store := &MemoryStore{}
		lastOnline := now.Add(-3 * 24 * time.Hour)
		require.NoError(t, store.Save(proCredential(lastOnline)))
		c := offlineClient(t, store)
		c.now = func() time.Time { return now }

		c.CheckStartup(context.Background())

		cred, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, lastOnline, cred.LastOnlineValidationAt.UTC())
	})
}

func TestCheckStartupOnlineRefresh(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/activations/validate", r.URL.Path)
		var req validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-pro", req.ActivationToken)
		assert.Equal(t, testFingerprint, req.MachineFingerprint)
		json.NewEncoder(w).Encode(validateResponse{
			Valid:    true,
			Tier:     "pro",
			Features: []string{"builder", "library", "local_vault", "ai_assistant", "export", "voice"},
		})
	}))
	defer srv.Close()

	store := &MemoryStore{}
	require.NoError(t, store.Save(proCredential(now.Add(-5*24*time.Hour))))
	c, err := New(Options{ServerURL: srv.URL, Store: store, Fingerprint: testFingerprint})
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	st := c.CheckStartup(context.Background())

	assert.Equal(t, SourceOnline, st.Source)
	assert.Equal(t, "pro", st.Tier)

	cred, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, now, cred.LastOnlineValidationAt)
}

func TestCheckStartupExplicitRejectionClearsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{
			Valid: false,
			Error: "license is revoked",
			Code:  "STATUS_BLOCKED",
		})
	}))
	defer srv.Close()

	store := &MemoryStore{}
	require.NoError(t, store.Save(proCredential(time.Now())))
	c, err := New(Options{ServerURL: srv.URL, Store: store, Fingerprint: testFingerprint})
	require.NoError(t, err)

	st := c.CheckStartup(context.Background())

	assert.Equal(t, SourceRejected, st.Source)
	assert.Equal(t, "free", st.Tier)

	cred, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cred, "rejected credential must be cleared")
}

func TestCheckStartupServerErrorIsSoftFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	now := time.Now()
	store := &MemoryStore{}
	require.NoError(t, store.Save(proCredential(now.Add(-time.Hour))))
	c, err := New(Options{ServerURL: srv.URL, Store: store, Fingerprint: testFingerprint})
	require.NoError(t, err)

	st := c.CheckStartup(context.Background())

	assert.Equal(t, SourceGrace, st.Source)
	assert.Equal(t, "pro", st.Tier)
}

func TestActivateRejectsMalformedKeyLocally(t *testing.T) {
	c := offlineClient(t, &MemoryStore{})

	_, err := c.Activate(context.Background(), "PRLX-NOT-A-KEY")

	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestActivateTransportFailureIsTransient(t *testing.T) {
	c := offlineClient(t, &MemoryStore{})

	_, err := c.Activate(context.Background(), validTestKey)

	assert.ErrorIs(t, err, ErrTransientNetwork)
}

func TestActivateCachesCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/activations/activate", r.URL.Path)
		json.NewEncoder(w).Encode(activateResponse{
			Success:         true,
			ActivationToken: "tok-new",
			Tier:            "team",
			Features:        []string{"builder", "library", "local_vault", "shared_vault"},
		})
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &MemoryStore{}
	c, err := New(Options{ServerURL: srv.URL, Store: store, Fingerprint: testFingerprint})
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	st, err := c.Activate(context.Background(), validTestKey)
	require.NoError(t, err)
	assert.Equal(t, SourceOnline, st.Source)
	assert.Equal(t, "team", st.Tier)

	cred, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "tok-new", cred.ActivationToken)
	assert.Equal(t, now, cred.LastOnlineValidationAt)
}

func TestActivateQuotaRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(activateResponse{
			Success: false,
			Error:   "activation limit reached",
			Code:    "LIMIT_REACHED",
		})
	}))
	defer srv.Close()

	store := &MemoryStore{}
	c, err := New(Options{ServerURL: srv.URL, Store: store, Fingerprint: testFingerprint})
	require.NoError(t, err)

	_, err = c.Activate(context.Background(), validTestKey)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "LIMIT_REACHED", apiErr.Code)

	cred, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Nil(t, cred)
}

func TestDeactivateClearsCacheEvenOffline(t *testing.T) {
	store := &MemoryStore{}
	require.NoError(t, store.Save(proCredential(time.Now())))
	c := offlineClient(t, store)

	require.NoError(t, c.Deactivate(context.Background()))

	cred, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestVerifyOfflinePayload(t *testing.T) {
	pub, priv, err := signer.GenerateKeypair()
	require.NoError(t, err)
	auth := signer.NewAuthorityFromKey(priv)

	envelope, err := auth.SignLicense(signer.LicensePayload{
		Key:      validTestKey,
		Tier:     "enterprise",
		Features: []string{"builder", "sso"},
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(envelope)

	c, err := New(Options{
		ServerURL:   "http://license.invalid",
		PublicKey:   pub,
		Store:       &MemoryStore{},
		HTTPClient:  &http.Client{Transport: deadTransport{}},
		Fingerprint: testFingerprint,
	})
	require.NoError(t, err)

	payload, err := c.VerifyOfflinePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", payload.Tier)

	// A foreign key must not verify.
	otherPub, _, err := signer.GenerateKeypair()
	require.NoError(t, err)
	c.publicKey = otherPub
	_, err = c.VerifyOfflinePayload(encoded)
	assert.Error(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "parallax"))
	require.NoError(t, err)

	cred, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cred, "empty store loads nil")

	want := proCredential(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ActivationToken, got.ActivationToken)
	assert.Equal(t, want.Tier, got.Tier)
	assert.True(t, want.LastOnlineValidationAt.Equal(got.LastOnlineValidationAt))

	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), fp)
	assert.Equal(t, fp, Fingerprint(), "fingerprint must be stable within a host")
}
