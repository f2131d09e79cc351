package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(t *testing.T) string {
	t.Helper()
	_, priv, err := GenerateKeypair()
	require.NoError(t, err)
	return hex.EncodeToString(priv.Seed())
}

func TestGenerateKeypairIndependence(t *testing.T) {
	pub1, priv1, err := GenerateKeypair()
	require.NoError(t, err)
	pub2, priv2, err := GenerateKeypair()
	require.NoError(t, err)

	assert.NotEqual(t, pub1, pub2)
	assert.NotEqual(t, priv1, priv2)
}

func TestNewAuthority(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)
	assert.Len(t, a.Public(), ed25519.PublicKeySize)

	_, err = NewAuthority("not-hex")
	assert.ErrorIs(t, err, ErrBadSeed)
	_, err = NewAuthority("deadbeef")
	assert.ErrorIs(t, err, ErrBadSeed)
}

func TestNewAuthorityDeterministic(t *testing.T) {
	seed := testSeed(t)
	a1, err := NewAuthority(seed)
	require.NoError(t, err)
	a2, err := NewAuthority(seed)
	require.NoError(t, err)

	assert.Equal(t, a1.Public(), a2.Public())
	assert.Equal(t, a1.MACKey(), a2.MACKey())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)

	payload := []byte("tier=pro;key=PRLX-AAAA-BBBB-CCCC-DDDD")
	sig := a.Sign(payload)

	assert.True(t, Verify(a.Public(), payload, sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)
	other, _, err := GenerateKeypair()
	require.NoError(t, err)

	payload := []byte("payload")
	sig := a.Sign(payload)

	assert.False(t, Verify(other, payload, sig))
}

func TestVerifyTamperSensitivity(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)

	payload := []byte("the quick brown fox")
	sig := a.Sign(payload)

	// Flip one bit in every byte position of the payload.
	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		assert.False(t, Verify(a.Public(), mutated, sig), "payload byte %d", i)
	}

	// And in every byte position of the signature.
	for i := range sig {
		mutated := append([]byte(nil), sig...)
		mutated[i] ^= 0x01
		assert.False(t, Verify(a.Public(), payload, mutated), "signature byte %d", i)
	}
}

func TestSignLicenseVerifyLicense(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)

	expiry := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second)
	data, err := a.SignLicense(LicensePayload{
		Key:       "PRLX-AAAA-BBBB-CCCC-DDDD",
		Tier:      "pro",
		Features:  []string{"builder", "export"},
		ExpiresAt: &expiry,
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)

	p, err := VerifyLicense(a.Public(), data)
	require.NoError(t, err)
	assert.Equal(t, "pro", p.Tier)
	assert.Equal(t, "PRLX-AAAA-BBBB-CCCC-DDDD", p.Key)
	require.NotNil(t, p.ExpiresAt)
	assert.True(t, expiry.Equal(*p.ExpiresAt))
}

func TestVerifyLicenseRejectsTampering(t *testing.T) {
	a, err := NewAuthority(testSeed(t))
	require.NoError(t, err)

	data, err := a.SignLicense(LicensePayload{
		Key:      "PRLX-AAAA-BBBB-CCCC-DDDD",
		Tier:     "free",
		IssuedAt: time.Now(),
	})
	require.NoError(t, err)

	// Upgrade attempt: rewrite the payload inside the envelope while
	// keeping the original signature.
	var env struct {
		Payload   []byte `json:"payload"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	env.Payload = []byte(strings.Replace(string(env.Payload), `"free"`, `"enterprise"`, 1))
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = VerifyLicense(a.Public(), tampered)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = VerifyLicense(a.Public(), []byte("{}"))
	assert.Error(t, err)
}
