package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrBadSeed      = errors.New("signing seed must be 32 bytes of hex")
	ErrBadSignature = errors.New("invalid license signature")
)

// Authority holds the issuing side's Ed25519 keypair. The seed is injected
// configuration so tests can instantiate an Authority with ephemeral keys;
// there is no package-level key material.
type Authority struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateKeypair produces a fresh Ed25519 keypair. Every call draws new
// entropy and yields independent keys.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return pub, priv, nil
}

// NewAuthority derives the keypair from a 64-character hex seed.
func NewAuthority(seedHex string) (*Authority, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrBadSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Authority{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// NewAuthorityFromKey wraps an already generated private key.
func NewAuthorityFromKey(priv ed25519.PrivateKey) *Authority {
	return &Authority{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func (a *Authority) Public() ed25519.PublicKey { return a.pub }

// PublicBase64 is the form embedded into client builds.
func (a *Authority) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(a.pub)
}

// MACKey derives the keyed-digest secret used by the key codec's embedded
// integrity tag. It is bound to the signing key but never exposes it.
func (a *Authority) MACKey() []byte {
	sum := sha256.Sum256(append([]byte("prlx-key-mac-v1:"), a.priv.Seed()...))
	return sum[:]
}

func (a *Authority) Sign(payload []byte) []byte {
	return ed25519.Sign(a.priv, payload)
}

// Verify reports whether sig was produced by the secret half of pub over a
// byte-identical payload.
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// LicensePayload is the metadata signed for fully offline verification
// paths, where the license must be checkable without a Registry lookup.
type LicensePayload struct {
	Key       string     `json:"key"`
	Tier      string     `json:"tier"`
	Features  []string   `json:"features"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
}

type signedEnvelope struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// SignLicense wraps a payload and its signature into a portable envelope.
func (a *Authority) SignLicense(p LicensePayload) ([]byte, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal license payload: %w", err)
	}
	env := signedEnvelope{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(a.Sign(payload)),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal license envelope: %w", err)
	}
	return data, nil
}

// VerifyLicense checks an envelope against pub and returns the payload.
// Any mutation of payload or signature bytes fails with ErrBadSignature.
func VerifyLicense(pub ed25519.PublicKey, data []byte) (*LicensePayload, error) {
	var env signedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse license envelope: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode license signature: %w", err)
	}
	if !Verify(pub, env.Payload, sig) {
		return nil, ErrBadSignature
	}
	var p LicensePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse license payload: %w", err)
	}
	return &p, nil
}
