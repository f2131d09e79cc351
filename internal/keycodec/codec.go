// Package keycodec produces and checks Parallax license keys.
//
// A key looks like PRLX-XXXX-XXXX-XXXX-XXXX: 24 characters, uppercase
// alphanumeric, grouped in fours. The 16-character body packs a tier tag,
// a coarse issuance-time window, a random nonce and a keyed integrity tag.
// The tag is a cheap structural pre-filter: it rejects typos and casual
// fabrication before any network call, but genuineness is only established
// by the registry lookup at activation time.
package keycodec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/parallaxhq/license-server/internal/license"
)

const (
	// Prefix is the fixed product tag on every key.
	Prefix = "PRLX"

	// KeyLength is the full formatted length including hyphens.
	KeyLength = 24

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	tierLen   = 1
	windowLen = 4
	nonceLen  = 5
	tagLen    = 6
	bodyLen   = tierLen + windowLen + nonceLen + tagLen
)

var keyPattern = regexp.MustCompile(`^PRLX(-[A-Z0-9]{4}){4}$`)

// MintKey issues a new formatted key for tier, tagged with a digest keyed
// by the authority's MAC secret.
func MintKey(tier license.Tier, macKey []byte) (string, error) {
	return mintKeyAt(tier, macKey, time.Now())
}

func mintKeyAt(tier license.Tier, macKey []byte, now time.Time) (string, error) {
	tag := tier.Tag()
	if tag == 0 {
		return "", fmt.Errorf("cannot mint key for tier %q", tier)
	}
	if len(macKey) == 0 {
		return "", fmt.Errorf("mac key is empty")
	}

	window := encodeWindow(now)
	nonce, err := randomNonce(nonceLen)
	if err != nil {
		return "", err
	}

	body := string(tag) + window + nonce
	full := body + integrityTag(body, macKey)

	return format(full), nil
}

// ValidateFormat checks prefix, grouping, length and alphabet. Passing it
// is necessary but not sufficient for a key to be genuine.
func ValidateFormat(s string) bool {
	return len(s) == KeyLength && keyPattern.MatchString(s)
}

// CheckTag recomputes the embedded keyed digest. Requires the issuing
// secret, so it runs server-side (or in the operator CLI), never in clients.
func CheckTag(s string, macKey []byte) bool {
	if !ValidateFormat(s) {
		return false
	}
	body := strip(s)
	return hmac.Equal(
		[]byte(body[bodyLen-tagLen:]),
		[]byte(integrityTag(body[:bodyLen-tagLen], macKey)),
	)
}

// TierOf recovers the tier tag from a structurally valid key.
func TierOf(s string) (license.Tier, error) {
	if !ValidateFormat(s) {
		return "", fmt.Errorf("malformed license key")
	}
	return license.TierFromTag(strip(s)[0])
}

// encodeWindow truncates issuance time to minutes and keeps the low four
// base-36 digits. Coarse provenance only, not an anti-replay mechanism.
func encodeWindow(now time.Time) string {
	minutes := now.Unix() / 60
	const span = 36 * 36 * 36 * 36
	v := minutes % span

	buf := [windowLen]byte{}
	for i := windowLen - 1; i >= 0; i-- {
		d := v % 36
		if d < 10 {
			buf[i] = byte('0' + d)
		} else {
			buf[i] = byte('A' + d - 10)
		}
		v /= 36
	}
	return string(buf[:])
}

func randomNonce(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to draw key nonce: %w", err)
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// integrityTag computes the first three HMAC-SHA256 bytes over the key
// body, rendered as six uppercase hex characters.
func integrityTag(body string, macKey []byte) string {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(body))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)[:tagLen/2]))
}

func format(body string) string {
	segments := make([]string, 0, 5)
	segments = append(segments, Prefix)
	for i := 0; i < len(body); i += 4 {
		segments = append(segments, body[i:i+4])
	}
	return strings.Join(segments, "-")
}

func strip(s string) string {
	return strings.ReplaceAll(strings.TrimPrefix(s, Prefix+"-"), "-", "")
}
