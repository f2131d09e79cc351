package keycodec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxhq/license-server/internal/license"
)

var testMACKey = []byte("0123456789abcdef0123456789abcdef")

func TestMintKeyFormat(t *testing.T) {
	for _, tier := range []license.Tier{license.TierFree, license.TierPro, license.TierTeam, license.TierEnterprise} {
		key, err := MintKey(tier, testMACKey)
		require.NoError(t, err)

		assert.Len(t, key, KeyLength)
		assert.True(t, strings.HasPrefix(key, "PRLX-"))
		assert.True(t, ValidateFormat(key), "minted key %q must pass format check", key)
	}
}

func TestMintKeyUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := MintKey(license.TierPro, testMACKey)
		require.NoError(t, err)
		assert.False(t, seen[key], "duplicate key %q", key)
		seen[key] = true
	}
}

func TestMintKeyRejectsUnknownTier(t *testing.T) {
	_, err := MintKey(license.Tier("platinum"), testMACKey)
	assert.Error(t, err)

	_, err = MintKey(license.TierPro, nil)
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	valid, err := MintKey(license.TierTeam, testMACKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"minted key", valid, true},
		{"static example", "PRLX-AB12-CD34-EF56-GH78", true},
		{"empty", "", false},
		{"wrong prefix", "XRLX" + valid[4:], false},
		{"lowercase", strings.ToLower(valid), false},
		{"missing segment", "PRLX-AB12-CD34-EF56", false},
		{"extra segment", valid + "-AAAA", false},
		{"wrong grouping", strings.Replace(valid, "-", "", 1), false},
		{"punctuation", "PRLX-AB!2-CD34-EF56-GH78", false},
		{"too long segment", "PRLX-AB123-CD34-EF56-GH7", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateFormat(tc.key))
		})
	}
}

func TestCheckTag(t *testing.T) {
	key, err := MintKey(license.TierPro, testMACKey)
	require.NoError(t, err)

	assert.True(t, CheckTag(key, testMACKey))

	// Wrong secret cannot reproduce the tag.
	assert.False(t, CheckTag(key, []byte("some-other-secret-material-here!")))

	// Any single-character mutation of the body invalidates the tag.
	// The window digit positions are covered by the digest as well.
	mutated := []byte(key)
	pos := len("PRLX-") + 1
	if mutated[pos] == 'A' {
		mutated[pos] = 'B'
	} else {
		mutated[pos] = 'A'
	}
	assert.False(t, CheckTag(string(mutated), testMACKey))

	// Structurally invalid keys fail before any digest work.
	assert.False(t, CheckTag("PRLX-nope", testMACKey))
}

func TestTierOf(t *testing.T) {
	for _, tier := range []license.Tier{license.TierFree, license.TierPro, license.TierTeam, license.TierEnterprise} {
		key, err := MintKey(tier, testMACKey)
		require.NoError(t, err)

		got, err := TierOf(key)
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}

	_, err := TierOf("garbage")
	assert.Error(t, err)
}

func TestEncodeWindowStableWithinMinute(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 5, 0, time.UTC)
	w1 := encodeWindow(at)
	w2 := encodeWindow(at.Add(30 * time.Second))
	w3 := encodeWindow(at.Add(2 * time.Minute))

	assert.Len(t, w1, 4)
	assert.Equal(t, w1, w2)
	assert.NotEqual(t, w1, w3)
}
