package license

import "fmt"

// Tier is the capability level attached to a license. It is a closed
// enumeration: adding a tier requires touching every switch below, which
// keeps feature mapping a compile-time concern instead of a lookup that
// silently defaults.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// ParseTier maps a wire string to a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, TierPro, TierTeam, TierEnterprise:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Tag returns the single-character code embedded in license keys.
func (t Tier) Tag() byte {
	switch t {
	case TierFree:
		return 'F'
	case TierPro:
		return 'P'
	case TierTeam:
		return 'T'
	case TierEnterprise:
		return 'E'
	}
	return 0
}

// TierFromTag is the inverse of Tag.
func TierFromTag(c byte) (Tier, error) {
	switch c {
	case 'F':
		return TierFree, nil
	case 'P':
		return TierPro, nil
	case 'T':
		return TierTeam, nil
	case 'E':
		return TierEnterprise, nil
	}
	return "", fmt.Errorf("unknown tier tag %q", string(c))
}

// FeaturesForTier returns the capability strings granted by a tier.
// Higher tiers are supersets of lower ones.
func FeaturesForTier(t Tier) []string {
	switch t {
	case TierFree:
		return []string{"builder", "library", "local_vault"}
	case TierPro:
		return []string{"builder", "library", "local_vault", "ai_assistant", "export", "voice"}
	case TierTeam:
		return []string{"builder", "library", "local_vault", "ai_assistant", "export", "voice", "shared_vault", "team_seats"}
	case TierEnterprise:
		return []string{"builder", "library", "local_vault", "ai_assistant", "export", "voice", "shared_vault", "team_seats", "sso", "audit_export", "priority_support"}
	}
	return nil
}

// DefaultMaxActivations is the per-license device quota assigned at mint
// time when the operator does not override it.
func DefaultMaxActivations(t Tier) int {
	switch t {
	case TierFree:
		return 1
	case TierPro:
		return 2
	case TierTeam:
		return 5
	case TierEnterprise:
		return 25
	}
	return 1
}
