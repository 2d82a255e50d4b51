package scope

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/kamiazya/scopes/pkg/domain"
)

// AliasMaxLen bounds alias names.
const AliasMaxLen = 64

const aliasPattern = `^[a-z][a-z0-9]*(-[a-z0-9]+)*$`

// AliasKind distinguishes the single canonical alias from custom ones.
type AliasKind string

const (
	AliasCanonical AliasKind = "canonical"
	AliasCustom    AliasKind = "custom"
)

// NewAliasName validates and normalizes a user-supplied alias: lower-case
// words of letters and digits joined by single hyphens.
func NewAliasName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || len(name) > AliasMaxLen {
		return "", domain.InputError(domain.ReasonInvalidAlias, "alias must be 1..64 characters")
	}
	if !govalidator.Matches(name, aliasPattern) {
		return "", domain.InputError(domain.ReasonInvalidAlias,
			"alias must be lower-case words of letters and digits joined by hyphens").
			With("alias", name)
	}
	return name, nil
}

// Word lists for generated canonical aliases. Order is part of the
// generation contract: reordering would change existing derivations.
var (
	aliasAdjectives = [32]string{
		"quiet", "bold", "calm", "brisk", "deep", "warm", "keen", "clear",
		"swift", "still", "bright", "plain", "sharp", "soft", "wide", "firm",
		"fresh", "light", "proud", "solid", "spare", "steep", "sound", "exact",
		"prime", "rapid", "level", "vivid", "amber", "coral", "ivory", "slate",
	}
	aliasNouns = [32]string{
		"river", "stone", "cedar", "harbor", "meadow", "summit", "willow", "canyon",
		"ember", "grove", "ridge", "delta", "basin", "cliff", "marsh", "shoal",
		"prairie", "tundra", "lagoon", "mesa", "fjord", "atoll", "dune", "glade",
		"heath", "knoll", "strait", "vale", "bluff", "crag", "reef", "spur",
	}
)

const crockford = "0123456789abcdefghjkmnpqrstvwxyz"

// GenerateCanonicalAlias derives a canonical alias deterministically from a
// seed (the scope's ULID). The same seed always yields the same alias;
// distinct seeds collide only in the 20-bit suffix, and the claim on the
// alias index catches those.
func GenerateCanonicalAlias(seed string) string {
	h := fnv.New64a()
	h.Write([]byte(seed))
	sum := h.Sum64()

	adjective := aliasAdjectives[sum&31]
	noun := aliasNouns[(sum>>5)&31]

	suffix := make([]byte, 4)
	rest := sum >> 10
	for i := range suffix {
		suffix[i] = crockford[rest&31]
		rest >>= 5
	}

	return fmt.Sprintf("%s-%s-%s", adjective, noun, suffix)
}
