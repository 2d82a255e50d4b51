// Package scope is the domain model: the Scope aggregate with its aliases,
// aspects and context views, expressed as value types, event payloads and
// pure decide/apply functions. Nothing in this package touches storage.
package scope

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kamiazya/scopes/pkg/domain"
)

// TitleMaxLen bounds titles in runes.
const TitleMaxLen = 200

// Title is a validated, NFC-normalized scope title.
type Title struct {
	value string
}

// NewTitle parses a raw title. Blank and oversized titles are rejected here,
// before any cross-aggregate rule runs.
func NewTitle(raw string) (Title, error) {
	t := norm.NFC.String(strings.TrimSpace(raw))
	if t == "" {
		return Title{}, domain.InputError(domain.ReasonBlankTitle, "title must not be blank")
	}
	if utf8.RuneCountInString(t) > TitleMaxLen {
		return Title{}, domain.InputError(domain.ReasonTitleTooLong, "title exceeds 200 characters").
			With("length", utf8.RuneCountInString(t))
	}
	for _, r := range t {
		if unicode.IsControl(r) {
			return Title{}, domain.InputError(domain.ReasonBlankTitle, "title must not contain control characters")
		}
	}
	return Title{value: t}, nil
}

func (t Title) String() string { return t.value }

// IsZero reports whether the title is unset.
func (t Title) IsZero() bool { return t.value == "" }

// NormalizeTitle returns the case-folded form used for sibling uniqueness.
// Two titles are duplicates when their normalized forms match.
func NormalizeTitle(title string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(title)))
}
