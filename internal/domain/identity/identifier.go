// Package identity defines the identifier vocabulary of the dedup engine:
// identifier kinds with their matching precedence, normalization of raw
// identifier fields, and the identity signature a record presents for
// matching. Normalization is pure and never fails; unusable input simply
// yields an absent identifier that does not participate in matching.
package identity

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind identifies the type of an identity signal
type Kind string

const (
	// KindTaxID is the PAN-equivalent tax identifier, the strongest signal
	KindTaxID Kind = "tax_id"
	// KindPhone is the customer phone number
	KindPhone Kind = "phone"
	// KindNationalID is the national identity number
	KindNationalID Kind = "national_id"
	// KindNameBirth is the weak (name, birthdate) fallback, consulted only
	// when a record carries none of the strong kinds
	KindNameBirth Kind = "name_birth"
	// KindNone marks decisions that no identifier produced
	KindNone Kind = ""
)

// StrongKinds returns the strong identifier kinds in matching precedence
// order. The slice is freshly allocated; callers may reorder it.
func StrongKinds() []Kind {
	return []Kind{KindTaxID, KindPhone, KindNationalID}
}

// String returns the kind as a string
func (k Kind) String() string {
	return string(k)
}

// Identifier is a normalized (kind, value) pair
type Identifier struct {
	Kind  Kind
	Value string
}

// BirthdateLayout is the canonical calendar-date layout for birthdates
const BirthdateLayout = "2006-01-02"

// stripDiacritics decomposes to NFD, drops combining marks and recomposes,
// so "José" and "Jose" normalize to the same key.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTaxID upper-cases the raw value and strips all whitespace.
// Returns "" when nothing usable remains.
func NormalizeTaxID(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	return strings.ToUpper(cleaned)
}

// NormalizePhone removes every non-digit character from the raw value.
// Returns "" when nothing usable remains.
func NormalizePhone(raw string) string {
	return digitsOnly(raw)
}

// NormalizeNationalID removes every non-digit character from the raw value.
// Returns "" when nothing usable remains.
func NormalizeNationalID(raw string) string {
	return digitsOnly(raw)
}

// NormalizeName case-folds the raw name, strips diacritics, trims and
// collapses internal whitespace runs to single spaces.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(stripDiacritics, raw)
	if err != nil {
		// Malformed input falls back to the undecorated form; the name is a
		// weak signal either way.
		folded = raw
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// ParseBirthdate parses a raw birthdate into a UTC calendar date.
// Accepts the canonical 2006-01-02 layout and RFC 3339 timestamps (the date
// part is taken). The second return value is false when unparsable.
func ParseBirthdate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(BirthdateLayout, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// NameBirthKey builds the composite weak-identifier value from an already
// normalized name and a parsed birthdate.
func NameBirthKey(normalizedName string, birthdate time.Time) string {
	if normalizedName == "" || birthdate.IsZero() {
		return ""
	}
	return normalizedName + "|" + birthdate.Format(BirthdateLayout)
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
