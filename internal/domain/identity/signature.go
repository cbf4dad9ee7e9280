package identity

import "time"

// Signature is the set of normalized identifiers a single record presents
// for matching. Absent identifiers are empty strings.
type Signature struct {
	TaxID      string
	Phone      string
	NationalID string
	NameBirth  string
}

// NewSignature normalizes the raw identity fields of a record into a
// signature. The name participates only through the composite weak key, and
// only when the birthdate parsed.
func NewSignature(rawTaxID, rawPhone, rawNationalID, rawName string, birthdate time.Time) Signature {
	return Signature{
		TaxID:      NormalizeTaxID(rawTaxID),
		Phone:      NormalizePhone(rawPhone),
		NationalID: NormalizeNationalID(rawNationalID),
		NameBirth:  NameBirthKey(NormalizeName(rawName), birthdate),
	}
}

// Get returns the normalized value for the kind, or "" when absent
func (s Signature) Get(kind Kind) string {
	switch kind {
	case KindTaxID:
		return s.TaxID
	case KindPhone:
		return s.Phone
	case KindNationalID:
		return s.NationalID
	case KindNameBirth:
		return s.NameBirth
	default:
		return ""
	}
}

// HasStrong reports whether at least one strong identifier is present
func (s Signature) HasStrong() bool {
	return s.TaxID != "" || s.Phone != "" || s.NationalID != ""
}

// IsEmpty reports whether the signature carries no identifier at all
func (s Signature) IsEmpty() bool {
	return !s.HasStrong() && s.NameBirth == ""
}

// Strong returns the present strong identifiers in precedence order
func (s Signature) Strong() []Identifier {
	ids := make([]Identifier, 0, 3)
	for _, kind := range StrongKinds() {
		if v := s.Get(kind); v != "" {
			ids = append(ids, Identifier{Kind: kind, Value: v})
		}
	}
	return ids
}

// Matchable returns the identifiers eligible for live-book matching: the
// present strong identifiers, or the weak (name, birthdate) fallback when no
// strong identifier is usable. The fallback is never mixed with strong
// signals.
func (s Signature) Matchable() []Identifier {
	if strong := s.Strong(); len(strong) > 0 {
		return strong
	}
	if s.NameBirth != "" {
		return []Identifier{{Kind: KindNameBirth, Value: s.NameBirth}}
	}
	return nil
}
