// Package customer holds the canonical live-book customer aggregate. A
// customer is created when a batch group finds no live-book match, enriched
// when a later batch resolves to it, and deactivated rather than deleted.
package customer

import (
	"strings"
	"time"

	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// Status represents the lifecycle status of a canonical customer
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Customer is the canonical, deduplicated customer record. At most one
// active customer may hold any given strong identifier value; the store
// enforces this with partial unique indexes.
type Customer struct {
	shared.BaseAggregateRoot
	TaxID         string // normalized, "" when absent
	Phone         string // normalized, "" when absent
	NationalID    string // normalized, "" when absent
	Email         string
	GivenName     string
	FamilyName    string
	Birthdate     *time.Time
	PostalAddress string
	Segment       string
	Status        Status
	SourceChannel string // channel that first introduced this customer
}

// Attributes carries the identity attributes a new customer is built from.
// Identifier fields are expected in normalized form.
type Attributes struct {
	TaxID         string
	Phone         string
	NationalID    string
	Email         string
	GivenName     string
	FamilyName    string
	Birthdate     *time.Time
	PostalAddress string
	Segment       string
	SourceChannel string
}

// NewCustomer creates a canonical customer from incoming attributes.
// A customer must be reachable through at least one matchable identifier;
// otherwise later batches could never resolve back to it.
func NewCustomer(attrs Attributes) (*Customer, error) {
	c := &Customer{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		TaxID:             attrs.TaxID,
		Phone:             attrs.Phone,
		NationalID:        attrs.NationalID,
		Email:             strings.ToLower(strings.TrimSpace(attrs.Email)),
		GivenName:         strings.TrimSpace(attrs.GivenName),
		FamilyName:        strings.TrimSpace(attrs.FamilyName),
		Birthdate:         attrs.Birthdate,
		PostalAddress:     strings.TrimSpace(attrs.PostalAddress),
		Segment:           attrs.Segment,
		Status:            StatusActive,
		SourceChannel:     attrs.SourceChannel,
	}

	if c.Signature().IsEmpty() {
		return nil, shared.NewDomainError("UNMATCHABLE_CUSTOMER", "Customer must carry at least one matchable identifier")
	}

	c.AddDomainEvent(NewCustomerCreatedEvent(c))

	return c, nil
}

// Signature returns the identity signature the customer is reachable by
func (c *Customer) Signature() identity.Signature {
	var birth time.Time
	if c.Birthdate != nil {
		birth = *c.Birthdate
	}
	return identity.Signature{
		TaxID:      c.TaxID,
		Phone:      c.Phone,
		NationalID: c.NationalID,
		NameBirth:  identity.NameBirthKey(identity.NormalizeName(c.FullName()), birth),
	}
}

// IdentifierValue returns the stored normalized value for a strong kind,
// or "" when the customer does not carry it.
func (c *Customer) IdentifierValue(kind identity.Kind) string {
	switch kind {
	case identity.KindTaxID:
		return c.TaxID
	case identity.KindPhone:
		return c.Phone
	case identity.KindNationalID:
		return c.NationalID
	default:
		return ""
	}
}

// Enrich merges incoming attributes into the customer: absent fields are
// filled, populated fields are never overwritten. Returns the identifier
// kinds that were newly filled and whether anything changed at all; an
// enrichment that fills nothing leaves the customer untouched, so
// reprocessing a batch does not churn versions.
func (c *Customer) Enrich(attrs Attributes) ([]identity.Kind, bool) {
	var filled []identity.Kind
	changed := false

	if c.TaxID == "" && attrs.TaxID != "" {
		c.TaxID = attrs.TaxID
		filled = append(filled, identity.KindTaxID)
		changed = true
	}
	if c.Phone == "" && attrs.Phone != "" {
		c.Phone = attrs.Phone
		filled = append(filled, identity.KindPhone)
		changed = true
	}
	if c.NationalID == "" && attrs.NationalID != "" {
		c.NationalID = attrs.NationalID
		filled = append(filled, identity.KindNationalID)
		changed = true
	}
	if c.Email == "" && attrs.Email != "" {
		c.Email = strings.ToLower(strings.TrimSpace(attrs.Email))
		changed = true
	}
	if c.GivenName == "" && attrs.GivenName != "" {
		c.GivenName = strings.TrimSpace(attrs.GivenName)
		changed = true
	}
	if c.FamilyName == "" && attrs.FamilyName != "" {
		c.FamilyName = strings.TrimSpace(attrs.FamilyName)
		changed = true
	}
	if c.Birthdate == nil && attrs.Birthdate != nil {
		c.Birthdate = attrs.Birthdate
		changed = true
	}
	if c.PostalAddress == "" && attrs.PostalAddress != "" {
		c.PostalAddress = strings.TrimSpace(attrs.PostalAddress)
		changed = true
	}
	if c.Segment == "" && attrs.Segment != "" {
		c.Segment = attrs.Segment
		changed = true
	}

	if !changed {
		return nil, false
	}

	c.UpdatedAt = time.Now()
	c.IncrementVersion()

	c.AddDomainEvent(NewCustomerEnrichedEvent(c, filled))

	return filled, true
}

// Activate puts a retired customer back in the live book. Its identifier
// values become matchable again; if another active customer claimed one of
// them in the meantime, the save fails on the uniqueness check.
func (c *Customer) Activate() error {
	if c.Status == StatusActive {
		return shared.NewDomainError("ALREADY_ACTIVE", "Customer is already active")
	}

	c.Status = StatusActive
	c.UpdatedAt = time.Now()
	c.IncrementVersion()

	c.AddDomainEvent(NewCustomerStatusChangedEvent(c, StatusInactive, StatusActive))

	return nil
}

// Deactivate retires the customer from the live book. Deactivated customers
// release their identifier uniqueness claims and no longer match.
func (c *Customer) Deactivate() error {
	if c.Status == StatusInactive {
		return shared.NewDomainError("ALREADY_INACTIVE", "Customer is already inactive")
	}

	c.Status = StatusInactive
	c.UpdatedAt = time.Now()
	c.IncrementVersion()

	c.AddDomainEvent(NewCustomerStatusChangedEvent(c, StatusActive, StatusInactive))

	return nil
}

// IsActive returns true if the customer is active
func (c *Customer) IsActive() bool {
	return c.Status == StatusActive
}

// FullName returns the customer's display name
func (c *Customer) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName))
}
