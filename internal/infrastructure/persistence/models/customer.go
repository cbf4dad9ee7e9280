package models

import (
	"time"

	"github.com/offerbook/dedup/internal/domain/customer"
)

// CustomerModel is the GORM persistence model for canonical live-book
// customers.
//
// Identifier columns are nullable: an absent identifier is stored as NULL,
// never "". The partial unique indexes cover only active rows with a real
// value, so deactivated customers release their claims and empty identifiers
// cannot collide with each other.
type CustomerModel struct {
	AggregateModel
	TaxID         *string    `gorm:"type:varchar(64);uniqueIndex:uidx_customers_tax_id,where:status = 'active' AND tax_id IS NOT NULL"`
	Phone         *string    `gorm:"type:varchar(32);uniqueIndex:uidx_customers_phone,where:status = 'active' AND phone IS NOT NULL"`
	NationalID    *string    `gorm:"type:varchar(64);uniqueIndex:uidx_customers_national_id,where:status = 'active' AND national_id IS NOT NULL"`
	NameBirthKey  *string    `gorm:"type:varchar(512);index:idx_customers_name_birth"`
	Email         string     `gorm:"type:varchar(255)"`
	GivenName     string     `gorm:"type:varchar(255)"`
	FamilyName    string     `gorm:"type:varchar(255)"`
	Birthdate     *time.Time `gorm:"type:date"`
	PostalAddress string     `gorm:"type:text"`
	Segment       string     `gorm:"type:varchar(50)"`
	Status        string     `gorm:"type:varchar(20);not null;default:'active';index"`
	SourceChannel string     `gorm:"type:varchar(50);not null"`
}

// TableName specifies the table name
func (CustomerModel) TableName() string {
	return "customers"
}

// ToDomain converts the persistence model to a domain Customer entity.
func (m *CustomerModel) ToDomain() *customer.Customer {
	return &customer.Customer{
		BaseAggregateRoot: m.toBaseAggregateRoot(),
		TaxID:             derefString(m.TaxID),
		Phone:             derefString(m.Phone),
		NationalID:        derefString(m.NationalID),
		Email:             m.Email,
		GivenName:         m.GivenName,
		FamilyName:        m.FamilyName,
		Birthdate:         m.Birthdate,
		PostalAddress:     m.PostalAddress,
		Segment:           m.Segment,
		Status:            customer.Status(m.Status),
		SourceChannel:     m.SourceChannel,
	}
}

// FromDomain populates the persistence model from a domain Customer entity.
// The name-birth key column is recomputed here so weak-identity lookups always
// see the current name and birthdate.
func (m *CustomerModel) FromDomain(c *customer.Customer) {
	m.fromBaseAggregateRoot(c.BaseAggregateRoot)
	m.TaxID = nullableString(c.TaxID)
	m.Phone = nullableString(c.Phone)
	m.NationalID = nullableString(c.NationalID)
	m.NameBirthKey = nullableString(c.Signature().NameBirth)
	m.Email = c.Email
	m.GivenName = c.GivenName
	m.FamilyName = c.FamilyName
	m.Birthdate = c.Birthdate
	m.PostalAddress = c.PostalAddress
	m.Segment = c.Segment
	m.Status = string(c.Status)
	m.SourceChannel = c.SourceChannel
}

// CustomerModelFromDomain creates a new persistence model from a domain Customer entity.
func CustomerModelFromDomain(c *customer.Customer) *CustomerModel {
	m := &CustomerModel{}
	m.FromDomain(c)
	return m
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
