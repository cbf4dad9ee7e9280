package customer

import (
	"github.com/google/uuid"
	"github.com/offerbook/dedup/internal/domain/identity"
	"github.com/offerbook/dedup/internal/domain/shared"
)

// Aggregate type constant
const AggregateTypeCustomer = "Customer"

// Event type constants
const (
	EventTypeCustomerCreated       = "CustomerCreated"
	EventTypeCustomerEnriched      = "CustomerEnriched"
	EventTypeCustomerStatusChanged = "CustomerStatusChanged"
)

// CustomerCreatedEvent is published when a new canonical customer enters the live book
type CustomerCreatedEvent struct {
	shared.BaseDomainEvent
	CustomerID    uuid.UUID `json:"customer_id"`
	TaxID         string    `json:"tax_id,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	NationalID    string    `json:"national_id,omitempty"`
	FullName      string    `json:"full_name,omitempty"`
	SourceChannel string    `json:"source_channel,omitempty"`
}

// NewCustomerCreatedEvent creates a new CustomerCreatedEvent
func NewCustomerCreatedEvent(c *Customer) *CustomerCreatedEvent {
	return &CustomerCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCustomerCreated, AggregateTypeCustomer, c.ID),
		CustomerID:      c.ID,
		TaxID:           c.TaxID,
		Phone:           c.Phone,
		NationalID:      c.NationalID,
		FullName:        c.FullName(),
		SourceChannel:   c.SourceChannel,
	}
}

// CustomerEnrichedEvent is published when a merge fills attributes on an existing customer
type CustomerEnrichedEvent struct {
	shared.BaseDomainEvent
	CustomerID  uuid.UUID       `json:"customer_id"`
	FilledKinds []identity.Kind `json:"filled_kinds,omitempty"`
}

// NewCustomerEnrichedEvent creates a new CustomerEnrichedEvent
func NewCustomerEnrichedEvent(c *Customer, filled []identity.Kind) *CustomerEnrichedEvent {
	return &CustomerEnrichedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCustomerEnriched, AggregateTypeCustomer, c.ID),
		CustomerID:      c.ID,
		FilledKinds:     filled,
	}
}

// CustomerStatusChangedEvent is published when a customer's status changes
type CustomerStatusChangedEvent struct {
	shared.BaseDomainEvent
	CustomerID uuid.UUID `json:"customer_id"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
}

// NewCustomerStatusChangedEvent creates a new CustomerStatusChangedEvent
func NewCustomerStatusChangedEvent(c *Customer, oldStatus, newStatus Status) *CustomerStatusChangedEvent {
	return &CustomerStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCustomerStatusChanged, AggregateTypeCustomer, c.ID),
		CustomerID:      c.ID,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
}
