package shared

// BaseAggregateRoot extends BaseEntity with the version counter for
// optimistic locking and a buffer of domain events raised since the last
// save. Events accumulate on the aggregate and are drained into the
// outbox in the same transaction that persists the state change.
type BaseAggregateRoot struct {
	BaseEntity
	Version      int
	domainEvents []DomainEvent
}

// NewBaseAggregateRoot creates an aggregate root at version 1.
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity: NewBaseEntity(),
		Version:    1,
	}
}

// IncrementVersion bumps the optimistic lock version. Every state
// transition calls this; SaveWithLock compares against Version-1.
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// AddDomainEvent buffers an event for the next outbox drain.
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns the buffered events without draining them.
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents empties the event buffer.
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}
