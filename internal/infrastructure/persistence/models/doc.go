// Package models holds the GORM persistence models, one per table. Domain
// types carry no ORM tags; each model owns the column and index definitions
// for its table and converts to and from its domain counterpart.
//
// The split earns its keep where the schema encodes invariants the domain
// cannot: the partial unique indexes on customer identifiers, the composite
// (channel, source_ref) key on offers, and the outbox claim columns.
package models
