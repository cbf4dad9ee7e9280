package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/offerbook/dedup/internal/domain/shared"
)

// EventSerializer rebuilds typed domain events from outbox payloads.
// The pipeline stages events as plain JSON; the relay needs the concrete
// Go type back before it can publish, and that mapping lives here. An
// event type without a registration dead-letters at the relay.
type EventSerializer struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventSerializer creates a serializer with no registered types.
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		types: make(map[string]reflect.Type),
	}
}

// Register maps eventType to the prototype's concrete Go type. The
// eventType must match what EventType() returns on a decoded instance;
// the prototype's value is discarded.
func (s *EventSerializer) Register(eventType string, prototype shared.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.types[eventType] = t
}

// Deserialize decodes an outbox payload back into its registered concrete
// event. The result is always a pointer to the registered struct type.
func (s *EventSerializer) Deserialize(eventType string, payload []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	t, ok := s.types[eventType]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no registration for event type %s", eventType)
	}

	value := reflect.New(t)
	if err := json.Unmarshal(payload, value.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	event, ok := value.Interface().(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("registered type for %s does not implement DomainEvent", eventType)
	}
	return event, nil
}

// RegisteredTypes lists every registered event type, sorted.
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
