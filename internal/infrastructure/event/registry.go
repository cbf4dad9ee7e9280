package event

import (
	"slices"
	"sync"

	"github.com/offerbook/dedup/internal/domain/shared"
)

// wildcardType subscribes a handler to every event. Real event types are
// exported type names ("CustomerCreated"), so the sentinel cannot collide.
const wildcardType = "*"

// HandlerRegistry tracks which handlers see which event types. It is the
// bookkeeping behind InMemoryEventBus.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]shared.EventHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string][]shared.EventHandler),
	}
}

// Register subscribes handler to eventTypes. With none given the handler
// sees every event.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(eventTypes) == 0 {
		eventTypes = []string{wildcardType}
	}
	for _, eventType := range eventTypes {
		r.handlers[eventType] = append(r.handlers[eventType], handler)
	}
}

// Unregister removes handler from every subscription.
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for eventType, handlers := range r.handlers {
		remaining := slices.DeleteFunc(handlers, func(h shared.EventHandler) bool {
			return h == handler
		})
		if len(remaining) == 0 {
			delete(r.handlers, eventType)
			continue
		}
		r.handlers[eventType] = remaining
	}
}

// GetHandlers returns the handlers subscribed to eventType, wildcard
// subscribers last. The slice is the caller's to keep.
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typed := r.handlers[eventType]
	wild := r.handlers[wildcardType]
	result := make([]shared.EventHandler, 0, len(typed)+len(wild))
	result = append(result, typed...)
	return append(result, wild...)
}
