package recordtypes

import (
	"fmt"
	"sort"

	"crucible/internal/errs"
)

// Registry is the closed map from record_type discriminator to handler.
// It is populated once at process start and frozen before serving; lookups
// after freezing never consult anything dynamic.
type Registry struct {
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. It panics on duplicate types or registration
// after Freeze; both are wiring bugs, not runtime conditions.
func (r *Registry) Register(handler Handler) {
	if r.frozen {
		panic("recordtypes: Register called after Freeze")
	}
	name := handler.Type()
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("recordtypes: duplicate handler for %q", name))
	}
	r.handlers[name] = handler
}

// Freeze closes the registry against further registration.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	return r
}

// Lookup resolves a record_type string to its handler.
func (r *Registry) Lookup(recordType string) (Handler, error) {
	handler, ok := r.handlers[recordType]
	if !ok {
		return nil, errs.MissingData("unknown record type %q", recordType)
	}
	return handler, nil
}

// Service resolves a record_type to its service hooks, failing when the type
// is task-backed.
func (r *Registry) Service(recordType string) (ServiceHandler, error) {
	handler, err := r.Lookup(recordType)
	if err != nil {
		return nil, err
	}
	service, ok := handler.(ServiceHandler)
	if !ok {
		return nil, errs.Validation("record type %q is not service-backed", recordType)
	}
	return service, nil
}

// Types returns the registered discriminators in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
