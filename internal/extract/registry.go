package extract

import "fmt"

// Registry is a read-only, process-wide map of extract type to Handler,
// built once at startup and never mutated afterward.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry validates and indexes handlers. Registration fails on the
// first invalid handler or duplicate extract type.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	indexed := make(map[string]Handler, len(handlers))

	for _, h := range handlers {
		if err := h.Validate(); err != nil {
			return nil, err
		}

		if _, exists := indexed[h.ExtractType]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExtractType, h.ExtractType)
		}

		indexed[h.ExtractType] = h
	}

	return &Registry{handlers: indexed}, nil
}

// Get returns the handler for extractType, or ErrHandlerMissing if none is
// registered.
func (r *Registry) Get(extractType string) (Handler, error) {
	h, ok := r.handlers[extractType]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s", ErrHandlerMissing, extractType)
	}

	return h, nil
}

// All returns every registered handler. The returned slice is a copy; the
// registry itself stays immutable.
func (r *Registry) All() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}

	return out
}

// Len reports how many handlers are registered.
func (r *Registry) Len() int {
	return len(r.handlers)
}
