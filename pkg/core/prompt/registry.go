package prompt

import (
	"fmt"
	"sort"
	"sync"

	"fintable/pkg/core/utils"
)

// Registry holds loaded prompts and response schemas. Each caller builds
// its own; later registrations replace earlier ones with the same ID.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]*Template
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{prompts: map[string]*Template{}, schemas: map[string]*Schema{}}
}

// Add compiles t's user template and registers it.
func (r *Registry) Add(t *Template) error {
	if t.ID == "" {
		return fmt.Errorf("prompt without id")
	}
	if err := t.compile(); err != nil {
		return err
	}
	r.mu.Lock()
	r.prompts[t.ID] = t
	r.mu.Unlock()
	return nil
}

// AddSchema compiles src as a JSON Schema and registers it under id.
func (r *Registry) AddSchema(id, src string) error {
	if id == "" {
		return fmt.Errorf("schema without id")
	}
	compiled, err := utils.CompileSchema(src)
	if err != nil {
		return fmt.Errorf("schema %s: %w", id, err)
	}
	r.mu.Lock()
	r.schemas[id] = &Schema{ID: id, Source: src, Schema: compiled}
	r.mu.Unlock()
	return nil
}

// Prompt looks a template up by ID.
func (r *Registry) Prompt(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.prompts[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	return t, nil
}

// SchemaFor returns the response schema t refers to.
func (r *Registry) SchemaFor(t *Template) (*Schema, error) {
	if t.SchemaRef == "" {
		return nil, fmt.Errorf("prompt %s declares no response schema", t.ID)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[t.SchemaRef]
	if !ok {
		return nil, fmt.Errorf("prompt %s: schema not found: %s", t.ID, t.SchemaRef)
	}
	return s, nil
}

// IDs lists the registered prompt IDs in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.prompts))
	for id := range r.prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
