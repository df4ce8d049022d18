package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves vendor names and model aliases to configured gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	models   map[string]Gateway
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]Gateway),
		models:   make(map[string]Gateway),
	}
}

// Register adds a gateway and maps the given model aliases to it.
func (r *Registry) Register(gw Gateway, models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(gw.Name())] = gw
	for _, model := range models {
		r.models[strings.ToLower(model)] = gw
	}
}

// ByName resolves a gateway by vendor name.
func (r *Registry) ByName(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return gw, nil
}

// ByModel resolves a gateway by model alias, falling back to vendor name.
func (r *Registry) ByModel(model string) (Gateway, error) {
	r.mu.RLock()
	gw, ok := r.models[strings.ToLower(model)]
	r.mu.RUnlock()
	if ok {
		return gw, nil
	}
	return r.ByName(model)
}
