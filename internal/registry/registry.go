// Package registry holds the set of loaded plugin bindings: the running
// pluginapi.Plugin instances keyed by name and by mount route, in the
// order they were registered. Activation order is driven by the
// execution plan's event graph (internal/orchestrator), not by any
// dependency relationship between plugins, so unlike a dependency-graph
// registry this one does no sorting and no cascade-disable.
package registry

import (
	"fmt"
	"sync"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// ErrDuplicateIdentifier is returned by Register when a plugin's name or
// route collides with one already registered.
var ErrDuplicateIdentifier = fmt.Errorf("plugin identifier already registered")

// Binding pairs a loaded plugin with the route it is mounted under.
type Binding struct {
	Plugin pluginapi.Plugin
	Route  string
}

// Registry is the set of loaded plugin bindings, keyed by name and by
// route. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Binding
	byRoute map[string]*Binding
	order   []string // names, insertion order
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		byName:  make(map[string]*Binding),
		byRoute: make(map[string]*Binding),
		logger:  logger,
	}
}

// Register adds a freshly loaded plugin to the registry. name and route
// must both be unique among already-registered plugins.
func (r *Registry) Register(p pluginapi.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	route := p.Route()

	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if !pluginapi.ValidRoute(route) {
		return fmt.Errorf("plugin %q has invalid route %q", name, route)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: name %q", ErrDuplicateIdentifier, name)
	}
	if _, exists := r.byRoute[route]; exists {
		return fmt.Errorf("%w: route %q", ErrDuplicateIdentifier, route)
	}

	b := &Binding{Plugin: p, Route: route}
	r.byName[name] = b
	r.byRoute[route] = b
	r.order = append(r.order, name)

	r.logger.Info("plugin registered",
		zap.String("name", name),
		zap.String("route", route),
		zap.Int("api_version", p.APIVersion()),
	)
	return nil
}

// Unregister removes a plugin by name. Unregistering a name that is
// not registered is a no-op. Nothing in the engine calls it; a plan
// swap leaves registered plugins in place.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	delete(r.byRoute, b.Route)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("plugin unregistered", zap.String("name", name))
}

// ByName returns the plugin registered under name.
func (r *Registry) ByName(name string) (pluginapi.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return b.Plugin, true
}

// ByRoute returns the plugin mounted under route.
func (r *Registry) ByRoute(route string) (pluginapi.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byRoute[route]
	if !ok {
		return nil, false
	}
	return b.Plugin, true
}

// Has reports whether name is currently registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []pluginapi.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]pluginapi.Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name].Plugin)
	}
	return result
}

// AllBindings returns every registered binding in registration order.
func (r *Registry) AllBindings() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Binding, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// CheckAPIVersion validates a plugin's declared API version against the
// range this engine accepts.
func CheckAPIVersion(apiVersion int) error {
	if apiVersion < pluginapi.APIVersionMin {
		return fmt.Errorf(
			"plugin targets API v%d, but this engine requires v%d or newer (current: v%d)",
			apiVersion, pluginapi.APIVersionMin, pluginapi.APIVersionCurrent,
		)
	}
	if apiVersion > pluginapi.APIVersionCurrent {
		return fmt.Errorf(
			"plugin targets API v%d, but this engine only supports up to v%d",
			apiVersion, pluginapi.APIVersionCurrent,
		)
	}
	return nil
}
