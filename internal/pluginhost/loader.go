// Package pluginhost loads plugin artifacts off disk and binds them
// into Go plugin.Plugin values. It owns the two steps that happen
// before a plugin reaches the registry: fetching the .so artifact to
// a local path (see fetch.go) and opening it with the standard
// library's plugin package.
//
// The Go runtime keeps a loaded .so's code mapped for the life of the
// process; there is no unload primitive. Dropping a Binding's Go-level
// reference does not reclaim that mapping. This is a property of the
// plugin package, not a bug here, and is not worked around.
package pluginhost

import (
	"fmt"
	"plugin"

	"github.com/oobe/engine/internal/registry"
	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// LoadErrorKind classifies why Loader.Load failed.
type LoadErrorKind string

const (
	KindMissingArtifact LoadErrorKind = "missing_artifact"
	KindMissingSymbol   LoadErrorKind = "missing_symbol"
	KindNameMismatch    LoadErrorKind = "name_mismatch"
	KindInvalidRoute    LoadErrorKind = "invalid_route"
	KindVersionMismatch LoadErrorKind = "version_mismatch"
)

// LoadError reports why an artifact could not be turned into a running
// plugin. The orchestrator publishes one of these, via its payload, on
// pluginapi.TopicPluginLoadFailed and continues with the rest of the
// plan rather than aborting startup.
type LoadError struct {
	Path string
	Kind LoadErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Binding pairs a plugin instance with the opened shared object it came
// from. Keeping *plugin.Plugin alive is what keeps the mapped code
// alive; there is nothing to Close.
type Binding struct {
	Plugin pluginapi.Plugin
	so     *plugin.Plugin
}

// Loader opens plugin artifacts and validates them against the ABI
// before handing them to the registry. resolve is overridden by tests
// to avoid depending on a real .so file on disk; production code always
// gets openArtifact, which wraps plugin.Open/Lookup.
type Loader struct {
	logger  *zap.Logger
	resolve func(path string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error)
}

// New creates a Loader that resolves artifacts with the standard
// library's plugin package.
func New(logger *zap.Logger) *Loader {
	return &Loader{logger: logger, resolve: openArtifact}
}

// openArtifact opens path as a Go plugin and resolves its CreatePlugin
// symbol.
func openArtifact(path string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
	so, err := plugin.Open(path)
	if err != nil {
		return nil, nil, err
	}

	sym, err := so.Lookup(pluginapi.CreatePluginSymbol)
	if err != nil {
		return nil, so, err
	}

	if fn, ok := sym.(pluginapi.CreatePluginFunc); ok {
		return fn, so, nil
	}
	if fn, ok := sym.(func() pluginapi.Plugin); ok {
		return fn, so, nil
	}
	return nil, so, fmt.Errorf("symbol %s has unexpected type %T", pluginapi.CreatePluginSymbol, sym)
}

// Load opens the .so at path, resolves its CreatePlugin symbol, and
// validates the returned Plugin against expectedName (the name declared
// in the execution plan's [[plugins]] entry) and the ABI's route and
// version rules. A non-nil error is always a *LoadError.
func (l *Loader) Load(path, expectedName string) (*Binding, error) {
	create, so, err := l.resolve(path)
	if err != nil {
		kind := KindMissingArtifact
		if so != nil {
			kind = KindMissingSymbol
		}
		return nil, &LoadError{Path: path, Kind: kind, Err: err}
	}

	impl, err := safeCreate(create)
	if err != nil {
		return nil, &LoadError{Path: path, Kind: KindMissingSymbol, Err: err}
	}

	if impl.Name() != expectedName {
		return nil, &LoadError{
			Path: path, Kind: KindNameMismatch,
			Err: fmt.Errorf("plan declares %q, artifact reports %q", expectedName, impl.Name()),
		}
	}
	if !pluginapi.ValidRoute(impl.Route()) {
		return nil, &LoadError{
			Path: path, Kind: KindInvalidRoute,
			Err: fmt.Errorf("route %q is not a valid single path segment", impl.Route()),
		}
	}
	if err := registry.CheckAPIVersion(impl.APIVersion()); err != nil {
		return nil, &LoadError{Path: path, Kind: KindVersionMismatch, Err: err}
	}

	l.logger.Info("plugin artifact loaded",
		zap.String("path", path),
		zap.String("name", impl.Name()),
		zap.String("route", impl.Route()),
	)

	return &Binding{Plugin: impl, so: so}, nil
}

// safeCreate invokes the plugin's constructor with panic recovery: a
// plugin that panics during construction must not take the engine down
// with it.
func safeCreate(create func() pluginapi.Plugin) (impl pluginapi.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("CreatePlugin panicked: %v", r)
		}
	}()
	impl = create()
	if impl == nil {
		return nil, fmt.Errorf("CreatePlugin returned nil")
	}
	return impl, nil
}
