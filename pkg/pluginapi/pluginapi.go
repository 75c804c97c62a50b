// Package pluginapi defines the stable boundary between the engine and the
// OOBE plugins it loads: the plugin contract, the value types exchanged
// across it, and the version range the engine accepts. Nothing in this
// package depends on the rest of the engine, so a plugin module only ever
// needs to import pluginapi.
package pluginapi

import (
	"context"
	"regexp"
)

// API version constants for plugin compatibility checking. The loader
// rejects any plugin whose declared version falls outside this range.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// CreatePluginSymbol is the exported symbol name every plugin shared
// object must provide. The loader resolves it with the standard library's
// plugin package and expects it to satisfy CreatePluginFunc.
const CreatePluginSymbol = "CreatePlugin"

// CreatePluginFunc is the entry point a plugin .so exports under
// CreatePluginSymbol. It must return a ready-to-register Plugin value;
// the engine calls it exactly once per loaded artifact.
type CreatePluginFunc func() Plugin

// routePattern is the grammar a Route must satisfy: a single URL path
// segment, ASCII letters, digits, underscore, and hyphen only.
var routePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidRoute reports whether route is a syntactically legal single path
// segment per the ABI contract.
func ValidRoute(route string) bool {
	return route != "" && routePattern.MatchString(route)
}

// Method is one of the five HTTP verbs the ABI transports.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Resource is a relative path segment a plugin exposes under its route,
// together with the set of HTTP methods it permits on that segment. The
// full mounted path is /api/<route>/<path>.
type Resource struct {
	Path    string
	Methods []Method
}

// Allows reports whether m is permitted on this resource.
func (r Resource) Allows(m Method) bool {
	for _, allowed := range r.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// Header is a single name/value pair. ApiRequest and ApiResponse carry
// headers as an ordered slice of these rather than a map, matching the
// ABI's "ordered sequence of name/value" invariant.
type Header struct {
	Name  string
	Value string
}

// ApiRequest is the request synthesized by the dispatcher for a single
// plugin call. The engine owns req and everything it points to; a plugin
// must not retain req after HandleRequest returns.
type ApiRequest struct {
	Method Method
	// Resource is the Resource.Path the dispatcher matched against
	// req.Method, so a plugin declaring more than one resource can tell
	// them apart without reparsing Path itself.
	Resource    string
	Path        string // path relative to the matched resource, may include "/<id>"
	Headers     []Header
	Body        []byte
	ContentType string
	Query       string
}

// ApiResponse is allocated by the plugin and handed back to the engine,
// which must invoke Cleanup on it (via Plugin.Cleanup) once it has been
// serialized to the wire, regardless of status code.
type ApiResponse struct {
	Status      int
	Headers     []Header
	Body        []byte
	ContentType string
}

// PluginContext is the opaque configuration blob passed to Run at init
// time. The engine does not retain it after the call returns.
type PluginContext struct {
	Config []byte
}

// Plugin is the interface every OOBE module implements. name and route
// must be stable ASCII identifiers for the plugin's entire lifetime.
type Plugin interface {
	// Name returns the plugin's unique identifier.
	Name() string

	// Route returns the single URL path segment this plugin is mounted
	// under. Must satisfy ValidRoute.
	Route() string

	// APIVersion reports the ABI version this plugin targets.
	APIVersion() int

	// Run is called exactly once, after load and before any request is
	// dispatched to the plugin.
	Run(ctx context.Context, pctx PluginContext) error

	// StaticContentPath returns the filesystem directory the dispatcher
	// serves as this plugin's web assets, or "" if it has none.
	StaticContentPath() string

	// APIResources lists the resources this plugin exposes under
	// /api/<route>/.
	APIResources() []Resource

	// HandleRequest synchronously serves one API call. A nil response
	// with a nil error is treated by the dispatcher as an internal
	// error (500); HandleRequest must not retain req after it returns.
	HandleRequest(ctx context.Context, req *ApiRequest) (*ApiResponse, error)

	// Cleanup releases any resources associated with resp. The engine
	// calls Cleanup exactly once for every non-nil response it receives
	// from HandleRequest, RunWorkflow, OnProgress, or OnComplete,
	// regardless of status code.
	Cleanup(resp *ApiResponse)
}

// AsyncWorkflow is implemented by plugins the execution plan marks
// run_async = true. The orchestrator calls RunWorkflow once when the
// plugin activates, then polls OnProgress/OnComplete at 1Hz.
type AsyncWorkflow interface {
	// RunWorkflow starts the plugin's background task.
	RunWorkflow(ctx context.Context, req *ApiRequest) (*ApiResponse, error)

	// OnProgress reports incremental status. A non-empty body is
	// republished on the StatusMessageChanged topic.
	OnProgress(ctx context.Context) (*ApiResponse, error)

	// OnComplete reports terminal status: 200 means done (the plugin's
	// completed_event fires), 204 means still running, anything else is
	// a workflow failure.
	OnComplete(ctx context.Context) (*ApiResponse, error)
}
