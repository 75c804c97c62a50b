// Package httpgw is the engine's single embedded HTTP dispatcher: it
// routes static web assets and API resources into the plugin they
// belong to, mounts the session gate's auth endpoints, and exposes
// /health. It never hosts the event bus; that runs on its own port
// (internal/bus.SocketHandler mounted separately by cmd/engine).
package httpgw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oobe/engine/pkg/pluginapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// PluginSource is the subset of the registry the dispatcher needs,
// defined consumer-side to avoid an import cycle.
type PluginSource interface {
	ByRoute(route string) (pluginapi.Plugin, bool)
	All() []pluginapi.Plugin
}

// AuthRegistrar mounts the session gate's routes. The
// request-authenticating middleware is passed to New separately.
type AuthRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// RouteRegistrar is any component that mounts additional routes onto
// the dispatcher's mux, such as internal/planloader's /plan/version
// diagnostic or internal/diag's /api/debug/events.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// ReadinessChecker reports whether the dispatcher can serve traffic.
type ReadinessChecker func(ctx context.Context) error

// Server is the engine's HTTP dispatcher.
type Server struct {
	httpServer *http.Server
	plugins    PluginSource
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New builds the dispatcher. auth mounts /api/auth/...;
// authMiddleware, if non-nil, is the innermost bearer-token gate in the
// chain; shellDir, if non-empty, serves the web
// shell's static files at "/" (the webapp the browser boots into,
// spec §4.5 item 1) with an index.html SPA fallback; devMode
// additionally serves Swagger UI.
func New(addr string, plugins PluginSource, logger *zap.Logger, ready ReadinessChecker, auth AuthRegistrar, authMiddleware Middleware, shellDir string, devMode bool, extra ...RouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		plugins: plugins,
		logger:  logger,
		mux:     mux,
		ready:   ready,
	}

	s.registerRoutes()
	if auth != nil {
		auth.RegisterRoutes(mux)
	}
	for _, r := range extra {
		r.RegisterRoutes(mux)
	}

	// Static plugin assets share "/" with the shell: a "/{route}/web/"
	// pattern would conflict with "/api/{route}/{rest...}" on ServeMux.
	shell := http.NotFoundHandler()
	if shellDir != "" {
		shell = spaHandler(shellDir)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		route, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if sub, ok := strings.CutPrefix(rest, "web/"); ok {
			r.SetPathValue("route", route)
			r.SetPathValue("path", sub)
			s.handleStatic(w, r)
			return
		}
		shell.ServeHTTP(w, r)
	})

	if devMode {
		mux.Handle("GET /swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
		logger.Info("swagger UI enabled (dev_mode)", zap.String("path", "/swagger/"))
	}

	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		SecurityHeadersMiddleware,
		RateLimitMiddleware(100, 200, []string{"/health", "/metrics"}),
	}
	if authMiddleware != nil {
		middlewares = append(middlewares, authMiddleware)
	}

	handler := Chain(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/{route}/{rest...}", s.handleAPI)
}

// spaHandler serves the web shell out of dir, falling back to
// index.html for any path that doesn't match a real file so
// client-side routing within the shell keeps working on refresh.
// "/index.html" is served as "/" so http.FileServer does not redirect it.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned := path.Clean(r.URL.Path)
		if cleaned != "/" {
			if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(cleaned))); err != nil || cleaned == "/index.html" {
				r = r.Clone(r.Context())
				r.URL.Path = "/"
			}
		}
		fs.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP dispatcher", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP dispatcher error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the dispatcher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP dispatcher")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth is the liveness probe named in the HTTP surface.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + err.Error()))
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// handleAPI implements <METHOD> /api/<route>/<resource>[/<id>]:
// resolve the plugin by route, find its declared Resource, validate
// the method, synthesize an ApiRequest, and invoke HandleRequest.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	route := r.PathValue("route")
	rest := r.PathValue("rest")
	if rest == "" {
		NotFound(w, "no resource specified", r.URL.Path)
		return
	}

	resourcePath, id, _ := strings.Cut(rest, "/")

	p, ok := s.plugins.ByRoute(route)
	if !ok {
		NotFound(w, fmt.Sprintf("no plugin mounted at route %q", route), r.URL.Path)
		return
	}

	var matched *pluginapi.Resource
	for _, res := range p.APIResources() {
		if res.Path == resourcePath {
			matched = &res
			break
		}
	}
	if matched == nil {
		NotFound(w, fmt.Sprintf("no resource %q on plugin %q", resourcePath, p.Name()), r.URL.Path)
		return
	}

	method := pluginapi.Method(r.Method)
	if !matched.Allows(method) {
		MethodNotAllowed(w, fmt.Sprintf("method %s not permitted on %q", r.Method, resourcePath), r.URL.Path)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		BadRequest(w, "failed to read request body", r.URL.Path)
		return
	}

	subPath := ""
	if id != "" {
		subPath = "/" + id
	}

	req := &pluginapi.ApiRequest{
		Method:      method,
		Resource:    matched.Path,
		Path:        subPath,
		Headers:     headersOf(r.Header),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		Query:       r.URL.RawQuery,
	}

	resp, err := s.invokeHandleRequest(r, p, req)
	if err != nil {
		if resp != nil {
			p.Cleanup(resp)
		}
		s.logger.Error("plugin handler error",
			zap.String("plugin", p.Name()), zap.Error(err))
		InternalError(w, "plugin request failed", r.URL.Path)
		return
	}
	if resp == nil {
		InternalError(w, "plugin returned no response", r.URL.Path)
		return
	}
	defer p.Cleanup(resp)

	for _, h := range resp.Headers {
		w.Header().Set(h.Name, h.Value)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// invokeHandleRequest calls the plugin's HandleRequest behind a
// boundary recover: a panic here is fatal (spec §4.1, §4.5, §7), so it
// is reported and the process is terminated rather than downgraded to
// a 500 by RecoveryMiddleware further out in the chain.
func (s *Server) invokeHandleRequest(r *http.Request, p pluginapi.Plugin, req *pluginapi.ApiRequest) (resp *pluginapi.ApiResponse, err error) {
	defer pluginapi.RecoverBoundaryPanic(func(rec any) {
		s.logger.Error("plugin boundary panic in HandleRequest, terminating process",
			zap.Any("panic", rec),
			zap.String("plugin", p.Name()),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
	return p.HandleRequest(r.Context(), req)
}

// handleStatic implements GET /<route>/web/<path>: static assets
// served from the plugin's declared content directory.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	route := r.PathValue("route")
	reqPath := r.PathValue("path")

	p, ok := s.plugins.ByRoute(route)
	if !ok {
		NotFound(w, fmt.Sprintf("no plugin mounted at route %q", route), r.URL.Path)
		return
	}

	root := p.StaticContentPath()
	if root == "" {
		NotFound(w, fmt.Sprintf("plugin %q serves no static content", route), r.URL.Path)
		return
	}

	cleaned := path.Clean("/" + reqPath)
	full := filepath.Join(root, filepath.FromSlash(cleaned))

	absRoot, err := filepath.Abs(root)
	if err != nil {
		InternalError(w, "failed to resolve static root", r.URL.Path)
		return
	}
	absFull, err := filepath.Abs(full)
	if err != nil || (absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator))) {
		NotFound(w, "invalid static path", r.URL.Path)
		return
	}

	http.ServeFile(w, r, absFull)
}

func headersOf(h http.Header) []pluginapi.Header {
	out := make([]pluginapi.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, pluginapi.Header{Name: name, Value: v})
		}
	}
	return out
}
