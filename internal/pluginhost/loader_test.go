package pluginhost

import (
	"context"
	"errors"
	"plugin"
	"testing"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

type fakePlugin struct {
	name, route string
	apiVersion  int
}

func (p *fakePlugin) Name() string    { return p.name }
func (p *fakePlugin) Route() string   { return p.route }
func (p *fakePlugin) APIVersion() int { return p.apiVersion }
func (p *fakePlugin) Run(context.Context, pluginapi.PluginContext) error { return nil }
func (p *fakePlugin) StaticContentPath() string          { return "" }
func (p *fakePlugin) APIResources() []pluginapi.Resource { return nil }
func (p *fakePlugin) HandleRequest(context.Context, *pluginapi.ApiRequest) (*pluginapi.ApiResponse, error) {
	return nil, nil
}
func (p *fakePlugin) Cleanup(*pluginapi.ApiResponse) {}

// stubResolve builds a Loader.resolve that always succeeds with the
// CreatePluginFunc returned by create, standing in for opening a real
// .so file (which a _test.go cannot build without the Go toolchain).
func stubResolve(create pluginapi.CreatePluginFunc) func(string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
	return func(string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
		return create, nil, nil
	}
}

func TestLoad_success(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "wifi", apiVersion: 1} })

	b, err := l.Load("/fake/wifi.so", "wifi")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Plugin.Name() != "wifi" {
		t.Errorf("Name() = %q, want wifi", b.Plugin.Name())
	}
}

func TestLoad_nameMismatch(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "wifi", apiVersion: 1} })

	_, err := l.Load("/fake/wifi.so", "terms")
	assertLoadErrorKind(t, err, KindNameMismatch)
}

func TestLoad_invalidRoute(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "not a route!", apiVersion: 1} })

	_, err := l.Load("/fake/wifi.so", "wifi")
	assertLoadErrorKind(t, err, KindInvalidRoute)
}

func TestLoad_versionTooOld(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "wifi", apiVersion: 0} })

	_, err := l.Load("/fake/wifi.so", "wifi")
	assertLoadErrorKind(t, err, KindVersionMismatch)
}

func TestLoad_versionTooNew(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "wifi", apiVersion: 99} })

	_, err := l.Load("/fake/wifi.so", "wifi")
	assertLoadErrorKind(t, err, KindVersionMismatch)
}

func TestLoad_nilPluginFromConstructor(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { return nil })

	_, err := l.Load("/fake/wifi.so", "wifi")
	assertLoadErrorKind(t, err, KindMissingSymbol)
}

func TestLoad_constructorPanicIsRecovered(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = stubResolve(func() pluginapi.Plugin { panic("boom") })

	_, err := l.Load("/fake/wifi.so", "wifi")
	assertLoadErrorKind(t, err, KindMissingSymbol)
}

func TestLoad_resolveFailureIsMissingArtifact(t *testing.T) {
	l := New(zap.NewNop())
	l.resolve = func(string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
		return nil, nil, errors.New("no such file")
	}

	_, err := l.Load("/fake/missing.so", "wifi")
	assertLoadErrorKind(t, err, KindMissingArtifact)
}

func assertLoadErrorKind(t *testing.T, err error, want LoadErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error is not a *LoadError: %v", err)
	}
	if le.Kind != want {
		t.Errorf("Kind = %q, want %q", le.Kind, want)
	}
}
