package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

type fakePlugin struct {
	name  string
	route string
	api   int
}

func (f *fakePlugin) Name() string         { return f.name }
func (f *fakePlugin) Route() string        { return f.route }
func (f *fakePlugin) APIVersion() int {
	if f.api == 0 {
		return pluginapi.APIVersionCurrent
	}
	return f.api
}
func (f *fakePlugin) Run(ctx context.Context, pctx pluginapi.PluginContext) error { return nil }
func (f *fakePlugin) StaticContentPath() string                                  { return "" }
func (f *fakePlugin) APIResources() []pluginapi.Resource                         { return nil }
func (f *fakePlugin) HandleRequest(ctx context.Context, req *pluginapi.ApiRequest) (*pluginapi.ApiResponse, error) {
	return nil, nil
}
func (f *fakePlugin) Cleanup(resp *pluginapi.ApiResponse) {}

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func TestRegister_duplicateName(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(&fakePlugin{name: "wifi", route: "wifi"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(&fakePlugin{name: "wifi", route: "other"})
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestRegister_duplicateRoute(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(&fakePlugin{name: "wifi", route: "net"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(&fakePlugin{name: "terms", route: "net"})
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestRegister_invalidRoute(t *testing.T) {
	r := newTestRegistry()
	err := r.Register(&fakePlugin{name: "bad", route: "has a space"})
	if err == nil {
		t.Fatal("expected error for invalid route")
	}
}

func TestByNameByRoute(t *testing.T) {
	r := newTestRegistry()
	p := &fakePlugin{name: "wifi", route: "wifi"}
	if err := r.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.ByName("wifi")
	if !ok || got != p {
		t.Fatalf("ByName: got %v, %v", got, ok)
	}
	got, ok = r.ByRoute("wifi")
	if !ok || got != p {
		t.Fatalf("ByRoute: got %v, %v", got, ok)
	}
	if _, ok := r.ByName("nope"); ok {
		t.Fatal("expected ByName miss")
	}
}

func TestAll_preservesInsertionOrder(t *testing.T) {
	r := newTestRegistry()
	names := []string{"wifi", "terms", "login"}
	for _, n := range names {
		if err := r.Register(&fakePlugin{name: n, route: n}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}

	all := r.All()
	if len(all) != len(names) {
		t.Fatalf("expected %d plugins, got %d", len(names), len(all))
	}
	for i, n := range names {
		if all[i].Name() != n {
			t.Errorf("position %d: expected %s, got %s", i, n, all[i].Name())
		}
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(&fakePlugin{name: "wifi", route: "wifi"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&fakePlugin{name: "terms", route: "terms"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Unregister("wifi")
	if r.Has("wifi") {
		t.Fatal("expected wifi to be unregistered")
	}
	if _, ok := r.ByRoute("wifi"); ok {
		t.Fatal("expected wifi route freed")
	}
	all := r.All()
	if len(all) != 1 || all[0].Name() != "terms" {
		t.Fatalf("expected only terms to remain, got %v", all)
	}

	// Unregistering an unknown name is a no-op.
	r.Unregister("does-not-exist")
}

func TestCheckAPIVersion(t *testing.T) {
	if err := CheckAPIVersion(pluginapi.APIVersionCurrent); err != nil {
		t.Fatalf("current version should be accepted: %v", err)
	}
	if err := CheckAPIVersion(pluginapi.APIVersionMin - 1); err == nil {
		t.Fatal("expected error for version below minimum")
	}
	if err := CheckAPIVersion(pluginapi.APIVersionCurrent + 1); err == nil {
		t.Fatal("expected error for version above current")
	}
}
