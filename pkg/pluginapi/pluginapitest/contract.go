// Package pluginapitest provides a shared contract test that verifies any
// pluginapi.Plugin implementation behaves correctly. Every sample plugin's
// test file should call TestPluginContract to ensure conformance.
package pluginapitest

import (
	"context"
	"testing"

	"github.com/oobe/engine/pkg/pluginapi"
)

// TestPluginContract runs a suite of behavioral contract tests against any
// pluginapi.Plugin implementation. Call this from each plugin's _test.go:
//
//	func TestContract(t *testing.T) {
//	    pluginapitest.TestPluginContract(t, func() pluginapi.Plugin { return wifi.New() })
//	}
func TestPluginContract(t *testing.T, factory func() pluginapi.Plugin) {
	t.Helper()

	t.Run("Name_and_Route_are_stable", func(t *testing.T) {
		p := factory()
		name1, route1 := p.Name(), p.Route()
		name2, route2 := p.Name(), p.Route()
		if name1 == "" {
			t.Error("Name() must not be empty")
		}
		if !pluginapi.ValidRoute(route1) {
			t.Errorf("Route() = %q is not a valid single path segment", route1)
		}
		if name1 != name2 || route1 != route2 {
			t.Error("Name()/Route() must be stable across calls")
		}
	})

	t.Run("APIVersion_in_supported_range", func(t *testing.T) {
		p := factory()
		v := p.APIVersion()
		if v < pluginapi.APIVersionMin || v > pluginapi.APIVersionCurrent {
			t.Errorf("APIVersion() = %d, outside [%d,%d]", v, pluginapi.APIVersionMin, pluginapi.APIVersionCurrent)
		}
	})

	t.Run("Resources_have_unique_paths", func(t *testing.T) {
		p := factory()
		seen := make(map[string]bool)
		for _, r := range p.APIResources() {
			if seen[r.Path] {
				t.Errorf("duplicate resource path %q", r.Path)
			}
			seen[r.Path] = true
			if len(r.Methods) == 0 {
				t.Errorf("resource %q declares no methods", r.Path)
			}
		}
	})

	t.Run("Run_succeeds", func(t *testing.T) {
		p := factory()
		if err := p.Run(context.Background(), pluginapi.PluginContext{}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	})

	t.Run("HandleRequest_nonnil_response_is_paired_with_Cleanup", func(t *testing.T) {
		p := factory()
		_ = p.Run(context.Background(), pluginapi.PluginContext{})
		resources := p.APIResources()
		if len(resources) == 0 {
			t.Skip("plugin declares no resources to exercise")
		}
		req := &pluginapi.ApiRequest{Method: resources[0].Methods[0], Resource: resources[0].Path}
		resp, err := p.HandleRequest(context.Background(), req)
		if err != nil {
			t.Fatalf("HandleRequest() error = %v", err)
		}
		if resp != nil {
			p.Cleanup(resp)
		}
	})
}
