package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"testing"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

func TestHost_acquireLoadsAndCaches(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "wifi.so"), []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h := NewHost(t.TempDir(), zap.NewNop())
	h.loader.resolve = stubResolve(func() pluginapi.Plugin { return &fakePlugin{name: "wifi", route: "wifi", apiVersion: 1} })

	d := Descriptor{Name: "wifi", LocationKind: LocationLocal, BasePath: srcDir, ArtifactName: "wifi.so"}
	b, err := h.Acquire(context.Background(), d)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if b.Plugin.Name() != "wifi" {
		t.Errorf("Name() = %q", b.Plugin.Name())
	}
	if !h.Loaded("wifi") {
		t.Error("expected wifi to be marked loaded")
	}

	// A second Acquire must hit the cache: even if resolve would now
	// fail, the cached binding is returned without re-fetching.
	h.loader.resolve = func(string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
		t.Fatal("resolve should not be called again for a cached plugin")
		return nil, nil, nil
	}
	b2, err := h.Acquire(context.Background(), d)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if b2 != b {
		t.Error("expected the cached binding to be returned")
	}
}

func TestHost_acquireUnknownLocationKind(t *testing.T) {
	h := NewHost(t.TempDir(), zap.NewNop())
	_, err := h.Acquire(context.Background(), Descriptor{Name: "wifi", LocationKind: LocationKind("ftp")})
	if err == nil {
		t.Fatal("expected an error for an unknown location kind")
	}
}

func TestHost_acquireMissingArtifact(t *testing.T) {
	h := NewHost(t.TempDir(), zap.NewNop())
	_, err := h.Acquire(context.Background(), Descriptor{
		Name: "wifi", LocationKind: LocationLocal, BasePath: t.TempDir(), ArtifactName: "missing.so",
	})
	if err == nil {
		t.Fatal("expected an error for a missing artifact")
	}
}

func TestHost_loadDir_tolerantOfBadArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"good.so", "bad.so"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a plugin"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	h := NewHost(t.TempDir(), zap.NewNop())
	h.loader.resolve = func(path string) (pluginapi.CreatePluginFunc, *plugin.Plugin, error) {
		if strings.Contains(path, "bad") {
			return func() pluginapi.Plugin { return &fakePlugin{name: "bad", route: "not valid!", apiVersion: 1} }, nil, nil
		}
		return func() pluginapi.Plugin { return &fakePlugin{name: "good", route: "good", apiVersion: 1} }, nil, nil
	}

	errs := h.LoadDir(dir)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if !h.Loaded("good") {
		t.Error("expected good to be loaded")
	}
	if h.Loaded("bad") {
		t.Error("expected bad to not be loaded")
	}
}

func TestHost_loadDir_missingDirIsTolerated(t *testing.T) {
	h := NewHost(t.TempDir(), zap.NewNop())
	errs := h.LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if errs != nil {
		t.Errorf("errs = %v, want nil", errs)
	}
}
