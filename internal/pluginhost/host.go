package pluginhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oobe/engine/pkg/pluginapi"
	"go.uber.org/zap"
)

// Descriptor is everything the host needs to acquire and load one
// plugin artifact, derived from the execution plan's [[plugins]] table.
type Descriptor struct {
	Name         string
	LocationKind LocationKind
	BasePath     string
	ArtifactName string
}

// Host fetches and loads plugin artifacts on demand, caching each
// Binding by name. Acquire is idempotent: a plugin already loaded is
// returned from cache rather than reopened, since the Go runtime has no
// unload primitive to make a second Load meaningful.
type Host struct {
	mu        sync.Mutex
	loaded    map[string]*Binding
	loader    *Loader
	artifacts string
	logger    *zap.Logger
}

// NewHost creates a Host that fetches artifacts into artifactDir.
func NewHost(artifactDir string, logger *zap.Logger) *Host {
	return &Host{
		loaded:    make(map[string]*Binding),
		loader:    New(logger),
		artifacts: artifactDir,
		logger:    logger,
	}
}

// Acquire fetches d's artifact (if not already local) and loads it,
// returning the cached Binding on repeat calls for the same name.
func (h *Host) Acquire(ctx context.Context, d Descriptor) (*Binding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.loaded[d.Name]; ok {
		return b, nil
	}

	fetcher, err := FetcherFor(d.LocationKind)
	if err != nil {
		return nil, &LoadError{Path: d.BasePath, Kind: KindMissingArtifact, Err: err}
	}

	destDir := h.artifacts
	if d.LocationKind == LocationS3 {
		destDir = filepath.Join(h.artifacts, d.Name)
	}

	path, err := fetcher.Fetch(ctx, FetchSpec{
		Kind:     d.LocationKind,
		BasePath: d.BasePath,
		Name:     d.ArtifactName,
		DestDir:  destDir,
	})
	if err != nil {
		return nil, &LoadError{Path: d.BasePath, Kind: KindMissingArtifact, Err: err}
	}

	b, err := h.loader.Load(path, d.Name)
	if err != nil {
		return nil, err
	}

	h.loaded[d.Name] = b
	return b, nil
}

// Loaded reports whether name has already been acquired.
func (h *Host) Loaded(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.loaded[name]
	return ok
}

// All returns every plugin acquired so far, in no particular order.
func (h *Host) All() []pluginapi.Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pluginapi.Plugin, 0, len(h.loaded))
	for _, b := range h.loaded {
		out = append(out, b.Plugin)
	}
	return out
}

// LoadDir scans dir for .so artifacts and loads every one it finds,
// matching each by file name against expectedNames. A plugin whose
// artifact is missing, malformed, or fails the ABI check is logged and
// skipped rather than aborting the scan; this mirrors the loader
// tolerance the orchestrator relies on for the rest of the plan to
// still start. The returned slice holds only the LoadErrors for
// artifacts that failed, in scan order.
func (h *Host) LoadDir(dir string) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Warn("plugin artifact directory does not exist, skipping scan", zap.String("dir", dir))
			return nil
		}
		return []error{fmt.Errorf("read plugin dir %s: %w", dir, err)}
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".so")
		path := filepath.Join(dir, e.Name())

		b, err := h.loader.Load(path, name)
		if err != nil {
			h.logger.Error("failed to load plugin artifact, skipping",
				zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			continue
		}

		h.mu.Lock()
		h.loaded[name] = b
		h.mu.Unlock()
	}
	return errs
}
