// Package planloader parses, validates, and hot-swaps the execution
// plan: the TOML document that tells the orchestrator which plugins
// exist, where their artifacts live, and which bus events sequence
// their activation.
package planloader

import (
	"fmt"

	"github.com/oobe/engine/internal/pluginhost"
	"github.com/pelletier/go-toml/v2"
)

// Plan is the parsed execution plan document (spec §6.2).
type Plan struct {
	General  General          `toml:"general"`
	Plugins  []PluginMetadata `toml:"plugins"`
	Handoffs Handoffs         `toml:"handoffs"`
}

// General is the plan's [general] table.
type General struct {
	ProductFamily        string `toml:"product_family"`
	ExecutionPlanVersion string `toml:"execution_plan_version"`
	UpdateFrom           string `toml:"update_from"`
	UpdatePathRoot       string `toml:"update_path_root"`
}

// PluginMetadata is one [[plugins]] entry.
type PluginMetadata struct {
	Name                string `toml:"name"`
	PluginRoute         string `toml:"plugin_route"`
	Version             string `toml:"version"`
	PluginLocationType  string `toml:"plugin_location_type"`
	PluginBasePath      string `toml:"plugin_base_path"`
	RunAsync            bool   `toml:"run_async"`
	VisibleInUI         bool   `toml:"visible_in_ui"`
	RunAfterEventName   string `toml:"run_after_event_name"`
	CompletedEventName  string `toml:"completed_event_name"`
}

// Handoffs is the plan's [handoffs] table: events that terminate the
// plan and return control to the host application.
type Handoffs struct {
	HandoffEvents []string `toml:"handoff_events"`
}

// IsStartup reports whether p runs at boot rather than on a triggering
// event.
func (p PluginMetadata) IsStartup() bool { return p.RunAfterEventName == "" }

// IsTerminal reports whether p has no completion event to hand off to
// another plugin.
func (p PluginMetadata) IsTerminal() bool { return p.CompletedEventName == "" }

// ArtifactName is the file name the plugin host fetches for p, joined
// onto the plan's location-specific base path.
func (p PluginMetadata) ArtifactName() string { return p.Name + ".so" }

// Descriptor converts p into the form internal/pluginhost needs to
// fetch and load the artifact.
func (p PluginMetadata) Descriptor() pluginhost.Descriptor {
	return pluginhost.Descriptor{
		Name:         p.Name,
		LocationKind: pluginhost.LocationKind(p.PluginLocationType),
		BasePath:     p.PluginBasePath,
		ArtifactName: p.ArtifactName(),
	}
}

// Parse decodes a TOML execution plan document. It does not validate
// field contents; call Validate on the result.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse execution plan: %w", err)
	}
	return &p, nil
}

// Validate checks required fields, (name, route) uniqueness, and that
// the run_after_event_name/completed_event_name graph is acyclic. It is
// the gate a candidate plan must pass before Store.Swap replaces the
// plan in force.
func (p *Plan) Validate() error {
	names := make(map[string]bool, len(p.Plugins))
	routes := make(map[string]bool, len(p.Plugins))

	for _, pl := range p.Plugins {
		if pl.Name == "" {
			return fmt.Errorf("plugin entry missing required field %q", "name")
		}
		if pl.PluginRoute == "" {
			return fmt.Errorf("plugin %q missing required field %q", pl.Name, "plugin_route")
		}
		if pl.Version == "" {
			return fmt.Errorf("plugin %q missing required field %q", pl.Name, "version")
		}
		if pl.PluginLocationType == "" {
			return fmt.Errorf("plugin %q missing required field %q", pl.Name, "plugin_location_type")
		}
		if pl.PluginBasePath == "" {
			return fmt.Errorf("plugin %q missing required field %q", pl.Name, "plugin_base_path")
		}
		if names[pl.Name] {
			return fmt.Errorf("duplicate plugin name %q", pl.Name)
		}
		names[pl.Name] = true
		if routes[pl.PluginRoute] {
			return fmt.Errorf("duplicate plugin route %q", pl.PluginRoute)
		}
		routes[pl.PluginRoute] = true
	}

	return p.checkAcyclic()
}

// checkAcyclic rejects a plan whose completed_event_name ->
// run_after_event_name edges form a cycle, using the same Kahn's
// algorithm shape as the teacher's plugin-dependency sort, applied here
// to the derived event graph instead of a static dependency list.
func (p *Plan) checkAcyclic() error {
	producers := make(map[string][]string) // event -> plugin names that complete it
	for _, pl := range p.Plugins {
		if pl.CompletedEventName != "" {
			producers[pl.CompletedEventName] = append(producers[pl.CompletedEventName], pl.Name)
		}
	}

	inDegree := make(map[string]int, len(p.Plugins))
	dependents := make(map[string][]string) // producer plugin name -> consumer plugin names
	for _, pl := range p.Plugins {
		inDegree[pl.Name] = 0
	}
	for _, pl := range p.Plugins {
		if pl.RunAfterEventName == "" {
			continue
		}
		for _, producer := range producers[pl.RunAfterEventName] {
			inDegree[pl.Name]++
			dependents[producer] = append(dependents[producer], pl.Name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited != len(inDegree) {
		var cycled []string
		for name, degree := range inDegree {
			if degree > 0 {
				cycled = append(cycled, name)
			}
		}
		return fmt.Errorf("execution plan has a cycle in its event graph among plugins: %v", cycled)
	}
	return nil
}
