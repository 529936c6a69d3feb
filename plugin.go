package obsidian

import (
	"context"
	"slices"

	"github.com/dpup/obsidian/errors"
)

// The base plugin interface.
type Plugin interface {
	// Name of the plugin, used for querying and dependency resolution.
	Name() string
}

// Implemented if plugin depends on other plugins.
type DependentPlugin interface {
	// Deps returns the names for plugins which this plugin depends on.
	Deps() []string
}

// Implemented if plugin has optional dependencies, which should be initialized
// before the plugin, but are not required.
type OptionalDependentPlugin interface {
	// OptDeps returns the names for plugins which this plugin optionally depends on.
	OptDeps() []string
}

// Implemented if the plugin needs to be initialized outside construction.
type InitializablePlugin interface {
	// Init the plugin. Will be called in dependency order.
	Init(ctx context.Context, r *Registry) error
}

// Implemented if the plugin holds resources that must be released when the
// server stops.
type ShutdownPlugin interface {
	// Shutdown is called in reverse initialization order.
	Shutdown(ctx context.Context) error
}

// Registry manages plugins and their dependencies.
type Registry struct {
	plugins map[string]Plugin
	keys    []string
	order   []string
}

// Get a plugin.
func (r *Registry) Get(key string) Plugin {
	if p, ok := r.plugins[key]; ok {
		return p
	}
	return nil
}

// Register a plugin. Registering a second plugin with the same name replaces
// the first.
func (r *Registry) Register(plugin Plugin) {
	if r.plugins == nil {
		r.plugins = map[string]Plugin{}
	}
	n := plugin.Name()
	if _, ok := r.plugins[n]; !ok {
		r.keys = append(r.keys, n)
	}
	r.plugins[n] = plugin
}

// Init all plugins in the Registry. Plugins will be visited in dependency order.
func (r *Registry) Init(ctx context.Context) error {
	if r.plugins == nil {
		return nil
	}

	visiting := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.validateDeps(key, visiting, true); err != nil {
			return err
		}
	}

	initialized := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.initPlugin(ctx, key, initialized); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown plugins in reverse initialization order. Every plugin is given the
// chance to shut down; the errors are joined.
func (r *Registry) Shutdown(ctx context.Context) error {
	order := r.order
	if order == nil {
		order = r.keys
	}
	var errs []error
	for _, key := range slices.Backward(order) {
		if p, ok := r.plugins[key].(ShutdownPlugin); ok {
			if err := p.Shutdown(ctx); err != nil {
				errs = append(errs, errors.WrapPrefix(err, "plugin: failed to shut down '"+key+"'", 0))
			}
		}
	}
	return errors.Join(errs...)
}

// Walks the plugin dependency graph and ensures that deps are registered and that
// there are no cycles.
func (r *Registry) validateDeps(key string, visiting map[string]bool, required bool) error {
	if visiting[key] {
		return errors.Errorf("plugin: dependency cycle detected involving '%v'", key)
	}

	plugin, ok := r.plugins[key]
	if !ok {
		if !required {
			return nil
		}
		return errors.Errorf("plugin: missing dependency, '%v' not registered", key)
	}

	var deps []string
	if d, ok := plugin.(DependentPlugin); ok {
		deps = append(deps, d.Deps()...)
	}
	visiting[key] = true
	for _, dep := range deps {
		if err := r.validateDeps(dep, visiting, true); err != nil {
			return err
		}
	}
	if d, ok := plugin.(OptionalDependentPlugin); ok {
		for _, dep := range d.OptDeps() {
			if err := r.validateDeps(dep, visiting, false); err != nil {
				return err
			}
		}
	}
	delete(visiting, key)
	return nil
}

// Ensures plugins are initialized in dependency order.
func (r *Registry) initPlugin(ctx context.Context, key string, initialized map[string]bool) error {
	if initialized[key] {
		return nil
	}

	plugin, ok := r.plugins[key]
	if !ok {
		return errors.Errorf("plugin '%v' not registered", key)
	}

	var deps []string
	if d, ok := plugin.(DependentPlugin); ok {
		deps = append(deps, d.Deps()...)
	}
	if d, ok := plugin.(OptionalDependentPlugin); ok {
		for _, dep := range d.OptDeps() {
			if _, ok := r.plugins[dep]; ok {
				deps = append(deps, dep)
			}
		}
	}
	for _, dep := range deps {
		if err := r.initPlugin(ctx, dep, initialized); err != nil {
			return err
		}
	}

	if p, ok := plugin.(InitializablePlugin); ok {
		if err := p.Init(ctx, r); err != nil {
			return errors.WrapPrefix(err, "plugin: failed to initialize '"+key+"'", 0)
		}
	}

	initialized[key] = true
	r.order = append(r.order, key)
	return nil
}
