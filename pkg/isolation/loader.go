package isolation

import (
	"context"
	"fmt"
	"sync"

	"github.com/armatureio/armature/pkg/component"
)

// Constructor builds a fresh component instance from a loaded module's entry
// point. Hot reload always goes through the constructor again so reloaded
// components never share state with their previous incarnation.
type Constructor func() component.Component

// Loader materialises a module's entry point for a component, honouring the
// component's load boundary. Implementations decide the mechanism (dynamic
// linking, subprocess, compiled-in registry); the boundary only decides the
// source.
type Loader interface {
	// PrivateModules reports which modules are resolvable from the
	// component's private location. The lifecycle manager feeds the result
	// into Policy.BoundaryFor.
	PrivateModules(componentID string) ModuleSet
	// Load resolves the module through the boundary and returns its entry
	// point constructor.
	Load(ctx context.Context, b *Boundary, module string) (Constructor, error)
	// Unload releases any code loaded privately for the component. With the
	// compiled-in loader this only drops bookkeeping; a dynamic loader would
	// unmap the component's code here.
	Unload(componentID string)
}

// FactoryLoader is the compiled-in substitute for dynamic code loading: a
// registry of constructor functions keyed by module name. Shared entries
// model the trusted host; per-component private entries model a component's
// own module location and let the parent-last check observe shadowed names.
type FactoryLoader struct {
	mu      sync.RWMutex
	shared  map[string]Constructor
	private map[string]map[string]Constructor // componentID -> module -> ctor
	loaded  map[string][]string               // componentID -> modules loaded privately
}

// NewFactoryLoader creates an empty compiled-in loader.
func NewFactoryLoader() *FactoryLoader {
	return &FactoryLoader{
		shared:  make(map[string]Constructor),
		private: make(map[string]map[string]Constructor),
		loaded:  make(map[string][]string),
	}
}

// RegisterShared installs a module entry point on the trusted host side.
func (l *FactoryLoader) RegisterShared(module string, ctor Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shared[module] = ctor
}

// RegisterPrivate installs a module entry point in a component's private
// location. A private entry with a shared module's name shadows it under the
// standard parent-last policy.
func (l *FactoryLoader) RegisterPrivate(componentID, module string, ctor Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mods, ok := l.private[componentID]
	if !ok {
		mods = make(map[string]Constructor)
		l.private[componentID] = mods
	}
	mods[module] = ctor
}

// PrivateModules implements Loader.
func (l *FactoryLoader) PrivateModules(componentID string) ModuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.private[componentID]))
	for name := range l.private[componentID] {
		names = append(names, name)
	}
	return NewStaticModuleSet(names...)
}

// Load implements Loader.
func (l *FactoryLoader) Load(ctx context.Context, b *Boundary, module string) (Constructor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source, err := b.Resolve(module)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch source {
	case SourcePrivate:
		ctor, ok := l.private[b.ComponentID()][module]
		if !ok {
			return nil, fmt.Errorf("module %q not present in private location of component %q", module, b.ComponentID())
		}
		l.loaded[b.ComponentID()] = append(l.loaded[b.ComponentID()], module)
		return ctor, nil
	case SourceSharedCore:
		ctor, ok := l.shared[module]
		if !ok {
			return nil, fmt.Errorf("module %q not found in shared core", module)
		}
		return ctor, nil
	default:
		return nil, fmt.Errorf("module %q rejected for component %q", module, b.ComponentID())
	}
}

// Unload implements Loader.
func (l *FactoryLoader) Unload(componentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.loaded, componentID)
}

// LoadedPrivately lists modules the component has loaded from its private
// location since the last Unload. Exposed for the host's state endpoint.
func (l *FactoryLoader) LoadedPrivately(componentID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.loaded[componentID]...)
}
