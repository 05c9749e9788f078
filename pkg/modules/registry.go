package modules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
)

// Constructor builds a module instance from its configured options.
type Constructor func(options map[string]interface{}) (engine.Module, error)

// Registry maps module names to constructors. The set is fixed at compile
// time; configuration can only select and parameterize registered modules.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Builtin returns a registry with every built-in module registered.
func Builtin() *Registry {
	r := NewRegistry()
	must := func(name string, c Constructor) {
		if err := r.Register(name, c); err != nil {
			panic(err)
		}
	}
	must(BasePackagesName, NewBasePackages)
	must(SSHHardeningName, NewSSHHardening)
	must(ContainerRuntimeName, NewContainerRuntime)
	must(WorkstationUserName, NewWorkstationUser)
	return r
}

// Register adds a constructor under a unique name.
func (r *Registry) Register(name string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}
	r.constructors[name] = c
	return nil
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs every enabled module from its spec.
func (r *Registry) Build(specs []engine.ModuleSpec) (map[string]engine.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	built := make(map[string]engine.Module)
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		c, ok := r.constructors[spec.Name]
		if !ok {
			return nil, fmt.Errorf("module %q is not registered", spec.Name)
		}
		mod, err := c(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to construct module %q: %w", spec.Name, err)
		}
		built[spec.Name] = mod
	}
	return built, nil
}
