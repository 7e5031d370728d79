package registry

import (
	"fmt"
	log "log/slog"
	"sort"
)

// Handler executes one named capability.
type Handler func(params map[string]any) (string, error)

// Capability is one registered OS-facing action.
type Capability struct {
	Name       string
	Handler    Handler
	Privileged bool
}

// Registry maps capability names to handlers. It is built once at startup
// (builtins first, then plugins) and read lock-free afterwards; nothing
// mutates it while the orchestrator runs.
type Registry struct {
	caps   map[string]Capability
	sealed bool
}

func New() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds or replaces a capability. A later registration under an
// existing name wins, and the overwrite is logged rather than silently
// swallowed so a plugin shadowing a builtin is visible in the logs.
func (r *Registry) Register(c Capability) error {
	if r.sealed {
		return fmt.Errorf("registry sealed, cannot register %q", c.Name)
	}
	if c.Name == "" || c.Handler == nil {
		return fmt.Errorf("capability needs a name and a handler")
	}
	if _, exists := r.caps[c.Name]; exists {
		log.Warn("Capability overwritten", "name", c.Name)
	}
	r.caps[c.Name] = c
	return nil
}

// Seal ends the startup registration phase. After Seal the map is read-only,
// which is what makes lock-free concurrent lookup safe.
func (r *Registry) Seal() { r.sealed = true }

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names lists registered capabilities in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int { return len(r.caps) }
