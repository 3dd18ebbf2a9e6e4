package tools

import (
	"fmt"
	"sort"
	"sync"

	"aide/pkg/proto"
)

// Context carries per-session configuration into tool factories.
type Context struct {
	WorkDir      string
	ReadOnly     bool
	MaxReadBytes int64
}

// Factory creates a tool instance configured for a session context.
type Factory func(ctx Context) (Tool, error)

type descriptor struct {
	factory Factory
}

// registry is the global, seal-once tool registry. Registration happens
// during bring-up; the first Provider seals it.
type registry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]descriptor
}

//nolint:gochecknoglobals // factory pattern requires a process-wide registry
var globalRegistry = &registry{tools: make(map[string]descriptor)}

// Register adds a tool factory to the global registry.
// Panics if called after the registry is sealed.
func Register(name string, factory Factory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool %q", name))
	}
	globalRegistry.tools[name] = descriptor{factory: factory}
}

// Seal prevents further registrations. Called automatically when the
// first Provider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// resetForTest unseals and clears the registry. Test support only.
func resetForTest() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = false
	globalRegistry.tools = make(map[string]descriptor)
}

// Registered returns the sorted names of all registered tools.
func Registered() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalRegistry.tools))
	for name := range globalRegistry.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider creates and caches tool instances for one session, restricted
// to an allowlist. The Tool-Call Actor owns exactly one Provider.
type Provider struct {
	ctx      Context
	mu       sync.Mutex
	tools    map[string]Tool
	dynamic  map[string]Tool
	allowSet map[string]struct{}
}

// NewProvider creates a Provider for the given context and allowed tool
// names. A nil allowlist permits every registered tool. Seals the global
// registry on first use.
func NewProvider(ctx Context, allowedTools []string) *Provider {
	Seal()

	var allowSet map[string]struct{}
	if allowedTools != nil {
		allowSet = make(map[string]struct{}, len(allowedTools))
		for _, name := range allowedTools {
			allowSet[name] = struct{}{}
		}
	}

	return &Provider{
		ctx:      ctx,
		tools:    make(map[string]Tool),
		dynamic:  make(map[string]Tool),
		allowSet: allowSet,
	}
}

// Get retrieves a tool instance, creating it lazily. Registered tools
// are consulted first, then the dynamic set.
func (p *Provider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allowed := true
	if p.allowSet != nil {
		_, allowed = p.allowSet[name]
	}

	if allowed {
		if tool, ok := p.tools[name]; ok {
			return tool, nil
		}

		globalRegistry.mu.RLock()
		desc, exists := globalRegistry.tools[name]
		globalRegistry.mu.RUnlock()

		if exists {
			tool, err := desc.factory(p.ctx)
			if err != nil {
				return nil, fmt.Errorf("create tool %q: %w", name, err)
			}
			p.tools[name] = tool
			return tool, nil
		}
	}

	// Dynamic tools are discovered at runtime and not subject to the
	// static allowlist.
	if tool, ok := p.dynamic[name]; ok {
		return tool, nil
	}

	if !allowed {
		return nil, fmt.Errorf("tool %q not allowed in this session", name)
	}
	return nil, fmt.Errorf("tool %q not registered", name)
}

// Schemas returns the definition of every allowed tool, sorted by name,
// for inclusion in completion requests. Dynamic tools are included after
// the builtins unless shadowed by a builtin of the same name.
func (p *Provider) Schemas() []proto.ToolDefinition {
	names := Registered()
	seen := make(map[string]struct{}, len(names))
	result := make([]proto.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, err := p.Get(name)
		if err != nil {
			continue // not allowed in this session
		}
		seen[name] = struct{}{}
		result = append(result, tool.Definition())
	}

	p.mu.Lock()
	dynNames := make([]string, 0, len(p.dynamic))
	for name := range p.dynamic {
		if _, ok := seen[name]; ok {
			continue
		}
		dynNames = append(dynNames, name)
	}
	p.mu.Unlock()

	sort.Strings(dynNames)
	for _, name := range dynNames {
		tool, err := p.Get(name)
		if err != nil {
			continue
		}
		result = append(result, tool.Definition())
	}
	return result
}
