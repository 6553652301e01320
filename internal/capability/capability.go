// Package capability implements the CapabilityRegistry and the plugin
// adapter layer: discovery of compile-time-registered plugins, wrapping
// their handlers with auth/middleware/state, and exposing their AI
// functions to the FunctionRegistry.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentup/agentup/internal/a2a/types"
)

// Flag enumerates a capability's declared traits.
type Flag string

const (
	FlagText       Flag = "TEXT"
	FlagMultimodal Flag = "MULTIMODAL"
	FlagAIFunction Flag = "AI_FUNCTION"
	FlagStreaming  Flag = "STREAMING"
	FlagStateful   Flag = "STATEFUL"
)

// Info is the static metadata a plugin declares for one capability.
type Info struct {
	ID              string
	Name            string
	Version         string
	Flags           map[Flag]bool
	InputMode       string
	OutputMode      string
	RequiredScopes  []string
	Priority        int // 0-100
	ConfigSchema    map[string]any
	PluginName      string
	SystemPrompt    string
}

// HasFlag reports whether the capability declares the given flag.
func (i Info) HasFlag(f Flag) bool { return i.Flags[f] }

// Status tracks a discovered plugin's registration outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// TaskContext is the minimal view of an in-flight task a plugin needs to
// decide whether it can handle the request and to execute it.
type TaskContext struct {
	Context   context.Context
	TaskID    string
	ContextID string
	Message   *types.Message
	Text      string // concatenated text parts of Message, for convenience
}

// Result is what a plugin's handler returns; the Executor shapes it into
// Artifacts per the result-shaping rules.
type Result struct {
	Value any // string | map[string]any | []any | other
	// Stream, if non-nil, yields successive chunks for a streaming
	// response instead of a single Value.
	Stream <-chan StreamChunk
}

// StreamChunk is one unit of a streaming capability result.
type StreamChunk struct {
	Value any
	Err   error
}

// AIFunction describes one LLM-callable function a plugin exposes,
// matching the data model's AIFunction shape.
type AIFunction struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// ValidationResult is returned by a plugin's config validator.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// HealthStatus is a diagnostic record a plugin can report.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Plugin is the hook set every capability-providing plugin implements.
// RegisterCapability, CanHandleTask, and ExecuteCapability are required;
// the rest are optional extension interfaces a plugin may also implement.
// Of those, only AIFunctionProvider and HealthReporter are consulted at
// runtime; nothing calls ConfigValidator, ServiceConfigurable,
// MiddlewareDeclarer, or StateSchemaProvider.
type Plugin interface {
	RegisterCapability() Info
	CanHandleTask(tc TaskContext) float64 // confidence in [0,1]; >0 means "can handle"
	ExecuteCapability(tc TaskContext) (Result, error)
}

// ConfigValidator is an optional Plugin extension.
type ConfigValidator interface {
	ValidateConfig(cfg map[string]any) ValidationResult
}

// AIFunctionProvider is an optional Plugin extension.
type AIFunctionProvider interface {
	GetAIFunctions() []AIFunction
}

// ServiceConfigurable is an optional Plugin extension for receiving
// service handles (e.g. a shared HTTP client). Startup does not call
// ConfigureServices.
type ServiceConfigurable interface {
	ConfigureServices(svc any)
}

// MiddlewareDeclarer is an optional Plugin extension naming the
// middleware a plugin wants. The handler chain is built from the global
// middleware config; a plugin's declaration is not consulted.
type MiddlewareDeclarer interface {
	GetMiddlewareConfig() []string
}

// StateSchemaProvider is an optional Plugin extension describing the
// shape of conversation-state variables the plugin reads/writes.
type StateSchemaProvider interface {
	GetStateSchema() map[string]any
}

// HealthReporter is an optional Plugin extension.
type HealthReporter interface {
	GetHealthStatus() HealthStatus
}

// Factory constructs a Plugin instance. Plugins register a Factory from
// their package's init(), the Go-native substitute for the source
// system's dynamic entry-point discovery (see SPEC_FULL.md §4.3).
type Factory func() Plugin

var (
	factoryMu sync.Mutex
	factories = map[string]Factory{}
)

// Register records a plugin Factory under name, for startup-time
// discovery. Call this from an init() function in the plugin's package.
func Register(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

// discovered returns a copy of every Factory registered so far, keyed by
// name; NewRegistry sorts the names for a deterministic load order.
func discovered() map[string]Factory {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	out := make(map[string]Factory, len(factories))
	for k, v := range factories {
		out[k] = v
	}
	return out
}

// Registration captures the outcome of loading one discovered plugin.
type Registration struct {
	PluginName string
	Info       Info
	Status     Status
	Error      error
}

// Registry holds every discovered CapabilityInfo plus the mapping from
// capability ID to the plugin instance that implements it. It owns
// CapabilityInfo for the lifetime of the process.
type Registry struct {
	mu           sync.RWMutex
	plugins      map[string]Plugin          // capability id -> plugin
	infos        map[string]Info            // capability id -> info
	registered   []Registration
	activeIDs    map[string]bool            // capabilities named in config.plugins
}

// NewRegistry discovers every registered plugin Factory, calls
// RegisterCapability on each, and records the outcome. A capability id
// duplicated by a later plugin is rejected; the first registration wins.
// active lists the capability IDs enabled by configuration (spec.md
// §4.3's "configured-subset rule"); capabilities outside this list remain
// visible for introspection/MCP exposure but are never routable.
func NewRegistry(active []string) *Registry {
	r := &Registry{
		plugins:   map[string]Plugin{},
		infos:     map[string]Info{},
		activeIDs: map[string]bool{},
	}
	for _, id := range active {
		r.activeIDs[id] = true
	}

	names := make([]string, 0)
	for name := range discovered() {
		names = append(names, name)
	}
	sort.Strings(names)

	facs := discovered()
	for _, name := range names {
		plugin := facs[name]()
		info := plugin.RegisterCapability()
		reg := Registration{PluginName: name, Info: info}
		switch {
		case info.ID == "" || info.Name == "" || info.Version == "":
			reg.Status = StatusError
			reg.Error = fmt.Errorf("plugin %s: RegisterCapability returned incomplete CapabilityInfo", name)
		case r.infos[info.ID].ID != "":
			reg.Status = StatusError
			reg.Error = fmt.Errorf("plugin %s: capability id %q already registered by %s", name, info.ID, r.infos[info.ID].PluginName)
		default:
			info.PluginName = name
			r.infos[info.ID] = info
			r.plugins[info.ID] = plugin
			reg.Status = StatusOK
		}
		r.registered = append(r.registered, reg)
	}
	return r
}

// Registrations returns the startup-time outcome for every discovered
// plugin, for logging and diagnostics.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, len(r.registered))
	copy(out, r.registered)
	return out
}

// Info returns the CapabilityInfo for id, if registered (regardless of
// whether it's in the active/configured subset).
func (r *Registry) Info(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[id]
	return info, ok
}

// Plugin returns the Plugin instance backing id.
func (r *Registry) Plugin(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// IsActive reports whether id is named in the agent config's plugins
// list and therefore routable.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeIDs[id]
}

// All returns every registered CapabilityInfo (active and inactive),
// sorted by ID, for introspection and MCP tools/list exposure.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns every CapabilityInfo named in the configured plugins
// list, in priority order (highest first) then ID for ties.
func (r *Registry) Active() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.activeIDs))
	for id := range r.activeIDs {
		if info, ok := r.infos[id]; ok {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
