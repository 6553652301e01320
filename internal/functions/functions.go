// Package functions holds the registry of LLM-callable functions: those a
// capability plugin declares directly and those sourced from connected
// MCP servers. The Dispatcher consults this registry to resolve a model's
// function call to a concrete handler.
package functions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentup/agentup/internal/apperr"
)

// reserved names a function may never register under: accepting them
// would let a malicious MCP server or plugin shadow a language builtin a
// naive prompt-based fallback parser might try to invoke.
var reserved = map[string]bool{
	"eval": true, "exec": true, "import": true, "compile": true,
}

// Origin identifies where a registered function came from.
type Origin string

const (
	OriginPlugin Origin = "plugin"
	OriginMCP    Origin = "mcp"
)

// Handler executes a function call with the given arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Spec is one registered function's schema and metadata.
type Spec struct {
	Name           string
	Description    string
	Parameters     map[string]any
	Handler        Handler
	Origin         Origin
	MCPServer      string // set when Origin == OriginMCP
	RequiredScopes []string

	schema *jsonschema.Schema // compiled from Parameters at registration, nil if Parameters is empty
}

// ValidateArgs checks args against the function's declared Parameters
// schema. A function registered with no Parameters accepts anything.
// This guards handlers from the model's raw, unchecked tool-call payload
// (spec.md §4.4: malformed function arguments must not reach a handler).
func (s Spec) ValidateArgs(args map[string]any) error {
	if s.schema == nil {
		return nil
	}
	if err := s.schema.Validate(args); err != nil {
		return apperr.Wrap(apperr.KindDispatch, fmt.Sprintf("arguments for %q failed schema validation", s.Name), err)
	}
	return nil
}

// Registry holds every function available to the dispatch loop, keyed by
// its canonical name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: map[string]Spec{}}
}

// RegisterPluginFunction adds a function a capability plugin exposes
// directly (AIFunctionProvider). name collisions across plugins are
// rejected: the caller should suffix with the capability ID upstream if
// ambiguity is possible.
func (r *Registry) RegisterPluginFunction(spec Spec) error {
	spec.Origin = OriginPlugin
	return r.register(spec)
}

// CanonicalMCPName builds the canonical "<server>:<tool>" identifier for
// an MCP-sourced function.
func CanonicalMCPName(server, tool string) string {
	return server + ":" + tool
}

// SanitizedMCPName builds the underscore-joined alternate form some model
// providers require (colons are not valid in their function-name
// grammar): "<server>_<tool>".
func SanitizedMCPName(server, tool string) string {
	return server + "_" + tool
}

// RegisterMCPFunction adds a function sourced from an MCP server's
// tools/list response, under both its canonical and sanitized names so
// either a native function-calling provider or the line-based
// prompt-fallback parser can address it.
func (r *Registry) RegisterMCPFunction(server, tool string, spec Spec) error {
	spec.Origin = OriginMCP
	spec.MCPServer = server

	canonical := spec
	canonical.Name = CanonicalMCPName(server, tool)
	if err := r.register(canonical); err != nil {
		return err
	}

	sanitized := spec
	sanitized.Name = SanitizedMCPName(server, tool)
	if sanitized.Name != canonical.Name {
		return r.register(sanitized)
	}
	return nil
}

func (r *Registry) register(spec Spec) error {
	if spec.Name == "" {
		return apperr.New(apperr.KindConfig, "function name must not be empty")
	}
	if reserved[strings.ToLower(spec.Name)] {
		return apperr.New(apperr.KindConfig, fmt.Sprintf("function name %q is reserved", spec.Name))
	}
	if len(spec.Parameters) > 0 {
		sch, err := compileSchema(spec.Name, spec.Parameters)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, fmt.Sprintf("function %q has an invalid parameters schema", spec.Name), err)
		}
		spec.schema = sch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return apperr.New(apperr.KindConfig, fmt.Sprintf("function %q already registered", spec.Name))
	}
	r.specs[spec.Name] = spec
	return nil
}

// compileSchema compiles a JSON-schema-shaped map into a reusable
// validator. Each function gets its own resource URL so a bad schema on
// one function's registration never clobbers another's compiled schema.
func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	url := "mem://functions/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, params); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Lookup returns the Spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// RemoveServer unregisters every function sourced from the named MCP
// server, used when a server disconnects or its config is removed on
// hot-reload.
func (r *Registry) RemoveServer(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, spec := range r.specs {
		if spec.Origin == OriginMCP && spec.MCPServer == server {
			delete(r.specs, name)
		}
	}
}

// All returns every registered Spec, sorted by name, for presenting to an
// LLM provider's function-calling API.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
