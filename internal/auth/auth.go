// Package auth implements the unified authentication manager: credential
// providers tried in configured order, hierarchical scope expansion, and
// per-capability scope enforcement.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/agentup/agentup/internal/apperr"
)

// Type identifies the kind of credential that produced an AuthContext.
type Type string

const (
	TypeOAuth2   Type = "oauth2"
	TypeJWT      Type = "jwt"
	TypeBearer   Type = "bearer"
	TypeAPIKey   Type = "api_key"
	TypeBasic    Type = "basic"
)

// Context is the validated, post-expansion identity attached to a
// request. It is threaded through the Executor and Dispatcher so
// capability and MCP tool invocations can be scope-checked.
type Context struct {
	UserID    string
	AuthType  Type
	Scopes    ScopeSet
	ExpiresAt *time.Time
	Claims    map[string]any
}

// Provider authenticates an inbound HTTP request and returns a Context on
// success. Returning (nil, nil) means "this provider declines to handle
// this request" (e.g. no matching header) rather than an error.
type Provider interface {
	Authenticate(r *http.Request) (*Context, error)
	Type() Type
}

// Manager tries configured Providers in order and expands the winning
// context's scopes through the configured Hierarchy.
type Manager struct {
	enabled   bool
	providers []Provider
	hierarchy Hierarchy
}

// NewManager constructs a Manager. providers are tried in the given
// order; the first to return a non-nil Context wins and the rest are
// never consulted.
func NewManager(enabled bool, hierarchy Hierarchy, providers ...Provider) *Manager {
	return &Manager{enabled: enabled, providers: providers, hierarchy: hierarchy}
}

// Enabled reports whether authentication is turned on for this deployment.
func (m *Manager) Enabled() bool { return m.enabled }

// Authenticate runs the configured providers in order and expands the
// winning scopes. If auth is disabled, it returns an "anonymous" context
// with an empty scope set (callers must still honor RequireScopes, which
// fails closed if auth is disabled and a scope is required).
func (m *Manager) Authenticate(r *http.Request) (*Context, error) {
	if !m.enabled {
		return &Context{UserID: "anonymous", Scopes: ScopeSet{}}, nil
	}
	for _, p := range m.providers {
		ctx, err := p.Authenticate(r)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindAuth, "authentication failed", err)
		}
		if ctx == nil {
			continue
		}
		ctx.Scopes = m.hierarchy.Expand(scopeSlice(ctx.Scopes))
		return ctx, nil
	}
	return nil, apperr.New(apperr.KindAuth, "no credentials presented")
}

func scopeSlice(s ScopeSet) []string {
	return s.Slice()
}

// RequireScopes checks every scope in required against ctx. It returns an
// apperr.KindAuth error if any are missing, or if auth is disabled while a
// scope is required (the core MUST refuse to serve a scoped endpoint with
// auth disabled rather than silently granting access).
func (m *Manager) RequireScopes(ctx *Context, required []string) error {
	if len(required) == 0 {
		return nil
	}
	if !m.enabled {
		return apperr.New(apperr.KindAuth, "authentication is disabled but this capability requires scopes")
	}
	if ctx == nil || !ctx.Scopes.SatisfiesAll(required) {
		return apperr.Wrap(apperr.KindAuth, "insufficient scope", apperr.ErrMissingScope)
	}
	return nil
}

// contextKey is an unexported type for storing *Context in a
// context.Context without collisions.
type contextKey struct{}

// WithContext attaches an auth Context to ctx.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext retrieves the auth Context attached by WithContext, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(*Context)
	return ac, ok
}
