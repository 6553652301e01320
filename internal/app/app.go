// Package app is the composition root: it builds every shared,
// read-mostly component (config, registries, auth, state, dispatch,
// tasks, executor, push, MCP) from a loaded config.Config and wires the
// per-capability middleware chain each handler runs behind.
package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/auth"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/dispatch"
	"github.com/agentup/agentup/internal/executor"
	"github.com/agentup/agentup/internal/functions"
	"github.com/agentup/agentup/internal/llm"
	"github.com/agentup/agentup/internal/llm/anthropic"
	"github.com/agentup/agentup/internal/llm/bedrock"
	"github.com/agentup/agentup/internal/llm/openai"
	"github.com/agentup/agentup/internal/mcp"
	"github.com/agentup/agentup/internal/middleware"
	"github.com/agentup/agentup/internal/push"
	"github.com/agentup/agentup/internal/router"
	"github.com/agentup/agentup/internal/state"
	"github.com/agentup/agentup/internal/tasks"
	"github.com/agentup/agentup/internal/telemetry"
)

// App holds every component built from config.Config, plus the
// per-capability handler chains derived from it.
type App struct {
	Config       *config.Config
	Capabilities *capability.Registry
	Functions    *functions.Registry
	Auth         *auth.Manager
	State        state.Store
	Tasks        *tasks.Store
	Executor     *executor.Executor
	Push         *push.Notifier
	Router       *router.Router
	Dispatcher   *dispatch.Dispatcher // nil if no ai_provider configured
	MCPClient    *mcp.Manager
	MCPServer    *mcp.Server
	Tracer       *telemetry.Tracer

	handlers map[string]middleware.Handler

	stopCleanup chan struct{}
}

// Build constructs every component from cfg. Plugin discovery runs
// against whatever capability.Register calls have already executed via
// package init(), so every plugin package an operator wants must be
// blank-imported ahead of calling Build.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Tracer: telemetry.NewTracer()}

	a.Capabilities = capability.NewRegistry(cfg.Plugins)
	for _, reg := range a.Capabilities.Registrations() {
		if reg.Status == capability.StatusError {
			telemetry.Error(ctx, "plugin registration failed", reg.Error, telemetry.Fields{}, "plugin", reg.PluginName)
		}
	}

	stateStore, err := buildStateStore(cfg.StateManagement)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "building state store", err)
	}
	a.State = stateStore

	a.Auth = buildAuthManager(cfg.Security)

	a.Functions = functions.NewRegistry()
	registerPluginFunctions(ctx, a.Functions, a.Capabilities, a.checkScopes)

	a.Tasks = tasks.NewStore()
	a.Executor = executor.New(a.Tasks)
	a.Push = push.New(cfg.PushNotifications.SigningSecret, cfg.PushNotifications.ValidateURLs, cfg.PushNotifications.MaxRetries)

	a.Router = buildRouter(cfg.Routing)

	if cfg.AIProvider.Provider != "" {
		client, err := buildLLMClient(ctx, cfg.AIProvider)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "building llm client", err)
		}
		a.Dispatcher = dispatch.New(client, a.Functions, a.checkScopes, cfg.AIProvider.MaxIterations)
	}

	a.MCPClient = mcp.NewManager(a.Functions, a.checkScopes)
	a.MCPClient.Connect(ctx, cfg.MCP.Servers, cfg.MCP.ToolScopes)
	a.MCPServer = mcp.NewServer(a.Capabilities, cfg.MCP.ExposeHandlers, invokerFunc(a.invokeForMCP))

	a.handlers = a.buildHandlers(cfg)

	a.stopCleanup = make(chan struct{})
	go a.runCleanupTicker(cfg.StateManagement)

	return a, nil
}

// runCleanupTicker periodically evicts contexts the StateStore hasn't
// seen activity on in cfg.MaxContextAgeHours, until Close stops it.
func (a *App) runCleanupTicker(cfg config.StateManagementConfig) {
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	maxAge := time.Duration(cfg.MaxContextAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCleanup:
			return
		case <-ticker.C:
			ctx := context.Background()
			removed, err := a.State.CleanupOldContexts(ctx, maxAge)
			if err != nil {
				telemetry.Error(ctx, "state cleanup failed", err, telemetry.Fields{})
				continue
			}
			if removed > 0 {
				telemetry.Info(ctx, "cleaned up stale conversation contexts", telemetry.Fields{}, "removed", removed)
			}
		}
	}
}

// Close releases every resource Build acquired (MCP connections, state
// backends) for a graceful shutdown.
func (a *App) Close() error {
	if a.stopCleanup != nil {
		close(a.stopCleanup)
	}
	if a.MCPClient != nil {
		a.MCPClient.Close()
	}
	if a.State != nil {
		return a.State.Close()
	}
	return nil
}

// invokerFunc adapts a plain function to mcp.Invoker.
type invokerFunc func(ctx context.Context, capabilityID, text string) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, capabilityID, text string) (any, error) {
	return f(ctx, capabilityID, text)
}

// invokeForMCP runs a capability's handler chain directly against a
// one-off TaskContext, for the MCP server's tools/call. It does not
// go through the Task lifecycle state machine: an MCP-originated call
// is a request/response RPC, not a resumable conversation.
func (a *App) invokeForMCP(ctx context.Context, capabilityID, text string) (any, error) {
	handler, ok := a.handlers[capabilityID]
	if !ok {
		return nil, apperr.New(apperr.KindRouting, "capability not found")
	}
	tc := capability.TaskContext{
		Context:   ctx,
		TaskID:    uuid.NewString(),
		ContextID: uuid.NewString(),
		Message:   &types.Message{MessageID: uuid.NewString(), Role: types.RoleUser, Parts: []*types.MessagePart{types.TextPart(text)}},
		Text:      text,
	}
	res, err := handler(tc)
	if err != nil {
		return nil, err
	}
	if res.Stream != nil {
		return nil, apperr.New(apperr.KindUnsupportedOperation, "streaming capabilities cannot be invoked as MCP tools")
	}
	return res.Value, nil
}

// checkScopes bridges the generic (ctx, required) -> error signature the
// Dispatcher and MCP client use to auth.Manager.RequireScopes, which
// takes the *auth.Context already attached to ctx.
func (a *App) checkScopes(ctx context.Context, required []string) error {
	ac, _ := auth.FromContext(ctx)
	return a.Auth.RequireScopes(ac, required)
}

// Handler returns the fully-wrapped direct-dispatch handler for
// capabilityID, if it was successfully registered.
func (a *App) Handler(capabilityID string) (middleware.Handler, bool) {
	h, ok := a.handlers[capabilityID]
	return h, ok
}

// AIHandler returns a handler that runs the matched capability's scope
// check, then hands the task's text to the LLM function-calling loop
// instead of the capability's own ExecuteCapability. Returns false if no
// Dispatcher is configured or capabilityID is unregistered.
func (a *App) AIHandler(capabilityID string) (middleware.Handler, bool) {
	if a.Dispatcher == nil {
		return nil, false
	}
	info, ok := a.Capabilities.Info(capabilityID)
	if !ok {
		return nil, false
	}
	base := middleware.Handler(func(tc capability.TaskContext) (capability.Result, error) {
		messages := []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: tc.Text}}}}
		out, err := a.Dispatcher.Run(tc.Context, a.Config.AIProvider.SystemPrompt, messages)
		if err != nil {
			return capability.Result{}, apperr.Wrap(apperr.KindDispatch, "ai dispatch failed", err)
		}
		return capability.Result{Value: out}, nil
	})
	return middleware.Chain(base,
		middleware.Auth(a.checkScopes, info.RequiredScopes),
		middleware.Timing(capabilityID, a.Tracer),
		middleware.Logging(capabilityID),
	), true
}

func (a *App) buildHandlers(cfg *config.Config) map[string]middleware.Handler {
	rateLimiter := middleware.NewRateLimiter(cfg.Middleware.RateLimit.RequestsPerSecond, cfg.Middleware.RateLimit.Burst)
	cache := middleware.NewCache(time.Duration(cfg.Middleware.Cache.TTLSecs) * time.Second)

	handlers := make(map[string]middleware.Handler)
	for _, info := range a.Capabilities.All() {
		plugin, ok := a.Capabilities.Plugin(info.ID)
		if !ok {
			continue
		}
		base := middleware.Handler(capability.WithHistory(a.State, capability.Wrap(plugin)))

		var mws []middleware.Middleware
		mws = append(mws, middleware.Auth(a.checkScopes, info.RequiredScopes))
		if cfg.Middleware.RateLimit.Enabled {
			mws = append(mws, rateLimiter.RateLimit(info.ID))
		}
		if cfg.Middleware.Cache.Enabled {
			mws = append(mws, cache.CacheResults(info.ID))
		}
		if cfg.Middleware.Retry.Enabled {
			mws = append(mws, middleware.Retry(cfg.Middleware.Retry.MaxRetries))
		}
		mws = append(mws, middleware.Timing(info.ID, a.Tracer))
		mws = append(mws, middleware.Logging(info.ID))

		handlers[info.ID] = middleware.Chain(base, mws...)
	}
	return handlers
}

func buildStateStore(cfg config.StateManagementConfig) (state.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return state.NewMemoryStore(cfg.MaxHistorySize, cfg.AutoSummarize), nil
	case "file":
		return state.NewFileStore(cfg.Directory, cfg.MaxHistorySize, cfg.AutoSummarize)
	case "redis":
		return state.NewRedisStore(cfg.RedisURL, cfg.MaxHistorySize, cfg.AutoSummarize), nil
	default:
		return nil, fmt.Errorf("unsupported state_management.backend %q", cfg.Backend)
	}
}

func buildAuthManager(cfg config.SecurityConfig) *auth.Manager {
	hierarchy := auth.Hierarchy(cfg.ScopeHierarchy)
	var providers []auth.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "jwt":
			providers = append(providers, &auth.JWTProvider{Secret: cfg.JWT.Secret, Algorithm: cfg.JWT.Algorithm, Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience})
		case "bearer":
			providers = append(providers, &auth.BearerProvider{Tokens: credentialMap(cfg.BearerTokens)})
		case "api_key":
			providers = append(providers, &auth.APIKeyProvider{Keys: credentialMap(cfg.APIKeys)})
		}
	}
	return auth.NewManager(cfg.Enabled, hierarchy, providers...)
}

func credentialMap(cfgs map[string]config.CredentialCfg) map[string]auth.Credential {
	out := make(map[string]auth.Credential, len(cfgs))
	for token, c := range cfgs {
		out[token] = auth.Credential{UserID: c.UserID, Scopes: c.Scopes}
	}
	return out
}

func registerPluginFunctions(ctx context.Context, reg *functions.Registry, capReg *capability.Registry, checkScopes dispatch.ScopeChecker) {
	for _, info := range capReg.All() {
		plugin, ok := capReg.Plugin(info.ID)
		if !ok {
			continue
		}
		provider, ok := plugin.(capability.AIFunctionProvider)
		if !ok {
			continue
		}
		for _, fn := range provider.GetAIFunctions() {
			fn := fn
			spec := functions.Spec{
				Name:           fn.Name,
				Description:    fn.Description,
				Parameters:     fn.Parameters,
				RequiredScopes: info.RequiredScopes,
				Handler: func(c context.Context, args map[string]any) (any, error) {
					if err := checkScopes(c, info.RequiredScopes); err != nil {
						return nil, err
					}
					return fn.Handler(c, args)
				},
			}
			if err := reg.RegisterPluginFunction(spec); err != nil {
				telemetry.Warn(ctx, "plugin AI function registration failed", telemetry.Fields{}, "function", fn.Name, "error", err.Error())
			}
		}
	}
}

// buildRouter preserves cfg.Capabilities' declared order as each Rule's
// position in the returned slice: spec.md §4.2 requires first-match-wins
// over the configured order, so the slice's iteration order IS the match
// order (unlike a map, which would randomize it).
func buildRouter(cfg config.RoutingConfig) *router.Router {
	rules := make([]router.Rule, 0, len(cfg.Capabilities))
	for _, rc := range cfg.Capabilities {
		rules = append(rules, router.Rule{
			CapabilityID: rc.CapabilityID,
			Mode:         router.Mode(rc.Mode),
			Keywords:     rc.Keywords,
			Patterns:     rc.Patterns,
		})
	}
	return router.New(rules, cfg.FallbackCapability, router.Mode(cfg.DefaultMode), cfg.FallbackEnabled)
}

func buildLLMClient(ctx context.Context, cfg config.AIProviderConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case "openai":
		return openai.NewFromAPIKey(cfg.APIKey, cfg.Model)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg), cfg.Model, cfg.MaxTokens, float32(cfg.Temperature))
	default:
		return nil, fmt.Errorf("unsupported ai_provider.provider %q", cfg.Provider)
	}
}
