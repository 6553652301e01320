package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/app"
	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/auth"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/push"
	"github.com/agentup/agentup/internal/router"
	"github.com/agentup/agentup/internal/tasks"
	"github.com/agentup/agentup/internal/telemetry"
)

// Server is the HTTP surface in front of an *app.App: the JSON-RPC/SSE
// endpoint at "/", the Agent Card, MCP, and health endpoints.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New builds a Server and mounts every route.
func New(a *app.App) *Server {
	s := &Server{app: a, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleRPC)
	s.mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/services/health", s.handleServicesHealth)
	s.mux.Handle("/mcp", a.MCPServer)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, codeInvalidRequest, "invalid JSON-RPC request", errDetail(err)))
		return
	}

	ac, err := s.app.Auth.Authenticate(r)
	if err != nil {
		writeJSONStatus(w, http.StatusUnauthorized, errResponse(req.ID, codeInvalidRequest, "authentication failed", errDetail(err)))
		return
	}
	ctx := auth.WithContext(r.Context(), ac)

	if streamingMethods[req.Method] {
		s.handleStreamingMethod(w, ctx, req)
		return
	}

	switch req.Method {
	case "message/send":
		s.handleMessageSend(w, ctx, req)
	case "tasks/get":
		s.handleTasksGet(w, req)
	case "tasks/cancel":
		s.handleTasksCancel(w, req)
	case "tasks/pushNotificationConfig/set":
		s.handlePushSet(w, req)
	case "tasks/pushNotificationConfig/get":
		s.handlePushGet(w, req)
	case "tasks/pushNotificationConfig/list":
		s.handlePushList(w, req)
	case "tasks/pushNotificationConfig/delete":
		s.handlePushDelete(w, req)
	default:
		writeJSON(w, errResponse(req.ID, codeMethodNotFound, "method not found", req.Method))
	}
}

func (s *Server) handleMessageSend(w http.ResponseWriter, ctx context.Context, req rpcRequest) {
	entry, tc, err := s.submitTask(ctx, req.Params)
	if err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	s.run(ctx, entry, tc)
	s.deliverPush(ctx, entry)
	writeJSON(w, okResponse(req.ID, entry.Snapshot()))
}

func (s *Server) handleStreamingMethod(w http.ResponseWriter, ctx context.Context, req rpcRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInternal, "streaming unsupported", ""))
		return
	}

	var entry *tasks.Entry
	var tc capability.TaskContext
	var started bool

	switch req.Method {
	case "message/stream":
		var err error
		entry, tc, err = s.submitTask(ctx, req.Params)
		if err != nil {
			writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
			return
		}
		started = true
	case "tasks/resubscribe":
		var params types.TaskIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
			return
		}
		e, ok := s.app.Tasks.Get(params.TaskID)
		if !ok {
			writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
			return
		}
		entry = e
	}

	sub := s.app.Executor.Subscribe(ctx, entry.Snapshot().TaskID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if started {
		go s.run(ctx, entry, tc)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			writeSSE(w, flusher, okResponse(req.ID, ev))
			if status, ok := ev.(*types.StatusUpdateEvent); ok && status.Final {
				s.deliverPush(ctx, entry)
				return
			}
		}
	}
}

// submitTask decodes a SendMessageParams body, creates (or locates) the
// task and its TaskContext, and appends the inbound message to history.
func (s *Server) submitTask(ctx context.Context, raw json.RawMessage) (*tasks.Entry, capability.TaskContext, error) {
	var params types.SendMessageParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Message == nil {
		return nil, capability.TaskContext{}, fmt.Errorf("message is required")
	}

	taskID := uuid.NewString()
	if params.TaskID != nil {
		taskID = *params.TaskID
	}
	contextID := uuid.NewString()
	if params.ContextID != nil {
		contextID = *params.ContextID
	}

	taskCtx, cancel := context.WithCancel(ctx)
	entry, ok := s.app.Tasks.Get(taskID)
	if !ok {
		entry = s.app.Tasks.Create(taskID, contextID, cancel)
	} else {
		cancel() // a fresh context wasn't needed; the existing task owns its own
	}
	entry.AppendHistory(params.Message)

	tc := capability.TaskContext{
		Context:   taskCtx,
		TaskID:    taskID,
		ContextID: contextID,
		Message:   params.Message,
		Text:      textOf(params.Message),
	}
	return entry, tc, nil
}

// run selects and invokes the handler for tc, downgrading an ai-routed
// match to direct dispatch when no Dispatcher is configured.
func (s *Server) run(ctx context.Context, entry *tasks.Entry, tc capability.TaskContext) {
	capabilityID, mode, err := s.app.Router.Select(tc.Text, s.app.Capabilities)
	if err != nil {
		s.reject(entry, err)
		return
	}
	if mode == router.ModeAI && s.app.Dispatcher == nil {
		mode = router.ModeDirect
	}

	if mode == router.ModeAI {
		h, ok := s.app.AIHandler(capabilityID)
		if !ok {
			s.reject(entry, apperr.New(apperr.KindRouting, "no ai dispatcher available"))
			return
		}
		s.app.Executor.Execute(ctx, entry, h, tc)
		return
	}

	h, ok := s.app.Handler(capabilityID)
	if !ok {
		s.reject(entry, apperr.New(apperr.KindRouting, "capability not found"))
		return
	}
	s.app.Executor.Execute(ctx, entry, h, tc)
}

func (s *Server) reject(entry *tasks.Entry, err error) {
	telemetry.Error(context.Background(), "task rejected before execution", err, telemetry.Fields{})
	msg := &types.Message{MessageID: uuid.NewString(), Role: types.RoleAssistant, Parts: []*types.MessagePart{types.TextPart(err.Error())}}
	_, _ = entry.Transition(types.TaskRejected, msg)
}

func (s *Server) deliverPush(ctx context.Context, entry *tasks.Entry) {
	cfgs := entry.PushConfigs()
	if len(cfgs) == 0 {
		return
	}
	snapshot := entry.Snapshot()
	s.app.Push.Deliver(ctx, snapshot.TaskID, snapshot.ContextID, snapshot.Status, cfgs)
}

func (s *Server) handleTasksGet(w http.ResponseWriter, req rpcRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	writeJSON(w, okResponse(req.ID, entry.Snapshot()))
}

func (s *Server) handleTasksCancel(w http.ResponseWriter, req rpcRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	if err := s.app.Executor.Cancel(entry); err != nil {
		writeJSON(w, errResponse(req.ID, codeInternal, "cancel failed", errDetail(err)))
		return
	}
	writeJSON(w, okResponse(req.ID, entry.Snapshot()))
}

func (s *Server) handlePushSet(w http.ResponseWriter, req rpcRequest) {
	var params types.SetPushNotificationParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Config == nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	if s.app.Config.PushNotifications.ValidateURLs {
		if err := push.ValidateURL(params.Config.URL); err != nil {
			writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid push config", errDetail(err)))
			return
		}
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	if params.Config.ID == "" {
		params.Config.ID = uuid.NewString()
	}
	entry.SetPushConfig(params.Config)
	writeJSON(w, okResponse(req.ID, params.Config))
}

func (s *Server) handlePushGet(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		TaskID string `json:"taskId"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	for _, cfg := range entry.PushConfigs() {
		if cfg.ID == params.ID {
			writeJSON(w, okResponse(req.ID, cfg))
			return
		}
	}
	writeJSON(w, errResponse(req.ID, codeInvalidParams, "push config not found", params.ID))
}

func (s *Server) handlePushList(w http.ResponseWriter, req rpcRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	writeJSON(w, okResponse(req.ID, entry.PushConfigs()))
}

func (s *Server) handlePushDelete(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		TaskID string `json:"taskId"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "invalid params", errDetail(err)))
		return
	}
	entry, ok := s.app.Tasks.Get(params.TaskID)
	if !ok {
		writeJSON(w, errResponse(req.ID, codeInvalidParams, "task not found", params.TaskID))
		return
	}
	entry.DeletePushConfig(params.ID)
	writeJSON(w, okResponse(req.ID, map[string]bool{"deleted": true}))
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Config
	card := types.AgentCard{
		ProtocolVersion:    "1.0",
		Name:               cfg.Agent.Name,
		Description:        cfg.Agent.Description,
		URL:                cfg.Agent.URL,
		Version:            cfg.Agent.Version,
		DefaultInputModes:  cfg.Agent.DefaultInputModes,
		DefaultOutputModes: cfg.Agent.DefaultOutputModes,
		Capabilities:       map[string]bool{"streaming": true, "pushNotifications": cfg.PushNotifications.Enabled},
		SecuritySchemes:    securitySchemes(cfg.Security),
	}
	for _, info := range s.app.Capabilities.Active() {
		card.Skills = append(card.Skills, &types.Skill{
			ID:         info.ID,
			Name:       info.Name,
			InputMode:  info.InputMode,
			OutputMode: info.OutputMode,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

// securitySchemes projects the configured auth providers onto the Agent
// Card's advertised securitySchemes, keyed by scheme name; a map carries
// no order, so the order providers are tried in is not advertised.
func securitySchemes(cfg config.SecurityConfig) map[string]*types.SecurityScheme {
	if !cfg.Enabled {
		return nil
	}
	schemes := make(map[string]*types.SecurityScheme, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p {
		case "jwt":
			schemes["jwt"] = &types.SecurityScheme{Type: "http", Scheme: "bearer"}
		case "bearer":
			schemes["bearer"] = &types.SecurityScheme{Type: "http", Scheme: "bearer"}
		case "api_key":
			schemes["apiKey"] = &types.SecurityScheme{Type: "apiKey"}
		}
	}
	return schemes
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	type serviceStatus struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
		Detail  string `json:"detail,omitempty"`
	}
	statuses := make([]serviceStatus, 0)
	degraded := false
	for _, info := range s.app.Capabilities.Active() {
		plugin, ok := s.app.Capabilities.Plugin(info.ID)
		if !ok {
			continue
		}
		reporter, ok := plugin.(capability.HealthReporter)
		if !ok {
			continue
		}
		hs := reporter.GetHealthStatus()
		statuses = append(statuses, serviceStatus{Name: info.ID, Healthy: hs.Healthy, Detail: hs.Detail})
		if !hs.Healthy {
			degraded = true
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if degraded {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"services": statuses})
}

func textOf(msg *types.Message) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		if p.Type == types.PartText && p.Text != nil {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(*p.Text)
		}
	}
	return b.String()
}

func writeJSON(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSONStatus is writeJSON with an explicit non-200 HTTP status, for
// responses (currently just an AuthError) where the JSON-RPC envelope
// alone isn't enough: spec.md §4.5/§7 require a missing or invalid
// credential to surface as HTTP 401, not 200.
func writeJSONStatus(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, resp rpcResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
	flusher.Flush()
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
