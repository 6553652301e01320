package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/app"
	"github.com/agentup/agentup/internal/auth"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/executor"
	"github.com/agentup/agentup/internal/mcp"
	"github.com/agentup/agentup/internal/tasks"
)

func TestTextOfConcatenatesTextParts(t *testing.T) {
	msg := &types.Message{Parts: []*types.MessagePart{
		types.TextPart("hello"),
		types.DataPart("application/json", []byte(`{"x":1}`), "blob"),
		types.TextPart("world"),
	}}
	assert.Equal(t, "hello world", textOf(msg))
}

func TestTextOfNoTextParts(t *testing.T) {
	msg := &types.Message{Parts: []*types.MessagePart{
		types.DataPart("application/json", []byte(`{}`), ""),
	}}
	assert.Equal(t, "", textOf(msg))
}

func TestSecuritySchemesDisabled(t *testing.T) {
	schemes := securitySchemes(config.SecurityConfig{Enabled: false, Providers: []string{"jwt"}})
	assert.Nil(t, schemes)
}

func TestSecuritySchemesIncludesOnlyConfiguredProviders(t *testing.T) {
	schemes := securitySchemes(config.SecurityConfig{Enabled: true, Providers: []string{"jwt", "api_key"}})
	assert.Contains(t, schemes, "jwt")
	assert.Contains(t, schemes, "apiKey")
	assert.NotContains(t, schemes, "bearer")
	assert.Equal(t, "http", schemes["jwt"].Type)
	assert.Equal(t, "apiKey", schemes["apiKey"].Type)
}

func TestErrDetailNilError(t *testing.T) {
	assert.Equal(t, "", errDetail(nil))
}

func TestErrResponseAndOkResponseShape(t *testing.T) {
	ok := okResponse(1, "value")
	assert.Equal(t, "2.0", ok.JSONRPC)
	assert.Nil(t, ok.Error)

	fail := errResponse(1, codeInvalidParams, "bad", "detail")
	assert.NotNil(t, fail.Error)
	assert.Equal(t, codeInvalidParams, fail.Error.Code)
}

func newTestAppWithAuthEnabled() *app.App {
	authMgr := auth.NewManager(true, auth.Hierarchy(nil), &auth.BearerProvider{Tokens: map[string]auth.Credential{
		"secret-token": {UserID: "alice", Scopes: []string{"files:read"}},
	}})
	capReg := capability.NewRegistry(nil)
	a := &app.App{
		Config:       &config.Config{},
		Auth:         authMgr,
		Capabilities: capReg,
		Tasks:        tasks.NewStore(),
	}
	a.Executor = executor.New(a.Tasks)
	a.MCPServer = mcp.NewServer(capReg, false, nil)
	return a
}

func TestHandleRPCReturnsUnauthorizedWithoutCredentials(t *testing.T) {
	srv := New(newTestAppWithAuthEnabled())

	body := `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{}}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, 401, rec.Code, "a missing credential must surface as HTTP 401, not 200")
}

func TestHandleRPCAcceptsValidBearerToken(t *testing.T) {
	srv := New(newTestAppWithAuthEnabled())

	body := `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"taskId":"missing"}}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code, "a valid credential must not be rejected with 401")
}
