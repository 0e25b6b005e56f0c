package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBackend runs an MCP server over in-memory transports and returns a
// connected client session for the pool's dial seam.
func startBackend(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.ClientSession {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: looseSchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverTransport) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-dial", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	return session
}

func textResult(payload any) *mcpsdk.CallToolResult {
	data, _ := json.Marshal(payload)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}

// newTestGateway wires a gateway over in-memory backends and returns a
// connected Client. Services absent from backends fail to dial.
func newTestGateway(t *testing.T, devMode bool, backends map[string]map[string]mcpsdk.ToolHandler) (*Client, *Policy) {
	t.Helper()

	pool := NewTestBackendPool(func(ctx context.Context, service string) (*mcpsdk.ClientSession, error) {
		tools, ok := backends[service]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return startBackend(t, service, tools), nil
	})

	policy, err := NewPolicy(filepath.Join(t.TempDir(), "gateway_policy.json"))
	require.NoError(t, err)

	g := New(policy, pool, devMode)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = g.Server().Run(ctx, serverTransport) }()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := sdkClient.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return NewClientFromSession(session), policy
}

func authArgs(userID string, role Role, args map[string]any) map[string]any {
	out := map[string]any{
		authKey: map[string]any{"user_id": userID, "role": string(role)},
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}

func TestForwardsToolCallToBackend(t *testing.T) {
	client, _ := newTestGateway(t, false, map[string]map[string]mcpsdk.ToolHandler{
		"event-manager": {
			"create_event": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				var args map[string]any
				require.NoError(t, json.Unmarshal(req.Params.Arguments, &args))
				assert.Equal(t, "Taco Night", args["title"])
				assert.NotContains(t, args, authKey, "auth context must be stripped before forwarding")
				return textResult(map[string]any{"event_id": "evt-1", "title": args["title"]}), nil
			},
		},
	})

	env, err := client.Call(context.Background(), "create_event",
		authArgs("u1", RoleAdmin, map[string]any{"title": "Taco Night"}))
	require.NoError(t, err)

	assert.True(t, env.Success)
	assert.Equal(t, "create_event", env.Tool)
	assert.Equal(t, "event-manager", env.Service)
	assert.Equal(t, "evt-1", env.Result["event_id"])
	assert.NotEmpty(t, env.Timestamp)
}

func TestMissingAuthDeniedOutsideDevMode(t *testing.T) {
	client, _ := newTestGateway(t, false, nil)

	env, err := client.Call(context.Background(), "create_event", map[string]any{"title": "x"})
	require.NoError(t, err, "denial is semantic, not a protocol error")

	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "access-denied")
}

func TestDevModeAllowsMissingAuth(t *testing.T) {
	client, _ := newTestGateway(t, true, map[string]map[string]mcpsdk.ToolHandler{
		"event-manager": {
			"list_all_events": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return textResult(map[string]any{"events": []any{}}), nil
			},
		},
	})

	env, err := client.Call(context.Background(), "list_all_events", map[string]any{"guild_id": "g1"})
	require.NoError(t, err)
	assert.True(t, env.Success)
}

func TestPolicyRuleDeniesCall(t *testing.T) {
	client, policy := newTestGateway(t, false, map[string]map[string]mcpsdk.ToolHandler{
		"event-manager": {
			"delete_event": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return textResult(map[string]any{"deleted": true}), nil
			},
		},
	})
	require.NoError(t, policy.AddRule(Rule{Role: RoleUser, Tool: "delete_event", Action: ActionInvoke, Allow: false}))

	env, err := client.Call(context.Background(), "delete_event",
		authArgs("u1", RoleUser, map[string]any{"event_id": "e1"}))
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "access-denied")

	env, err = client.Call(context.Background(), "delete_event",
		authArgs("u2", RoleEventOwner, map[string]any{"event_id": "e1"}))
	require.NoError(t, err)
	assert.True(t, env.Success)
}

func TestUnknownRoleDeniedAtGateway(t *testing.T) {
	client, _ := newTestGateway(t, true, nil)

	env, err := client.Call(context.Background(), "create_event",
		authArgs("u1", Role("superuser"), map[string]any{"title": "x"}))
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "unknown role")
}

func TestUnreachableBackendDegradesToFailureEnvelope(t *testing.T) {
	client, _ := newTestGateway(t, false, nil) // no backends dial

	start := time.Now()
	env, err := client.Call(context.Background(), "process_rsvp",
		authArgs("u1", RoleUser, map[string]any{"event_id": "e1", "emoji": "+1"}))
	elapsed := time.Since(start)

	require.NoError(t, err, "backend failure must not become a protocol error")
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "service unavailable")
	assert.Equal(t, "rsvp", env.Service)
	assert.Less(t, elapsed, 3*time.Second, "degradation must be bounded")
}

func TestBackendErrorResultBecomesFailureEnvelope(t *testing.T) {
	client, _ := newTestGateway(t, true, map[string]map[string]mcpsdk.ToolHandler{
		"rsvp": {
			"process_rsvp": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "event not found"}},
				}, nil
			},
		},
	})

	env, err := client.Call(context.Background(), "process_rsvp", map[string]any{"event_id": "missing"})
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "event not found")
}

func TestNonJSONBackendReplyWrappedAsText(t *testing.T) {
	client, _ := newTestGateway(t, true, map[string]map[string]mcpsdk.ToolHandler{
		"guild-manager": {
			"register_guild": func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "registered"}},
				}, nil
			},
		},
	})

	env, err := client.Call(context.Background(), "register_guild", map[string]any{"guild_id": "g1"})
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, "registered", env.Result["text"])
}

func TestPingManagementTool(t *testing.T) {
	client, _ := newTestGateway(t, false, nil)

	require.NoError(t, client.Ping(context.Background()))

	env, err := client.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, "pong", env.Result["message"])
	assert.Equal(t, gatewayService, env.Service)
}

func TestPolicyMutationRequiresAdminEvenInDevMode(t *testing.T) {
	client, _ := newTestGateway(t, true, nil)

	env, err := client.Call(context.Background(), "add_policy", map[string]any{
		"role": "user", "tool": "delete_event", "action": "invoke", "allow": false,
	})
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "admin role required")

	env, err = client.Call(context.Background(), "add_policy",
		authArgs("admin-1", RoleAdmin, map[string]any{
			"role": "user", "tool": "delete_event", "action": "invoke", "allow": false,
		}))
	require.NoError(t, err)
	assert.True(t, env.Success)
}

func TestUserRoleManagementRoundTrip(t *testing.T) {
	client, policy := newTestGateway(t, false, nil)
	admin := func(args map[string]any) map[string]any { return authArgs("admin-1", RoleAdmin, args) }

	env, err := client.Call(context.Background(), "add_user_role",
		admin(map[string]any{"user_id": "u7", "role": "event-owner"}))
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, RoleEventOwner, policy.RoleOf("u7"))

	env, err = client.Call(context.Background(), "get_user_roles", admin(nil))
	require.NoError(t, err)
	require.True(t, env.Success)
	roles, ok := env.Result["user_roles"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "event-owner", roles["u7"])

	env, err = client.Call(context.Background(), "remove_user_role",
		admin(map[string]any{"user_id": "u7"}))
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, RoleUser, policy.RoleOf("u7"))
}

func TestGetAvailableToolsCoversEveryService(t *testing.T) {
	client, _ := newTestGateway(t, false, nil)

	env, err := client.Call(context.Background(), "get_available_tools", nil)
	require.NoError(t, err)
	require.True(t, env.Success)

	tools, ok := env.Result["tools"].(map[string]any)
	require.True(t, ok)
	for service := range ServiceTools {
		assert.Contains(t, tools, service)
	}
	assert.Contains(t, tools, gatewayService)
}

func TestGetUserPermissionsReportsDeniedTools(t *testing.T) {
	client, policy := newTestGateway(t, false, nil)
	require.NoError(t, policy.AddRule(Rule{Role: RoleUser, Tool: "delete_event", Action: ActionInvoke, Allow: false}))

	env, err := client.Call(context.Background(), "get_user_permissions",
		authArgs("admin-1", RoleAdmin, map[string]any{"user_id": "someone"}))
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, "user", env.Result["role"])
	assert.Contains(t, env.Result["denied_tools"], "delete_event")
}

func TestGatewayStatus(t *testing.T) {
	client, _ := newTestGateway(t, true, nil)

	env, err := client.Call(context.Background(), "get_gateway_status", nil)
	require.NoError(t, err)
	require.True(t, env.Success)
	assert.Equal(t, true, env.Result["dev_mode"])
	assert.NotEmpty(t, env.Result["uptime"])
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := FailureEnvelope("create_event", "event-manager", "boom", map[string]any{"title": "x"})
	out, err := ParseEnvelope(in.ToResult())
	require.NoError(t, err)
	assert.Equal(t, in.Success, out.Success)
	assert.Equal(t, in.Error, out.Error)
	assert.Equal(t, in.Tool, out.Tool)
	assert.Equal(t, in.Service, out.Service)
}

func TestServiceForToolRouting(t *testing.T) {
	service, ok := serviceForTool("create_event")
	require.True(t, ok)
	assert.Equal(t, "event-manager", service)

	service, ok = serviceForTool("canvas_place_bit")
	require.True(t, ok)
	assert.Equal(t, "vibe-canvas", service)

	_, ok = serviceForTool("no_such_tool")
	assert.False(t, ok)
}
