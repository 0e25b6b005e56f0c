package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/davidmiura/tlt-sub000/pkg/version"
)

// looseSchema accepts any argument object. Forwarded tools validate at the
// backend; the gateway validates authorisation, not shape.
var looseSchema = json.RawMessage(`{"type":"object"}`)

// AuthContext is the caller identity extracted from tool arguments.
type AuthContext struct {
	UserID           string   `json:"user_id"`
	Role             Role     `json:"role"`
	EventPermissions []string `json:"event_permissions,omitempty"`
}

// authKey is the reserved argument carrying the auth context. It is
// stripped before forwarding.
const authKey = "_auth"

// Gateway exposes every backend tool plus its own management tools over a
// single MCP server.
type Gateway struct {
	policy    *Policy
	pool      *BackendPool
	server    *mcpsdk.Server
	devMode   bool
	startedAt time.Time
	logger    *slog.Logger
}

// New assembles the gateway: forwarded tools from the static registry,
// management tools on top.
func New(policy *Policy, pool *BackendPool, devMode bool) *Gateway {
	g := &Gateway{
		policy:    policy,
		pool:      pool,
		devMode:   devMode,
		startedAt: time.Now().UTC(),
		logger:    slog.Default().With("component", "gateway"),
	}

	g.server = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    version.AppName + "-gateway",
		Version: version.Version,
	}, nil)

	for service, tools := range ServiceTools {
		for _, tool := range tools {
			g.server.AddTool(&mcpsdk.Tool{
				Name:        tool,
				Description: "forwarded to " + service,
				InputSchema: looseSchema,
			}, g.forwardHandler(service, tool))
		}
	}
	g.registerManagementTools()
	return g
}

// Server returns the underlying MCP server, used by in-memory test
// transports and the HTTP handler alike.
func (g *Gateway) Server() *mcpsdk.Server { return g.server }

// Handler serves the gateway over streaming HTTP at the /mcp/ endpoint.
func (g *Gateway) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return g.server
	}, nil)
}

// forwardHandler builds the handler for one forwarded tool: authorise,
// strip auth, forward, translate. All failures come back as semantic
// envelopes; the MCP call itself never errors.
func (g *Gateway) forwardHandler(service, tool string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return FailureEnvelope(tool, service, "invalid arguments: "+err.Error(), nil).ToResult(), nil
		}

		auth, forwarded := extractAuth(args)
		if denied := g.authorize(auth, tool); denied != "" {
			return FailureEnvelope(tool, service, denied, forwarded).ToResult(), nil
		}

		result, err := g.pool.CallTool(ctx, service, tool, forwarded)
		if err != nil {
			g.logger.Warn("Backend call failed", "service", service, "tool", tool, "error", err)
			return FailureEnvelope(tool, service, "service unavailable: "+err.Error(), forwarded).ToResult(), nil
		}
		if result.IsError {
			return FailureEnvelope(tool, service, resultText(result), forwarded).ToResult(), nil
		}
		return SuccessEnvelope(tool, service, resultPayload(result)).ToResult(), nil
	}
}

// authorize runs the role-policy check. An empty return means allowed;
// otherwise it is the denial message.
func (g *Gateway) authorize(auth *AuthContext, tool string) string {
	if auth == nil {
		if g.devMode {
			return ""
		}
		return "access-denied: missing auth context"
	}
	if !ValidRole(auth.Role) {
		return "access-denied: unknown role " + string(auth.Role)
	}
	if !g.policy.Allowed(auth.Role, tool, ActionInvoke) {
		return "access-denied: role " + string(auth.Role) + " may not invoke " + tool
	}
	return ""
}

// requireAdmin guards the policy-mutating management tools. Admin presence
// is required even in dev mode.
func (g *Gateway) requireAdmin(auth *AuthContext) string {
	if auth == nil || auth.Role != RoleAdmin {
		role := "none"
		if auth != nil {
			role = string(auth.Role)
		}
		return "access-denied: admin role required, got " + role
	}
	return ""
}

func decodeArgs(req *mcpsdk.CallToolRequest) (map[string]any, error) {
	if req == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// extractAuth pulls the _auth block out of the arguments and returns the
// remaining arguments for forwarding.
func extractAuth(args map[string]any) (*AuthContext, map[string]any) {
	forwarded := make(map[string]any, len(args))
	var auth *AuthContext
	for k, v := range args {
		if k == authKey {
			auth = decodeAuth(v)
			continue
		}
		forwarded[k] = v
	}
	return auth, forwarded
}

func decodeAuth(v any) *AuthContext {
	data, err := json.Marshal(v)
	if err != nil {
		return &AuthContext{}
	}
	var auth AuthContext
	if err := json.Unmarshal(data, &auth); err != nil {
		return &AuthContext{}
	}
	return &auth
}

// resultPayload converts a backend reply into the envelope result map. A
// JSON object passes through; anything else is wrapped as text.
func resultPayload(result *mcpsdk.CallToolResult) map[string]any {
	text := resultText(result)
	if text == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}
	return map[string]any{"text": text}
}

func resultText(result *mcpsdk.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
