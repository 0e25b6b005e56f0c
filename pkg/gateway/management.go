package gateway

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// gatewayService is the service name the management tools report in their
// envelopes.
const gatewayService = "gateway"

// ManagementTools lists the tools the gateway itself answers rather than
// forwarding.
var ManagementTools = []string{
	"ping",
	"get_gateway_status",
	"get_user_permissions",
	"get_available_tools",
	"get_policy",
	"add_policy",
	"remove_policy",
	"get_user_roles",
	"add_user_role",
	"remove_user_role",
}

func (g *Gateway) registerManagementTools() {
	handlers := map[string]func(auth *AuthContext, args map[string]any) *Envelope{
		"ping":                 g.handlePing,
		"get_gateway_status":   g.handleStatus,
		"get_user_permissions": g.handleUserPermissions,
		"get_available_tools":  g.handleAvailableTools,
		"get_policy":           g.handleGetPolicy,
		"add_policy":           g.handleAddPolicy,
		"remove_policy":        g.handleRemovePolicy,
		"get_user_roles":       g.handleGetUserRoles,
		"add_user_role":        g.handleAddUserRole,
		"remove_user_role":     g.handleRemoveUserRole,
	}
	for _, name := range ManagementTools {
		handler := handlers[name]
		toolName := name
		g.server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "gateway management: " + toolName,
			InputSchema: looseSchema,
		}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args, err := decodeArgs(req)
			if err != nil {
				return FailureEnvelope(toolName, gatewayService, "invalid arguments: "+err.Error(), nil).ToResult(), nil
			}
			auth, rest := extractAuth(args)
			return handler(auth, rest).ToResult(), nil
		})
	}
}

func (g *Gateway) handlePing(_ *AuthContext, _ map[string]any) *Envelope {
	return SuccessEnvelope("ping", gatewayService, map[string]any{
		"message": "pong",
		"uptime":  time.Since(g.startedAt).String(),
	})
}

func (g *Gateway) handleStatus(_ *AuthContext, _ map[string]any) *Envelope {
	toolCount := len(ManagementTools)
	services := make(map[string]any, len(ServiceTools))
	for service, tools := range ServiceTools {
		toolCount += len(tools)
		services[service] = map[string]any{"tools": len(tools)}
	}
	return SuccessEnvelope("get_gateway_status", gatewayService, map[string]any{
		"uptime":         time.Since(g.startedAt).String(),
		"dev_mode":       g.devMode,
		"tool_count":     toolCount,
		"services":       services,
		"failed_servers": g.pool.FailedServers(),
	})
}

func (g *Gateway) handleUserPermissions(_ *AuthContext, args map[string]any) *Envelope {
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return FailureEnvelope("get_user_permissions", gatewayService, "user_id is required", args)
	}
	role := g.policy.RoleOf(userID)
	denied := []string{}
	for _, tools := range ServiceTools {
		for _, tool := range tools {
			if !g.policy.Allowed(role, tool, ActionInvoke) {
				denied = append(denied, tool)
			}
		}
	}
	return SuccessEnvelope("get_user_permissions", gatewayService, map[string]any{
		"user_id":      userID,
		"role":         string(role),
		"denied_tools": denied,
	})
}

func (g *Gateway) handleAvailableTools(_ *AuthContext, _ map[string]any) *Envelope {
	byService := make(map[string]any, len(ServiceTools)+1)
	for service, tools := range ServiceTools {
		byService[service] = tools
	}
	byService[gatewayService] = ManagementTools
	return SuccessEnvelope("get_available_tools", gatewayService, map[string]any{
		"tools": byService,
	})
}

func (g *Gateway) handleGetPolicy(_ *AuthContext, _ map[string]any) *Envelope {
	rules := g.policy.Rules()
	out := make([]any, 0, len(rules))
	for _, r := range rules {
		out = append(out, map[string]any{
			"role": string(r.Role), "tool": r.Tool, "action": r.Action, "allow": r.Allow,
		})
	}
	return SuccessEnvelope("get_policy", gatewayService, map[string]any{"rules": out})
}

func (g *Gateway) handleAddPolicy(auth *AuthContext, args map[string]any) *Envelope {
	if denied := g.requireAdmin(auth); denied != "" {
		return FailureEnvelope("add_policy", gatewayService, denied, args)
	}
	role, _ := args["role"].(string)
	tool, _ := args["tool"].(string)
	action, _ := args["action"].(string)
	allow, _ := args["allow"].(bool)
	if err := g.policy.AddRule(Rule{Role: Role(role), Tool: tool, Action: action, Allow: allow}); err != nil {
		return FailureEnvelope("add_policy", gatewayService, err.Error(), args)
	}
	return SuccessEnvelope("add_policy", gatewayService, map[string]any{"added": true})
}

func (g *Gateway) handleRemovePolicy(auth *AuthContext, args map[string]any) *Envelope {
	if denied := g.requireAdmin(auth); denied != "" {
		return FailureEnvelope("remove_policy", gatewayService, denied, args)
	}
	role, _ := args["role"].(string)
	tool, _ := args["tool"].(string)
	action, _ := args["action"].(string)
	if err := g.policy.RemoveRule(Role(role), tool, action); err != nil {
		return FailureEnvelope("remove_policy", gatewayService, err.Error(), args)
	}
	return SuccessEnvelope("remove_policy", gatewayService, map[string]any{"removed": true})
}

func (g *Gateway) handleGetUserRoles(_ *AuthContext, _ map[string]any) *Envelope {
	roles := g.policy.UserRoles()
	out := make(map[string]any, len(roles))
	for userID, role := range roles {
		out[userID] = string(role)
	}
	return SuccessEnvelope("get_user_roles", gatewayService, map[string]any{"user_roles": out})
}

func (g *Gateway) handleAddUserRole(auth *AuthContext, args map[string]any) *Envelope {
	if denied := g.requireAdmin(auth); denied != "" {
		return FailureEnvelope("add_user_role", gatewayService, denied, args)
	}
	userID, _ := args["user_id"].(string)
	role, _ := args["role"].(string)
	if err := g.policy.SetUserRole(userID, Role(role)); err != nil {
		return FailureEnvelope("add_user_role", gatewayService, err.Error(), args)
	}
	return SuccessEnvelope("add_user_role", gatewayService, map[string]any{"user_id": userID, "role": role})
}

func (g *Gateway) handleRemoveUserRole(auth *AuthContext, args map[string]any) *Envelope {
	if denied := g.requireAdmin(auth); denied != "" {
		return FailureEnvelope("remove_user_role", gatewayService, denied, args)
	}
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return FailureEnvelope("remove_user_role", gatewayService, "user_id is required", args)
	}
	if err := g.policy.RemoveUserRole(userID); err != nil {
		return FailureEnvelope("remove_user_role", gatewayService, err.Error(), args)
	}
	return SuccessEnvelope("remove_user_role", gatewayService, map[string]any{"user_id": userID})
}
