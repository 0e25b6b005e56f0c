package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(filepath.Join(t.TempDir(), "gateway_policy.json"))
	require.NoError(t, err)
	return p
}

func TestDefaultPolicyAllowsForwardedTools(t *testing.T) {
	p := newTestPolicy(t)

	for _, role := range []Role{RoleAdmin, RoleEventOwner, RoleUser} {
		assert.True(t, p.Allowed(role, "create_event", ActionInvoke), "role %s", role)
		assert.True(t, p.Allowed(role, "process_rsvp", ActionInvoke), "role %s", role)
	}
}

func TestDefaultPolicyDeniesPolicyToolsToNonAdmins(t *testing.T) {
	p := newTestPolicy(t)

	assert.True(t, p.Allowed(RoleAdmin, "add_policy", ActionInvoke))
	assert.False(t, p.Allowed(RoleEventOwner, "add_policy", ActionInvoke))
	assert.False(t, p.Allowed(RoleUser, "remove_user_role", ActionInvoke))
}

func TestExplicitRuleOverridesRoleDefault(t *testing.T) {
	p := newTestPolicy(t)

	require.NoError(t, p.AddRule(Rule{Role: RoleUser, Tool: "delete_event", Action: ActionInvoke, Allow: false}))
	assert.False(t, p.Allowed(RoleUser, "delete_event", ActionInvoke))
	assert.True(t, p.Allowed(RoleEventOwner, "delete_event", ActionInvoke))

	require.NoError(t, p.RemoveRule(RoleUser, "delete_event", ActionInvoke))
	assert.True(t, p.Allowed(RoleUser, "delete_event", ActionInvoke))
}

func TestUnknownRoleDenied(t *testing.T) {
	p := newTestPolicy(t)
	assert.False(t, p.Allowed(Role("superuser"), "create_event", ActionInvoke))
}

func TestAddRuleValidation(t *testing.T) {
	p := newTestPolicy(t)
	assert.Error(t, p.AddRule(Rule{Role: Role("bogus"), Tool: "create_event"}))
	assert.Error(t, p.AddRule(Rule{Role: RoleUser}))
}

func TestUserRoleAssignment(t *testing.T) {
	p := newTestPolicy(t)

	assert.Equal(t, RoleUser, p.RoleOf("7"), "unassigned users default to user")

	require.NoError(t, p.SetUserRole("7", RoleAdmin))
	assert.Equal(t, RoleAdmin, p.RoleOf("7"))

	require.NoError(t, p.RemoveUserRole("7"))
	assert.Equal(t, RoleUser, p.RoleOf("7"))
}

func TestPolicyPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway_policy.json")

	p1, err := NewPolicy(path)
	require.NoError(t, err)
	require.NoError(t, p1.AddRule(Rule{Role: RoleUser, Tool: "canvas_clear", Action: ActionInvoke, Allow: false}))
	require.NoError(t, p1.SetUserRole("7", RoleEventOwner))

	p2, err := NewPolicy(path)
	require.NoError(t, err)
	assert.False(t, p2.Allowed(RoleUser, "canvas_clear", ActionInvoke))
	assert.Equal(t, RoleEventOwner, p2.RoleOf("7"))
}

func TestPolicyFileIsValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway_policy.json")
	p, err := NewPolicy(path)
	require.NoError(t, err)
	require.NoError(t, p.AddRule(Rule{Role: RoleUser, Tool: "canvas_clear", Allow: false}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data)) // parses
	assert.Contains(t, string(data), "canvas_clear")
}

func TestCorruptPolicyFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway_policy.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewPolicy(path)
	assert.Error(t, err)
}
