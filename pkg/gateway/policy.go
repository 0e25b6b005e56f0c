package gateway

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Role is one of the closed authorisation roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleEventOwner Role = "event-owner"
	RoleUser       Role = "user"
)

// ValidRole reports membership in the closed role set.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleEventOwner || r == RoleUser
}

// ActionInvoke is the only action the gateway queries today; the relation
// keys on action so finer-grained verbs can register later.
const ActionInvoke = "invoke"

// Rule is one explicit (role, tool, action) → allow/deny entry.
type Rule struct {
	Role   Role   `json:"role"`
	Tool   string `json:"tool"`
	Action string `json:"action"`
	Allow  bool   `json:"allow"`
}

func ruleKey(role Role, tool, action string) string {
	return string(role) + "|" + tool + "|" + action
}

// policyFile is the persisted shape.
type policyFile struct {
	Rules     []Rule          `json:"rules"`
	UserRoles map[string]Role `json:"user_roles"`
}

// Policy is the in-process role-policy engine: explicit rules first, then
// the role default. Mutations persist through an atomic file rewrite.
type Policy struct {
	mu        sync.RWMutex
	rules     map[string]bool // ruleKey → allow
	userRoles map[string]Role
	path      string
	logger    *slog.Logger
}

// roleDefaults is the second lookup tier. Every closed role may invoke
// forwarded tools by default; restrictions are expressed as explicit deny
// rules (seeded below for the policy-management surface).
var roleDefaults = map[Role]bool{
	RoleAdmin:      true,
	RoleEventOwner: true,
	RoleUser:       true,
}

// policyMutatingTools change policy or role-assignment state. The seeded
// defaults deny them to non-admin roles; requireAdmin gates them again at
// call time.
var policyMutatingTools = []string{
	"add_policy",
	"remove_policy",
	"add_user_role",
	"remove_user_role",
}

// NewPolicy creates the engine, loading persisted rules from path when the
// file exists. An unreadable file is an error; a missing one seeds the
// default rule set.
func NewPolicy(path string) (*Policy, error) {
	p := &Policy{
		rules:     make(map[string]bool),
		userRoles: make(map[string]Role),
		path:      path,
		logger:    slog.Default().With("component", "gateway-policy"),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var pf policyFile
		if err := json.Unmarshal(data, &pf); err != nil {
			return nil, errs.Parse("decode policy file "+path, err)
		}
		for _, r := range pf.Rules {
			p.rules[ruleKey(r.Role, r.Tool, r.Action)] = r.Allow
		}
		if pf.UserRoles != nil {
			p.userRoles = pf.UserRoles
		}
	case os.IsNotExist(err):
		p.seedDefaults()
	default:
		return nil, errs.IO("read policy file "+path, err)
	}
	return p, nil
}

// seedDefaults denies the policy-management tools to non-admin roles.
// Forwarded tools stay on the role default (allow).
func (p *Policy) seedDefaults() {
	for _, tool := range policyMutatingTools {
		p.rules[ruleKey(RoleEventOwner, tool, ActionInvoke)] = false
		p.rules[ruleKey(RoleUser, tool, ActionInvoke)] = false
	}
}

// Allowed answers the (role, tool, action) relation: explicit rule first,
// then the role default. Unknown roles are denied.
func (p *Policy) Allowed(role Role, tool, action string) bool {
	if !ValidRole(role) {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if allow, ok := p.rules[ruleKey(role, tool, action)]; ok {
		return allow
	}
	return roleDefaults[role]
}

// AddRule inserts or replaces an explicit rule and persists.
func (p *Policy) AddRule(r Rule) error {
	if !ValidRole(r.Role) {
		return errs.Validation("role", "unknown role "+string(r.Role))
	}
	if r.Tool == "" {
		return errs.Validation("tool", "is required")
	}
	if r.Action == "" {
		r.Action = ActionInvoke
	}
	p.mu.Lock()
	p.rules[ruleKey(r.Role, r.Tool, r.Action)] = r.Allow
	p.mu.Unlock()
	return p.persist()
}

// RemoveRule deletes an explicit rule and persists. Removing an absent rule
// is a no-op.
func (p *Policy) RemoveRule(role Role, tool, action string) error {
	if action == "" {
		action = ActionInvoke
	}
	p.mu.Lock()
	delete(p.rules, ruleKey(role, tool, action))
	p.mu.Unlock()
	return p.persist()
}

// Rules returns every explicit rule, for the get-policy management tool.
func (p *Policy) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rules := make([]Rule, 0, len(p.rules))
	for key, allow := range p.rules {
		rules = append(rules, parseRuleKey(key, allow))
	}
	return rules
}

// RoleOf returns the assigned role for a user, defaulting to user.
func (p *Policy) RoleOf(userID string) Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if role, ok := p.userRoles[userID]; ok {
		return role
	}
	return RoleUser
}

// SetUserRole assigns a role and persists.
func (p *Policy) SetUserRole(userID string, role Role) error {
	if !ValidRole(role) {
		return errs.Validation("role", "unknown role "+string(role))
	}
	if userID == "" {
		return errs.Validation("user_id", "is required")
	}
	p.mu.Lock()
	p.userRoles[userID] = role
	p.mu.Unlock()
	return p.persist()
}

// RemoveUserRole drops an assignment, reverting the user to the default
// role, and persists.
func (p *Policy) RemoveUserRole(userID string) error {
	p.mu.Lock()
	delete(p.userRoles, userID)
	p.mu.Unlock()
	return p.persist()
}

// UserRoles returns a copy of every assignment.
func (p *Policy) UserRoles() map[string]Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Role, len(p.userRoles))
	for k, v := range p.userRoles {
		out[k] = v
	}
	return out
}

// persist rewrites the policy file atomically. Persistence failures are
// logged and returned; the in-memory mutation stands either way.
func (p *Policy) persist() error {
	if p.path == "" {
		return nil
	}

	p.mu.RLock()
	pf := policyFile{UserRoles: make(map[string]Role, len(p.userRoles))}
	for key, allow := range p.rules {
		pf.Rules = append(pf.Rules, parseRuleKey(key, allow))
	}
	for k, v := range p.userRoles {
		pf.UserRoles[k] = v
	}
	p.mu.RUnlock()

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return errs.Internal("encode policy", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.IO("create policy directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".policy-*")
	if err != nil {
		return errs.IO("create policy temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errs.IO("write policy temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errs.IO("close policy temp file", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return errs.IO("replace policy file", err)
	}
	return nil
}

func parseRuleKey(key string, allow bool) Rule {
	var role, tool, action string
	// key shape is role|tool|action; tools never contain '|'.
	parts := [3]string{}
	idx := 0
	start := 0
	for i := 0; i < len(key) && idx < 2; i++ {
		if key[i] == '|' {
			parts[idx] = key[start:i]
			idx++
			start = i + 1
		}
	}
	parts[2] = key[start:]
	role, tool, action = parts[0], parts[1], parts[2]
	return Rule{Role: Role(role), Tool: tool, Action: action, Allow: allow}
}
