package permit

import (
	"fmt"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// SubjectType classifies who is requesting access.
type SubjectType string

const (
	SubjectUser   SubjectType = "user"
	SubjectAgent  SubjectType = "agent"
	SubjectPlugin SubjectType = "plugin"
	SubjectAny    SubjectType = "*"
)

// Valid reports whether the value is one of the enumerated subject types.
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectUser, SubjectAgent, SubjectPlugin, SubjectAny:
		return true
	}
	return false
}

// ResourceType classifies what is being gated.
type ResourceType string

const (
	ResourceCommand ResourceType = "command"
	ResourceTool    ResourceType = "tool"
	ResourceAbility ResourceType = "ability"
	ResourceAny     ResourceType = "*"
)

// Valid reports whether the value is one of the enumerated resource types.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceCommand, ResourceTool, ResourceAbility, ResourceAny:
		return true
	}
	return false
}

// RuleAction is the verdict a rule produces when it wins an evaluation.
type RuleAction string

const (
	ActionAllow  RuleAction = "allow"
	ActionDeny   RuleAction = "deny"
	ActionPrompt RuleAction = "prompt"
)

// Valid reports whether the value is one of the enumerated actions.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionPrompt:
		return true
	}
	return false
}

// RuleScope is the lifetime class of a rule: once (consumed by the evaluation
// that selects it), session (active only inside one session), or permanent.
type RuleScope string

const (
	ScopeOnce      RuleScope = "once"
	ScopeSession   RuleScope = "session"
	ScopePermanent RuleScope = "permanent"
)

// Valid reports whether the value is one of the enumerated scopes.
func (s RuleScope) Valid() bool {
	switch s {
	case ScopeOnce, ScopeSession, ScopePermanent:
		return true
	}
	return false
}

// Subject is the actor requesting permission.
type Subject struct {
	Type SubjectType `json:"type" yaml:"type"`
	ID   string      `json:"id" yaml:"id"`
}

// Resource is the thing being gated.
type Resource struct {
	Type ResourceType `json:"type" yaml:"type"`
	Name string       `json:"name" yaml:"name"`
}

// EvalContext carries the ownership/session context of an evaluation plus any
// extra attributes that rule conditions compare against.
type EvalContext struct {
	OwnerID   string         `json:"owner_id" yaml:"owner_id"`
	SessionID string         `json:"session_id" yaml:"session_id"`
	Attrs     map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Value resolves a condition key against the context. The built-in keys
// "owner_id" and "session_id" resolve to the context fields; everything else
// is looked up in Attrs. The second return is false when the key is absent.
// An empty built-in field counts as absent: "" means no owner or no session,
// so a condition on one of those keys only matches a context that carries a
// real value.
func (c EvalContext) Value(key string) (any, bool) {
	switch key {
	case "owner_id":
		return c.OwnerID, c.OwnerID != ""
	case "session_id":
		return c.SessionID, c.SessionID != ""
	}
	v, ok := c.Attrs[key]
	return v, ok
}

// PermissionRule is a persisted authorization rule. Nil pointer fields are
// wildcards: a nil SubjectID matches any subject of the rule's type, a nil
// ResourceName matches any resource of the rule's type, a nil OwnerID makes
// the rule system-wide and a nil SessionID makes it session-independent.
type PermissionRule struct {
	ID           string         `json:"id" yaml:"id"`
	OwnerID      *string        `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	SessionID    *string        `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	SubjectType  SubjectType    `json:"subject_type" yaml:"subject_type"`
	SubjectID    *string        `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	ResourceType ResourceType   `json:"resource_type" yaml:"resource_type"`
	ResourceName *string        `json:"resource_name,omitempty" yaml:"resource_name,omitempty"`
	Action       RuleAction     `json:"action" yaml:"action"`
	Scope        RuleScope      `json:"scope" yaml:"scope"`
	Conditions   map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Priority     int            `json:"priority" yaml:"priority"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
}

// Clone returns a deep-enough copy so stored rules never alias caller memory.
func (r *PermissionRule) Clone() *PermissionRule {
	if r == nil {
		return nil
	}
	dup := *r
	if r.Conditions != nil {
		dup.Conditions = make(map[string]any, len(r.Conditions))
		for k, v := range r.Conditions {
			dup.Conditions[k] = v
		}
	}
	return &dup
}

// ValidationError reports a rule field that is missing or outside its
// enumeration at creation time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// Validate checks the enumerated fields. Invalid rules are rejected here, at
// creation time; evaluation never sees them.
func (r *PermissionRule) Validate() error {
	if r.SubjectType == "" {
		return &ValidationError{Field: "subject_type", Reason: "is required"}
	}
	if !r.SubjectType.Valid() {
		return &ValidationError{Field: "subject_type", Reason: "must be one of user, agent, plugin, *"}
	}
	if r.ResourceType == "" {
		return &ValidationError{Field: "resource_type", Reason: "is required"}
	}
	if !r.ResourceType.Valid() {
		return &ValidationError{Field: "resource_type", Reason: "must be one of command, tool, ability, *"}
	}
	if r.Action == "" {
		return &ValidationError{Field: "action", Reason: "is required"}
	}
	if !r.Action.Valid() {
		return &ValidationError{Field: "action", Reason: "must be one of allow, deny, prompt"}
	}
	if r.Scope != "" && !r.Scope.Valid() {
		return &ValidationError{Field: "scope", Reason: "must be one of once, session, permanent"}
	}
	if r.Scope == ScopeSession && r.SessionID == nil {
		return &ValidationError{Field: "session_id", Reason: "is required for session-scoped rules"}
	}
	return nil
}

// EvalResult is the outcome of a single evaluation. Rule is nil when the
// default verdict applied. Trace is only populated by Explain.
type EvalResult struct {
	Action RuleAction      `json:"action"`
	Rule   *PermissionRule `json:"rule,omitempty"`
	Trace  []string        `json:"trace,omitempty"`
}

// Allowed reports whether the verdict grants the gated action outright.
func (r *EvalResult) Allowed() bool {
	return r.Action == ActionAllow
}

// Ptr is a small helper for building rules with pointer wildcard fields.
func Ptr[T any](v T) *T { return &v }
