package permit

import (
	"context"
	"errors"
	"testing"
)

func TestRuleValidation(t *testing.T) {
	cases := []struct {
		name  string
		rule  PermissionRule
		field string
	}{
		{"missing subject type", PermissionRule{ResourceType: ResourceCommand, Action: ActionAllow}, "subject_type"},
		{"bad subject type", PermissionRule{SubjectType: "robot", ResourceType: ResourceCommand, Action: ActionAllow}, "subject_type"},
		{"missing resource type", PermissionRule{SubjectType: SubjectAgent, Action: ActionAllow}, "resource_type"},
		{"bad resource type", PermissionRule{SubjectType: SubjectAgent, ResourceType: "gadget", Action: ActionAllow}, "resource_type"},
		{"missing action", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand}, "action"},
		{"bad action", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: "maybe"}, "action"},
		{"bad scope", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionAllow, Scope: "forever"}, "scope"},
		{"session scope without session", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionAllow, Scope: ScopeSession}, "session_id"},
	}
	for _, c := range cases {
		err := c.rule.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", c.name)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected *ValidationError, got %T", c.name, err)
			continue
		}
		if verr.Field != c.field {
			t.Errorf("%s: expected field %s, got %s", c.name, c.field, verr.Field)
		}
	}

	ok := PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceAny, Action: ActionPrompt}
	if err := ok.Validate(); err != nil {
		t.Fatalf("wildcard rule should validate: %v", err)
	}
}

func TestNormalizeRuleDefaults(t *testing.T) {
	r := PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionAllow}
	if err := NormalizeRule(&r); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("expected generated id")
	}
	if r.Scope != ScopePermanent {
		t.Fatalf("expected permanent default scope, got %s", r.Scope)
	}
	if r.Priority != 0 {
		t.Fatalf("expected zero default priority, got %d", r.Priority)
	}
	if r.CreatedAt.IsZero() {
		t.Fatalf("expected creation timestamp")
	}
}

func TestMemoryStoreListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()

	low := &PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionAllow, Priority: 1}
	firstTie := &PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionDeny, Priority: 5}
	secondTie := &PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionPrompt, Priority: 5}
	for _, r := range []*PermissionRule{low, firstTie, secondTie} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rules, err := s.ListRules(ctx, RuleFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	if rules[0].ID != firstTie.ID || rules[1].ID != secondTie.ID || rules[2].ID != low.ID {
		t.Fatalf("expected priority desc with stable ties, got %s %s %s", rules[0].ID, rules[1].ID, rules[2].ID)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()

	r := &PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, Action: ActionAllow}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	removed, err := s.DeleteRule(ctx, r.ID)
	if err != nil || !removed {
		t.Fatalf("expected delete to report true, got %v/%v", removed, err)
	}
	removed, err = s.DeleteRule(ctx, r.ID)
	if err != nil || removed {
		t.Fatalf("expected second delete to report false, got %v/%v", removed, err)
	}
	got, err := s.GetRule(ctx, r.ID)
	if err != nil || got != nil {
		t.Fatalf("expected nil rule after delete, got %v/%v", got, err)
	}
}

func TestRuleFilterNarrowing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRuleStore()

	shell := "shell"
	wildcard := &PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceAny, Action: ActionPrompt}
	agentShell := &PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, ResourceName: &shell, Action: ActionAllow}
	userTool := &PermissionRule{SubjectType: SubjectUser, ResourceType: ResourceTool, Action: ActionDeny}
	for _, r := range []*PermissionRule{wildcard, agentShell, userTool} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rules, err := s.ListRules(ctx, RuleFilter{SubjectType: SubjectAgent, ResourceType: ResourceCommand, ResourceName: &shell})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range rules {
		ids[r.ID] = true
	}
	if !ids[wildcard.ID] || !ids[agentShell.ID] {
		t.Fatalf("filter must keep wildcard and exact rules, got %v", ids)
	}
	if ids[userTool.ID] {
		t.Fatalf("filter must drop rules for other subject types")
	}
}
