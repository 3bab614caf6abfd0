package permit

import "testing"

func TestSpecificityCombinations(t *testing.T) {
	sub := Subject{Type: SubjectAgent, ID: "1"}
	res := Resource{Type: ResourceCommand, Name: "shell"}
	ec := EvalContext{}

	shell := "shell"
	cases := []struct {
		name string
		rule PermissionRule
		want int
	}{
		{"wildcard subject, wildcard resource", PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceAny}, 0},
		{"wildcard subject, resource type only", PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceCommand}, 0},
		{"wildcard subject, exact resource", PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceCommand, ResourceName: &shell}, 1},
		{"subject type, wildcard resource", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceAny}, 2},
		{"subject type, resource type only", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand}, 2},
		{"subject type, exact resource", PermissionRule{SubjectType: SubjectAgent, ResourceType: ResourceCommand, ResourceName: &shell}, 3},
		{"exact subject, wildcard resource", PermissionRule{SubjectType: SubjectAgent, SubjectID: Ptr("1"), ResourceType: ResourceAny}, 4},
		{"exact subject, resource type only", PermissionRule{SubjectType: SubjectAgent, SubjectID: Ptr("1"), ResourceType: ResourceCommand}, 4},
		{"exact subject, exact resource", PermissionRule{SubjectType: SubjectAgent, SubjectID: Ptr("1"), ResourceType: ResourceCommand, ResourceName: &shell}, 5},
	}
	for _, c := range cases {
		if got := ComputeSpecificity(&c.rule, sub, res, ec); got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestSpecificitySessionBonus(t *testing.T) {
	sub := Subject{Type: SubjectAgent, ID: "1"}
	res := Resource{Type: ResourceCommand, Name: "shell"}
	shell := "shell"

	rule := PermissionRule{
		SubjectType: SubjectAgent, SubjectID: Ptr("1"),
		ResourceType: ResourceCommand, ResourceName: &shell,
		SessionID: Ptr("s1"),
	}
	if got := ComputeSpecificity(&rule, sub, res, EvalContext{SessionID: "s1"}); got != 13 {
		t.Fatalf("matching session: got %d, want 13", got)
	}
	if got := ComputeSpecificity(&rule, sub, res, EvalContext{SessionID: "s2"}); got != 0 {
		t.Fatalf("mismatched session must score zero, got %d", got)
	}

	// a bare session-matched wildcard rule still outranks the most specific
	// session-independent rule
	broad := PermissionRule{SubjectType: SubjectAny, ResourceType: ResourceAny, SessionID: Ptr("s1")}
	narrow := PermissionRule{SubjectType: SubjectAgent, SubjectID: Ptr("1"), ResourceType: ResourceCommand, ResourceName: &shell}
	ec := EvalContext{SessionID: "s1"}
	if ComputeSpecificity(&broad, sub, res, ec) <= ComputeSpecificity(&narrow, sub, res, ec) {
		t.Fatalf("session bonus must dominate subject/resource precision")
	}
}

func TestConditionsMatch(t *testing.T) {
	ec := EvalContext{
		OwnerID:   "acct-1",
		SessionID: "s1",
		Attrs:     map[string]any{"dangerous": false, "retries": 3},
	}

	if !ConditionsMatch(nil, ec) {
		t.Fatalf("nil conditions must match")
	}
	if !ConditionsMatch(map[string]any{}, ec) {
		t.Fatalf("empty conditions must match")
	}
	if !ConditionsMatch(map[string]any{"dangerous": false}, ec) {
		t.Fatalf("equal bool must match")
	}
	if ConditionsMatch(map[string]any{"dangerous": true}, ec) {
		t.Fatalf("unequal bool must not match")
	}
	if ConditionsMatch(map[string]any{"unknown": "x"}, ec) {
		t.Fatalf("missing key must not match")
	}
	if !ConditionsMatch(map[string]any{"owner_id": "acct-1", "session_id": "s1"}, ec) {
		t.Fatalf("built-in context keys must be comparable")
	}
	// JSON round-trips numbers through float64; 3 and 3.0 are the same value
	if !ConditionsMatch(map[string]any{"retries": float64(3)}, ec) {
		t.Fatalf("numeric values must compare by magnitude")
	}
	if ConditionsMatch(map[string]any{"retries": "3"}, ec) {
		t.Fatalf("number and string must not be equal")
	}

	// empty built-in fields count as unset, not as the value ""
	bare := EvalContext{}
	if ConditionsMatch(map[string]any{"owner_id": ""}, bare) {
		t.Fatalf("empty owner_id is unset and must not satisfy a condition")
	}
	if ConditionsMatch(map[string]any{"session_id": ""}, bare) {
		t.Fatalf("empty session_id is unset and must not satisfy a condition")
	}
}
