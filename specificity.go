package permit

import "reflect"

// ============================================================================
// SPECIFICITY & CONDITIONS
// ============================================================================

// ComputeSpecificity scores how precisely a rule targets the given subject
// and resource so that narrower rules outrank broader ones regardless of
// creation order. The subject component contributes 0 (wildcard type),
// 2 (exact type) or 4 (exact type plus concrete matching id); the resource
// component contributes 1 only when both the resource type and name match
// exactly. A session-bound rule whose session matches the context gets a
// flat +8 on top, which puts it above every session-independent rule; a
// session-bound rule outside its session scores 0.
func ComputeSpecificity(r *PermissionRule, sub Subject, res Resource, ec EvalContext) int {
	if r.SessionID != nil && *r.SessionID != ec.SessionID {
		return 0
	}
	score := 0
	if r.SubjectType != SubjectAny && r.SubjectType == sub.Type {
		score += 2
		if r.SubjectID != nil && *r.SubjectID == sub.ID {
			score += 2
		}
	}
	if r.ResourceType != ResourceAny && r.ResourceType == res.Type &&
		r.ResourceName != nil && *r.ResourceName == res.Name {
		score++
	}
	if r.SessionID != nil {
		score += 8
	}
	return score
}

// ConditionsMatch reports whether every rule condition key exists in the
// context with a strictly equal value. Nil or empty conditions always match.
// A missing key or an unequal value excludes the rule entirely; conditions
// never merely reduce a score.
func ConditionsMatch(conds map[string]any, ec EvalContext) bool {
	for key, want := range conds {
		got, ok := ec.Value(key)
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// valueEqual compares two condition values. Numeric values are compared by
// magnitude because conditions round-trip through JSON at the storage
// boundary, which turns every number into float64.
func valueEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
