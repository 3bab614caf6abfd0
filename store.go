package permit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// RULE STORE
// ============================================================================

// RuleFilter narrows a listing to a superset of the rules that could match an
// evaluation. A zero filter matches everything. Set fields match inclusively:
// SubjectType also matches '*' rules, ResourceType also matches '*' rules,
// ResourceName also matches rules with no resource name, and OwnerID also
// matches system-wide rules with no owner. The engine re-checks every
// candidate condition itself, so correctness never depends on the narrowing.
type RuleFilter struct {
	OwnerID      *string
	SubjectType  SubjectType
	ResourceType ResourceType
	ResourceName *string
}

// Matches reports whether the rule falls inside the filter.
func (f RuleFilter) Matches(r *PermissionRule) bool {
	if f.SubjectType != "" && r.SubjectType != f.SubjectType && r.SubjectType != SubjectAny {
		return false
	}
	if f.ResourceType != "" && r.ResourceType != f.ResourceType && r.ResourceType != ResourceAny {
		return false
	}
	if f.ResourceName != nil && r.ResourceName != nil && *r.ResourceName != *f.ResourceName {
		return false
	}
	if f.OwnerID != nil && r.OwnerID != nil && *r.OwnerID != *f.OwnerID {
		return false
	}
	return true
}

// RuleStore is the persistence boundary of the engine. Implementations must
// keep ListRules ordered by priority descending with ties broken by insertion
// order, and must make DeleteRule a compare-and-delete: exactly one caller
// observes true for a given id. That primitive is what keeps once-scope
// consumption safe under concurrent evaluation.
type RuleStore interface {
	CreateRule(ctx context.Context, r *PermissionRule) error
	GetRule(ctx context.Context, id string) (*PermissionRule, error)
	DeleteRule(ctx context.Context, id string) (bool, error)
	ListRules(ctx context.Context, f RuleFilter) ([]*PermissionRule, error)
	DeleteSessionRules(ctx context.Context, sessionID string) (int, error)
}

// NormalizeRule validates a rule and fills the store-assigned fields: a
// generated id, the permanent default scope and the creation timestamp.
// Every RuleStore implementation calls this from CreateRule.
func NormalizeRule(r *PermissionRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Scope == "" {
		r.Scope = ScopePermanent
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// MemoryRuleStore keeps rules in insertion order behind a RWMutex. It is the
// store used by tests and by embedders that do not need persistence.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules []*PermissionRule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make([]*PermissionRule, 0)}
}

func (s *MemoryRuleStore) CreateRule(ctx context.Context, r *PermissionRule) error {
	if err := NormalizeRule(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r.Clone())
	return nil
}

func (s *MemoryRuleStore) GetRule(ctx context.Context, id string) (*PermissionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryRuleStore) DeleteRule(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRuleStore) ListRules(ctx context.Context, f RuleFilter) ([]*PermissionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PermissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	// stable keeps insertion order inside a priority band
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *MemoryRuleStore) DeleteSessionRules(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rules[:0]
	removed := 0
	for _, r := range s.rules {
		if r.SessionID != nil && *r.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rules = kept
	return removed, nil
}
