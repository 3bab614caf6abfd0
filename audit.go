package permit

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// VERDICT AUDIT
// ============================================================================

// VerdictEntry records one evaluation outcome. RuleID is empty when the
// default verdict applied.
type VerdictEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   Subject        `json:"subject"`
	Resource  Resource       `json:"resource"`
	OwnerID   string         `json:"owner_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Action    RuleAction     `json:"action"`
	RuleID    string         `json:"rule_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VerdictFilter narrows audit log queries.
type VerdictFilter struct {
	SubjectID    string
	ResourceName string
	Action       RuleAction
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}

// AuditStore persists evaluation verdicts for after-the-fact review.
type AuditStore interface {
	LogVerdict(ctx context.Context, entry *VerdictEntry) error
	GetVerdictLog(ctx context.Context, filter VerdictFilter) ([]*VerdictEntry, error)
}

// MemoryAuditStore keeps verdict entries in memory, oldest first.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*VerdictEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*VerdictEntry, 0)}
}

func (s *MemoryAuditStore) LogVerdict(ctx context.Context, entry *VerdictEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetVerdictLog(ctx context.Context, filter VerdictFilter) ([]*VerdictEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*VerdictEntry, 0)
	for _, entry := range s.entries {
		if filter.SubjectID != "" && entry.Subject.ID != filter.SubjectID {
			continue
		}
		if filter.ResourceName != "" && entry.Resource.Name != filter.ResourceName {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
