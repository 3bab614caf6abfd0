package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// SQLRuleStore persists permission rules in SQL (squealx). The seq column
// carries insertion order so ListRules can break priority ties stably, and
// DeleteRule maps to a single conditional DELETE, which is the
// compare-and-delete primitive once-scope consumption relies on.
type SQLRuleStore struct {
	db  *squealx.DB
	log logger.Logger
}

func NewSQLRuleStore(db *squealx.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db, log: logger.NewPhusluLogger()}
}

// SetLogger replaces the logger used for skipped-row warnings.
func (s *SQLRuleStore) SetLogger(l logger.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *SQLRuleStore) CreateRule(ctx context.Context, r *permit.PermissionRule) error {
	if err := permit.NormalizeRule(r); err != nil {
		return err
	}
	var conds any
	if len(r.Conditions) > 0 {
		b, err := json.Marshal(r.Conditions)
		if err != nil {
			return err
		}
		conds = string(b)
	}
	q := `INSERT INTO permission_rules(id, owner_id, session_id, subject_type, subject_id, resource_type, resource_name, action, scope, conditions_json, priority, created_at)
VALUES(:id, :owner_id, :session_id, :subject_type, :subject_id, :resource_type, :resource_name, :action, :scope, :conditions_json, :priority, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              r.ID,
		"owner_id":        ptrToNull(r.OwnerID),
		"session_id":      ptrToNull(r.SessionID),
		"subject_type":    string(r.SubjectType),
		"subject_id":      ptrToNull(r.SubjectID),
		"resource_type":   string(r.ResourceType),
		"resource_name":   ptrToNull(r.ResourceName),
		"action":          string(r.Action),
		"scope":           string(r.Scope),
		"conditions_json": conds,
		"priority":        r.Priority,
		"created_at":      r.CreatedAt,
	})
	return err
}

const ruleColumns = `id, owner_id, session_id, subject_type, subject_id, resource_type, resource_name, action, scope, conditions_json, priority, created_at`

func (s *SQLRuleStore) GetRule(ctx context.Context, id string) (*permit.PermissionRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM permission_rules WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return s.scanRule(r)
}

func (s *SQLRuleStore) DeleteRule(ctx context.Context, id string) (bool, error) {
	q := `DELETE FROM permission_rules WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLRuleStore) ListRules(ctx context.Context, f permit.RuleFilter) ([]*permit.PermissionRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM permission_rules`
	where := make([]string, 0, 4)
	args := map[string]any{}
	if f.SubjectType != "" {
		where = append(where, `subject_type IN (:subject_type, '*')`)
		args["subject_type"] = string(f.SubjectType)
	}
	if f.ResourceType != "" {
		where = append(where, `resource_type IN (:resource_type, '*')`)
		args["resource_type"] = string(f.ResourceType)
	}
	if f.ResourceName != nil {
		where = append(where, `(resource_name IS NULL OR resource_name = :resource_name)`)
		args["resource_name"] = *f.ResourceName
	}
	if f.OwnerID != nil {
		where = append(where, `(owner_id IS NULL OR owner_id = :owner_id)`)
		args["owner_id"] = *f.OwnerID
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY priority DESC, seq ASC`

	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.PermissionRule, 0)
	for r.Next() {
		rule, err := s.scanRule(r)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLRuleStore) DeleteSessionRules(ctx context.Context, sessionID string) (int, error) {
	q := `DELETE FROM permission_rules WHERE session_id = :session_id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"session_id": sessionID})
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRule reads one permission_rules row. A row whose conditions blob no
// longer parses is logged and dropped (nil, nil): one corrupt rule must not
// take down the evaluation of the valid ones.
func (s *SQLRuleStore) scanRule(r rowScanner) (*permit.PermissionRule, error) {
	var (
		id, subjectType, resourceType, action, scope string
		ownerID, sessionID, subjectID, resourceName  sql.NullString
		condsJSON                                    sql.NullString
		priority                                     int
		createdRaw                                   any
	)
	if err := r.Scan(&id, &ownerID, &sessionID, &subjectType, &subjectID, &resourceType, &resourceName, &action, &scope, &condsJSON, &priority, &createdRaw); err != nil {
		return nil, err
	}
	rule := &permit.PermissionRule{
		ID:           id,
		OwnerID:      nullToPtr(ownerID),
		SessionID:    nullToPtr(sessionID),
		SubjectType:  permit.SubjectType(subjectType),
		SubjectID:    nullToPtr(subjectID),
		ResourceType: permit.ResourceType(resourceType),
		ResourceName: nullToPtr(resourceName),
		Action:       permit.RuleAction(action),
		Scope:        permit.RuleScope(scope),
		Priority:     priority,
	}
	if condsJSON.Valid && condsJSON.String != "" {
		conds := map[string]any{}
		if err := json.Unmarshal([]byte(condsJSON.String), &conds); err != nil {
			s.log.Error("skipping rule with malformed conditions", "rule_id", id, "error", err.Error())
			return nil, nil
		}
		rule.Conditions = conds
	}
	switch v := createdRaw.(type) {
	case time.Time:
		rule.CreatedAt = v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			rule.CreatedAt = t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			rule.CreatedAt = t
		}
	}
	return rule, nil
}
