package stores

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLAuditStore persists evaluation verdicts in the verdict_log table.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db handle")
	}
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogVerdict(ctx context.Context, entry *permit.VerdictEntry) error {
	q := `INSERT INTO verdict_log(id, ts, subject_type, subject_id, resource_type, resource_name, owner_id, session_id, action, rule_id)
VALUES(:id, :ts, :subject_type, :subject_id, :resource_type, :resource_name, :owner_id, :session_id, :action, :rule_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"ts":            entry.Timestamp,
		"subject_type":  string(entry.Subject.Type),
		"subject_id":    emptyToNull(entry.Subject.ID),
		"resource_type": string(entry.Resource.Type),
		"resource_name": emptyToNull(entry.Resource.Name),
		"owner_id":      emptyToNull(entry.OwnerID),
		"session_id":    emptyToNull(entry.SessionID),
		"action":        string(entry.Action),
		"rule_id":       emptyToNull(entry.RuleID),
	})
	return err
}

func (s *SQLAuditStore) GetVerdictLog(ctx context.Context, filter permit.VerdictFilter) ([]*permit.VerdictEntry, error) {
	q := `SELECT id, ts, subject_type, subject_id, resource_type, resource_name, owner_id, session_id, action, rule_id FROM verdict_log`
	where := make([]string, 0, 3)
	args := map[string]any{}
	if filter.SubjectID != "" {
		where = append(where, `subject_id = :subject_id`)
		args["subject_id"] = filter.SubjectID
	}
	if filter.ResourceName != "" {
		where = append(where, `resource_name = :resource_name`)
		args["resource_name"] = filter.ResourceName
	}
	if filter.Action != "" {
		where = append(where, `action = :action`)
		args["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		where = append(where, `ts >= :start_ts`)
		args["start_ts"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		where = append(where, `ts <= :end_ts`)
		args["end_ts"] = filter.EndTime
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY ts ASC`

	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.VerdictEntry, 0)
	for r.Next() {
		var (
			id, subjectType, resourceType, action       string
			subjectID, resourceName, ownerID, sessionID sql.NullString
			ruleID                                      sql.NullString
			tsRaw                                       any
		)
		if err := r.Scan(&id, &tsRaw, &subjectType, &subjectID, &resourceType, &resourceName, &ownerID, &sessionID, &action, &ruleID); err != nil {
			return nil, err
		}
		entry := &permit.VerdictEntry{
			ID:        id,
			Subject:   permit.Subject{Type: permit.SubjectType(subjectType), ID: subjectID.String},
			Resource:  permit.Resource{Type: permit.ResourceType(resourceType), Name: resourceName.String},
			OwnerID:   ownerID.String,
			SessionID: sessionID.String,
			Action:    permit.RuleAction(action),
			RuleID:    ruleID.String,
		}
		switch v := tsRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
