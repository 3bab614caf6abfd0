package permit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// EVALUATION ENGINE
// ============================================================================

// Engine evaluates permission requests against a RuleStore. The store handle
// is explicit so tests and multi-tenant embedders can run isolated engines
// side by side.
type Engine struct {
	store      RuleStore
	auditStore AuditStore
	log        logger.Logger

	verdicts   *ristretto.Cache
	verdictTTL time.Duration

	auditCh   chan VerdictEntry
	closeOnce sync.Once
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithAuditStore installs an AuditStore; verdicts are written to it
// asynchronously off the evaluation hot path.
func WithAuditStore(s AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = s
		return nil
	}
}

// WithVerdictCache enables a ristretto-backed verdict cache. The cache is
// cleared wholesale on every rule mutation, including once-scope consumption,
// so a cached verdict can never resurrect a consumed rule.
func WithVerdictCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("configure verdict cache: %w", err)
		}
		e.verdicts = cache
		e.verdictTTL = ttl
		return nil
	}
}

// WithAuditBuffer sets the size of the async audit channel (default 1024).
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n > 0 {
			e.auditCh = make(chan VerdictEntry, n)
		}
		return nil
	}
}

func NewEngine(store RuleStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:      store,
		log:        logger.NewPhusluLogger(),
		verdictTTL: time.Second,
		auditCh:    make(chan VerdictEntry, 1024),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	go func() {
		bg := context.Background()
		for entry := range e.auditCh {
			if e.auditStore == nil {
				continue
			}
			if err := e.auditStore.LogVerdict(bg, &entry); err != nil {
				e.log.Error("audit write failed", "verdict_id", entry.ID, "error", err.Error())
			}
		}
	}()
	return e, nil
}

// Close stops the async audit worker. Pending entries already queued are
// still drained.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.auditCh) })
}

// ============================================================================
// RULE OPERATIONS
// ============================================================================

// CreateRule validates and persists a rule, then invalidates cached verdicts.
func (e *Engine) CreateRule(ctx context.Context, r *PermissionRule) error {
	if err := e.store.CreateRule(ctx, r); err != nil {
		return err
	}
	e.invalidateVerdicts()
	e.log.Debug("rule created",
		"rule_id", r.ID,
		"subject_type", string(r.SubjectType),
		"resource_type", string(r.ResourceType),
		"action", string(r.Action),
		"scope", string(r.Scope),
	)
	return nil
}

// GetRule returns the rule or nil when no rule has that id.
func (e *Engine) GetRule(ctx context.Context, id string) (*PermissionRule, error) {
	return e.store.GetRule(ctx, id)
}

// DeleteRule removes a rule; true iff it existed.
func (e *Engine) DeleteRule(ctx context.Context, id string) (bool, error) {
	removed, err := e.store.DeleteRule(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		e.invalidateVerdicts()
		e.log.Debug("rule deleted", "rule_id", id)
	}
	return removed, nil
}

// ListRules lists rules matching the filter, priority descending.
func (e *Engine) ListRules(ctx context.Context, f RuleFilter) ([]*PermissionRule, error) {
	return e.store.ListRules(ctx, f)
}

// EndSession removes every rule scoped to the session. Call it when the
// owning session is torn down so session grants cannot leak.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (int, error) {
	removed, err := e.store.DeleteSessionRules(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.invalidateVerdicts()
	}
	e.log.Info("session rules cleared", "session_id", sessionID, "removed", removed)
	return removed, nil
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate decides whether the subject may invoke the resource in the given
// context. With no matching rule the verdict is prompt, not deny: the
// default hands the decision to a human instead of failing closed.
func (e *Engine) Evaluate(ctx context.Context, sub Subject, res Resource, ec EvalContext) (*EvalResult, error) {
	return e.evaluate(ctx, sub, res, ec, false)
}

// Explain returns the same verdict as Evaluate along with a per-candidate
// trace of why each rule matched, lost or was skipped.
func (e *Engine) Explain(ctx context.Context, sub Subject, res Resource, ec EvalContext) (*EvalResult, error) {
	return e.evaluate(ctx, sub, res, ec, true)
}

type candidate struct {
	rule  *PermissionRule
	score int
}

func (e *Engine) evaluate(ctx context.Context, sub Subject, res Resource, ec EvalContext, includeTrace bool) (*EvalResult, error) {
	var cacheKey string
	if e.verdicts != nil && !includeTrace {
		cacheKey = verdictCacheKey(sub, res, ec)
		if v, ok := e.verdicts.Get(cacheKey); ok {
			if cached, ok := v.(*EvalResult); ok {
				return cached, nil
			}
		}
	}

	filter := RuleFilter{SubjectType: sub.Type, ResourceType: res.Type, ResourceName: &res.Name}
	if ec.OwnerID != "" {
		filter.OwnerID = &ec.OwnerID
	}
	rules, err := e.store.ListRules(ctx, filter)
	if err != nil {
		return nil, err
	}

	var trace []string
	if includeTrace {
		trace = make([]string, 0, len(rules))
	}

	candidates := make([]candidate, 0, len(rules))
	for _, r := range rules {
		if reason := matchRule(r, sub, res, ec); reason != "" {
			if includeTrace {
				trace = append(trace, fmt.Sprintf("rule=%s skip %s", r.ID, reason))
			}
			continue
		}
		score := ComputeSpecificity(r, sub, res, ec)
		if includeTrace {
			trace = append(trace, fmt.Sprintf("rule=%s match specificity=%d priority=%d action=%s", r.ID, score, r.Priority, r.Action))
		}
		candidates = append(candidates, candidate{rule: r, score: score})
	}

	// Total order: specificity, then priority, then deny over allow over
	// prompt, then store order. The stable sort supplies the last tiebreak.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority > b.rule.Priority
		}
		return actionRank(a.rule.Action) < actionRank(b.rule.Action)
	})

	for _, c := range candidates {
		winner := c.rule
		if winner.Scope == ScopeOnce {
			// Compare-and-delete: only the evaluation that removes the row
			// gets to use it. A concurrent loser falls through to the next
			// candidate.
			consumed, err := e.store.DeleteRule(ctx, winner.ID)
			if err != nil {
				return nil, err
			}
			if !consumed {
				if includeTrace {
					trace = append(trace, fmt.Sprintf("rule=%s already consumed", winner.ID))
				}
				continue
			}
			e.invalidateVerdicts()
			if includeTrace {
				trace = append(trace, fmt.Sprintf("rule=%s WINNER (consumed)", winner.ID))
			}
			result := &EvalResult{Action: winner.Action, Rule: winner, Trace: trace}
			e.recordVerdict(sub, res, ec, result)
			return result, nil
		}
		if includeTrace {
			trace = append(trace, fmt.Sprintf("rule=%s WINNER", winner.ID))
		}
		result := &EvalResult{Action: winner.Action, Rule: winner, Trace: trace}
		e.recordVerdict(sub, res, ec, result)
		if cacheKey != "" {
			e.verdicts.SetWithTTL(cacheKey, result, 1, e.verdictTTL)
		}
		return result, nil
	}

	if includeTrace {
		trace = append(trace, "no matching rule, default prompt")
	}
	result := &EvalResult{Action: ActionPrompt, Trace: trace}
	e.recordVerdict(sub, res, ec, result)
	if cacheKey != "" {
		e.verdicts.SetWithTTL(cacheKey, result, 1, e.verdictTTL)
	}
	return result, nil
}

// matchRule returns an empty string when the rule is a candidate for the
// request, otherwise the reason it is excluded.
func matchRule(r *PermissionRule, sub Subject, res Resource, ec EvalContext) string {
	if r.SubjectType != SubjectAny && r.SubjectType != sub.Type {
		return "subject_type"
	}
	if r.SubjectID != nil && *r.SubjectID != sub.ID {
		return "subject_id"
	}
	if r.ResourceType != ResourceAny && r.ResourceType != res.Type {
		return "resource_type"
	}
	if r.ResourceName != nil && *r.ResourceName != res.Name {
		return "resource_name"
	}
	if r.OwnerID != nil && *r.OwnerID != ec.OwnerID {
		return "owner_id"
	}
	if r.SessionID != nil && *r.SessionID != ec.SessionID {
		return "session_id"
	}
	if !ConditionsMatch(r.Conditions, ec) {
		return "conditions"
	}
	return ""
}

func actionRank(a RuleAction) int {
	switch a {
	case ActionDeny:
		return 0
	case ActionAllow:
		return 1
	default:
		return 2
	}
}

func (e *Engine) recordVerdict(sub Subject, res Resource, ec EvalContext, result *EvalResult) {
	ruleID := ""
	if result.Rule != nil {
		ruleID = result.Rule.ID
	}
	e.log.Info("permission verdict",
		"subject", string(sub.Type)+":"+sub.ID,
		"resource", string(res.Type)+":"+res.Name,
		"session_id", ec.SessionID,
		"action", string(result.Action),
		"rule_id", ruleID,
	)
	if e.auditStore == nil {
		return
	}
	entry := VerdictEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Subject:   sub,
		Resource:  res,
		OwnerID:   ec.OwnerID,
		SessionID: ec.SessionID,
		Action:    result.Action,
		RuleID:    ruleID,
	}
	select {
	case e.auditCh <- entry:
	default:
		// never block the evaluation path on a slow audit sink
	}
}

func (e *Engine) invalidateVerdicts() {
	if e.verdicts != nil {
		e.verdicts.Clear()
	}
}

// verdictCacheKey folds every input that can influence a verdict into the
// cache key. Attrs keys are sorted so the key is deterministic, and each
// value carries its dynamic type so values with the same text form, like
// 1 and "1", never share a key: condition matching is type-strict and the
// cache must not be looser than it.
func verdictCacheKey(sub Subject, res Resource, ec EvalContext) string {
	var b strings.Builder
	b.WriteString(string(sub.Type))
	b.WriteByte(':')
	b.WriteString(sub.ID)
	b.WriteByte('|')
	b.WriteString(string(res.Type))
	b.WriteByte(':')
	b.WriteString(res.Name)
	b.WriteByte('|')
	b.WriteString(ec.OwnerID)
	b.WriteByte('|')
	b.WriteString(ec.SessionID)
	if len(ec.Attrs) > 0 {
		keys := make([]string, 0, len(ec.Attrs))
		for k := range ec.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%T:%v", k, ec.Attrs[k], ec.Attrs[k])
		}
	}
	return b.String()
}
