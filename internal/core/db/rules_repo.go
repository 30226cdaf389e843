package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/badgekeeper/internal/types"
)

/*
 * Persisted badge rules.
 *
 * A row carries the rule definition (JSON) plus the gating columns the
 * engine never sees: enabled flag, activation window and quotas. Gating is
 * decided here; ListEligible returns only the rows the engine should hold.
 *
 * Eligibility at time t:
 *   enabled
 *   AND (start_time IS NULL OR start_time <= t)
 *   AND (end_time IS NULL OR t < end_time)
 *   AND (global_quota IS NULL OR granted_count < global_quota)
 *
 * Windows are filtered in Go after selecting enabled rows; sqlite stores
 * timestamps as text, so SQL-side comparison is not portable.
 */

// RuleRow is one row of badge_rules.
type RuleRow struct {
	RuleID       string        `db:"rule_id"`
	Name         string        `db:"name"`
	Version      string        `db:"version"`
	Definition   string        `db:"definition"`
	Enabled      bool          `db:"enabled"`
	StartTime    sql.NullTime  `db:"start_time"`
	EndTime      sql.NullTime  `db:"end_time"`
	UserQuota    sql.NullInt64 `db:"user_quota"`
	GlobalQuota  sql.NullInt64 `db:"global_quota"`
	GrantedCount int64         `db:"granted_count"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// NewRuleRow builds an enabled row with no window or quotas from rule.
func NewRuleRow(rule *types.Rule) (*RuleRow, error) {
	if rule == nil || rule.ID == "" {
		return nil, types.ErrEmptyRuleID
	}
	definition, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule %s: %w", rule.ID, err)
	}
	return &RuleRow{
		RuleID:     rule.ID,
		Name:       rule.Name,
		Version:    rule.Version,
		Definition: string(definition),
		Enabled:    true,
	}, nil
}

// Rule decodes the stored definition. Row columns take precedence over the
// id, name, version and timestamps embedded in the JSON.
func (r *RuleRow) Rule() (*types.Rule, error) {
	rule, err := types.ParseRule([]byte(r.Definition))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.RuleID, err)
	}
	rule.ID = r.RuleID
	rule.Name = r.Name
	rule.Version = r.Version
	rule.CreatedAt = r.CreatedAt
	rule.UpdatedAt = r.UpdatedAt
	return rule, nil
}

// EligibleAt reports whether the rule should be active at t.
func (r *RuleRow) EligibleAt(t time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.StartTime.Valid && t.Before(r.StartTime.Time) {
		return false
	}
	if r.EndTime.Valid && !t.Before(r.EndTime.Time) {
		return false
	}
	if r.GlobalQuota.Valid && r.GrantedCount >= r.GlobalQuota.Int64 {
		return false
	}
	return true
}

// RuleRepository persists badge rules.
type RuleRepository struct {
	q   *Queries
	now func() time.Time
}

// NewRuleRepository creates a repository over loaded queries.
func NewRuleRepository(q *Queries) *RuleRepository {
	return &RuleRepository{
		q:   q,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts row or replaces an existing row with the same id.
// granted_count and created_at survive replacement.
func (r *RuleRepository) Upsert(ctx context.Context, row *RuleRow) error {
	if row.RuleID == "" {
		return types.ErrEmptyRuleID
	}
	if !json.Valid([]byte(row.Definition)) {
		return fmt.Errorf("rule %s: definition is not valid JSON", row.RuleID)
	}
	if row.StartTime.Valid && row.EndTime.Valid && !row.StartTime.Time.Before(row.EndTime.Time) {
		return fmt.Errorf("rule %s: start_time must be before end_time", row.RuleID)
	}

	now := r.now()
	_, err := r.q.Exec(ctx, "upsert-rule",
		row.RuleID, row.Name, row.Version, row.Definition, row.Enabled,
		utcNullTime(row.StartTime), utcNullTime(row.EndTime),
		row.UserQuota, row.GlobalQuota,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", row.RuleID, err)
	}
	return nil
}

// SaveDefinition stores row's name, version and definition. A new rule is
// inserted enabled with no window or quotas; an existing rule keeps its
// gating columns and granted_count. Returns the row as stored.
func (r *RuleRepository) SaveDefinition(ctx context.Context, row *RuleRow) (*RuleRow, error) {
	if row.RuleID == "" {
		return nil, types.ErrEmptyRuleID
	}
	if !json.Valid([]byte(row.Definition)) {
		return nil, fmt.Errorf("rule %s: definition is not valid JSON", row.RuleID)
	}

	now := r.now()
	_, err := r.q.Exec(ctx, "upsert-rule-definition",
		row.RuleID, row.Name, row.Version, row.Definition, true, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule %s: %w", row.RuleID, err)
	}
	return r.Get(ctx, row.RuleID)
}

// Get returns the row for id, or a *types.StoreError wrapping ErrRuleNotFound.
func (r *RuleRepository) Get(ctx context.Context, id string) (*RuleRow, error) {
	var row RuleRow
	err := r.q.Get(ctx, "get-rule", &row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return &row, nil
}

// Delete removes the row for id.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.Exec(ctx, "delete-rule", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return requireAffected(res, types.NotFound(id))
}

// List returns every row ordered by id.
func (r *RuleRepository) List(ctx context.Context) ([]RuleRow, error) {
	var rows []RuleRow
	if err := r.q.Select(ctx, "list-rules", &rows); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rows, nil
}

// ListEligible returns rows eligible at now, ordered by id.
func (r *RuleRepository) ListEligible(ctx context.Context, now time.Time) ([]RuleRow, error) {
	var rows []RuleRow
	if err := r.q.Select(ctx, "list-enabled-rules", &rows, true); err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	eligible := rows[:0]
	for _, row := range rows {
		if row.EligibleAt(now) {
			eligible = append(eligible, row)
		}
	}
	return eligible, nil
}

// IncrementGranted records one grant against the rule's global quota.
// Returns ErrQuotaExhausted if the quota is already used up.
func (r *RuleRepository) IncrementGranted(ctx context.Context, id string) error {
	res, err := r.q.Exec(ctx, "increment-granted", r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to increment granted count for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing rule from an exhausted quota
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrQuotaExhausted
}

func utcNullTime(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

// requireAffected returns notFound if res touched no rows.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
