package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/permit"
)

const policyColumns = `id, role_id, resource_id, action_id, effect, condition, params_json, compiled_json, priority, org_key, valid_from, valid_until, enabled, created_at, updated_at`

// CreatePolicy stores the policy together with its compiled tree and
// appends the first history snapshot.
func (s *SQLStore) CreatePolicy(ctx context.Context, p *permit.Policy) error {
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO policies(` + policyColumns + `) VALUES(:id, :role_id, :resource_id, :action_id, :effect, :condition, :params_json, :compiled_json, :priority, :org_key, :valid_from, :valid_until, :enabled, :created_at, :updated_at)`
	id, err := s.insert(ctx, q, args)
	if err != nil {
		return err
	}
	p.ID = id
	return s.insertPolicyHistory(ctx, p)
}

func (s *SQLStore) UpdatePolicy(ctx context.Context, p *permit.Policy) error {
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	q := `UPDATE policies SET role_id=:role_id, resource_id=:resource_id, action_id=:action_id, effect=:effect, condition=:condition, params_json=:params_json, compiled_json=:compiled_json, priority=:priority, org_key=:org_key, valid_from=:valid_from, valid_until=:valid_until, enabled=:enabled, created_at=:created_at, updated_at=:updated_at WHERE id=:id`
	if err := s.exec(ctx, "policy", p.ID, q, args); err != nil {
		return err
	}
	return s.insertPolicyHistory(ctx, p)
}

// DeletePolicy keeps the history rows of the deleted policy.
func (s *SQLStore) DeletePolicy(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "policies", "policy", id)
}

func (s *SQLStore) GetPolicy(ctx context.Context, id int64) (*permit.Policy, error) {
	list, err := s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("policy", id)
	}
	return list[0], nil
}

func (s *SQLStore) ListPolicies(ctx context.Context) ([]*permit.Policy, error) {
	return s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY id`, map[string]any{})
}

func policyArgs(p *permit.Policy) (map[string]any, error) {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	compiled := ""
	if p.Compiled != nil {
		b, err := permit.MarshalExpr(p.Compiled)
		if err != nil {
			return nil, fmt.Errorf("encode compiled condition: %w", err)
		}
		compiled = string(b)
	}
	return map[string]any{
		"id":            nullID(p.ID),
		"role_id":       p.RoleID,
		"resource_id":   p.ResourceID,
		"action_id":     p.ActionID,
		"effect":        string(p.Effect),
		"condition":     string(p.Condition),
		"params_json":   string(params),
		"compiled_json": compiled,
		"priority":      p.Priority,
		"org_key":       p.OrgKey,
		"valid_from":    sqlNullTimeOrNil(p.Validity.From),
		"valid_until":   sqlNullTimeOrNil(p.Validity.Until),
		"enabled":       boolToInt(p.Enabled),
		"created_at":    formatTime(p.CreatedAt),
		"updated_at":    formatTime(p.UpdatedAt),
	}, nil
}

// queryPolicies decodes rows leniently: a compiled tree that cannot be read
// back is left nil and recompiled from condition and params by the index.
func (s *SQLStore) queryPolicies(ctx context.Context, q string, args map[string]any) ([]*permit.Policy, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.Policy, 0)
	for rows.Next() {
		var p permit.Policy
		var effect, condition, paramsJSON, compiledJSON string
		var enabled int
		var fromRaw, untilRaw, createdRaw, updatedRaw interface{}
		if err := rows.Scan(&p.ID, &p.RoleID, &p.ResourceID, &p.ActionID, &effect, &condition, &paramsJSON, &compiledJSON,
			&p.Priority, &p.OrgKey, &fromRaw, &untilRaw, &enabled, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		p.Effect = permit.Effect(effect)
		p.Condition = permit.ConditionKind(condition)
		if paramsJSON != "" {
			if err := json.Unmarshal([]byte(paramsJSON), &p.Params); err != nil {
				return nil, fmt.Errorf("policy %d: params: %w", p.ID, err)
			}
		}
		if compiledJSON != "" {
			if tree, err := permit.UnmarshalExpr([]byte(compiledJSON)); err == nil {
				p.Compiled = tree
			}
		}
		var ts timeScanner
		p.Validity = permit.Validity{From: ts.scan("valid_from", fromRaw), Until: ts.scan("valid_until", untilRaw)}
		p.Enabled = enabled != 0
		p.CreatedAt = ts.scan("created_at", createdRaw)
		p.UpdatedAt = ts.scan("updated_at", updatedRaw)
		if ts.err != nil {
			return nil, fmt.Errorf("policy %d: %w", p.ID, ts.err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// insertPolicyHistory appends a JSON snapshot of p to policy_history.
func (s *SQLStore) insertPolicyHistory(ctx context.Context, p *permit.Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO policy_history(policy_id, snapshot_json, created_at) VALUES(:policy_id, :snapshot_json, :created_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{"policy_id": p.ID, "snapshot_json": string(b), "created_at": formatTime(s.clock())})
	return err
}

// PolicyHistory returns every stored revision of a policy, oldest first.
// Snapshots carry no compiled tree.
func (s *SQLStore) PolicyHistory(ctx context.Context, id int64) ([]*permit.Policy, error) {
	q := `SELECT snapshot_json FROM policy_history WHERE policy_id = :policy_id ORDER BY id ASC`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.Policy, 0)
	for rows.Next() {
		var snap string
		if err := rows.Scan(&snap); err != nil {
			return nil, err
		}
		p := &permit.Policy{}
		if err := json.Unmarshal([]byte(snap), p); err != nil {
			return nil, fmt.Errorf("decode policy %d snapshot: %w", id, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("policy history", id)
	}
	return out, nil
}
