package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oarkflow/permit"
)

const assignmentColumns = `id, role_id, user_id, group_id, org_key, valid_from, valid_until, enabled, created_at, updated_at`

func (s *SQLStore) CreateAssignment(ctx context.Context, a *permit.RoleAssignment) error {
	q := `INSERT INTO role_assignments(` + assignmentColumns + `) VALUES(:id, :role_id, :user_id, :group_id, :org_key, :valid_from, :valid_until, :enabled, :created_at, :updated_at)`
	id, err := s.insert(ctx, q, assignmentArgs(a))
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (s *SQLStore) UpdateAssignment(ctx context.Context, a *permit.RoleAssignment) error {
	q := `UPDATE role_assignments SET role_id=:role_id, user_id=:user_id, group_id=:group_id, org_key=:org_key, valid_from=:valid_from, valid_until=:valid_until, enabled=:enabled, created_at=:created_at, updated_at=:updated_at WHERE id=:id`
	return s.exec(ctx, "assignment", a.ID, q, assignmentArgs(a))
}

func (s *SQLStore) DeleteAssignment(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "role_assignments", "assignment", id)
}

func (s *SQLStore) GetAssignment(ctx context.Context, id int64) (*permit.RoleAssignment, error) {
	list, err := s.queryAssignments(ctx, `SELECT `+assignmentColumns+` FROM role_assignments WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("assignment", id)
	}
	return list[0], nil
}

func (s *SQLStore) ListAssignments(ctx context.Context) ([]*permit.RoleAssignment, error) {
	return s.queryAssignments(ctx, `SELECT `+assignmentColumns+` FROM role_assignments ORDER BY id`, map[string]any{})
}

func assignmentArgs(a *permit.RoleAssignment) map[string]any {
	return map[string]any{
		"id":          nullID(a.ID),
		"role_id":     a.RoleID,
		"user_id":     nullInt(a.UserID),
		"group_id":    nullInt(a.GroupID),
		"org_key":     a.OrgKey,
		"valid_from":  sqlNullTimeOrNil(a.Validity.From),
		"valid_until": sqlNullTimeOrNil(a.Validity.Until),
		"enabled":     boolToInt(a.Enabled),
		"created_at":  formatTime(a.CreatedAt),
		"updated_at":  formatTime(a.UpdatedAt),
	}
}

func (s *SQLStore) queryAssignments(ctx context.Context, q string, args map[string]any) ([]*permit.RoleAssignment, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.RoleAssignment, 0)
	for rows.Next() {
		var a permit.RoleAssignment
		var user, group sql.NullInt64
		var enabled int
		var fromRaw, untilRaw, createdRaw, updatedRaw interface{}
		if err := rows.Scan(&a.ID, &a.RoleID, &user, &group, &a.OrgKey, &fromRaw, &untilRaw, &enabled, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		a.UserID = user.Int64
		a.GroupID = group.Int64
		var ts timeScanner
		a.Validity = permit.Validity{From: ts.scan("valid_from", fromRaw), Until: ts.scan("valid_until", untilRaw)}
		a.Enabled = enabled != 0
		a.CreatedAt = ts.scan("created_at", createdRaw)
		a.UpdatedAt = ts.scan("updated_at", updatedRaw)
		if ts.err != nil {
			return nil, fmt.Errorf("role assignment %d: %w", a.ID, ts.err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
