package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/permit"
)

const roleColumns = `id, name, description, is_active, is_system, created_at, updated_at`

func (s *SQLStore) CreateRole(ctx context.Context, r *permit.Role) error {
	q := `INSERT INTO roles(id, name, description, is_active, is_system, created_at, updated_at) VALUES(:id, :name, :description, :is_active, :is_system, :created_at, :updated_at)`
	id, err := s.insert(ctx, q, roleArgs(r))
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (s *SQLStore) UpdateRole(ctx context.Context, r *permit.Role) error {
	q := `UPDATE roles SET name=:name, description=:description, is_active=:is_active, is_system=:is_system, created_at=:created_at, updated_at=:updated_at WHERE id=:id`
	return s.exec(ctx, "role", r.ID, q, roleArgs(r))
}

func (s *SQLStore) DeleteRole(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "roles", "role", id)
}

func (s *SQLStore) GetRole(ctx context.Context, id int64) (*permit.Role, error) {
	list, err := s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("role", id)
	}
	return list[0], nil
}

func (s *SQLStore) GetRoleByName(ctx context.Context, name string) (*permit.Role, error) {
	list, err := s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = :name`, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("role", name)
	}
	return list[0], nil
}

func (s *SQLStore) ListRoles(ctx context.Context) ([]*permit.Role, error) {
	return s.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`, map[string]any{})
}

func roleArgs(r *permit.Role) map[string]any {
	return map[string]any{
		"id":          nullID(r.ID),
		"name":        r.Name,
		"description": r.Description,
		"is_active":   boolToInt(r.IsActive),
		"is_system":   boolToInt(r.IsSystem),
		"created_at":  formatTime(r.CreatedAt),
		"updated_at":  formatTime(r.UpdatedAt),
	}
}

func (s *SQLStore) queryRoles(ctx context.Context, q string, args map[string]any) ([]*permit.Role, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.Role, 0)
	for rows.Next() {
		var r permit.Role
		var active, system int
		var createdRaw, updatedRaw interface{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &active, &system, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		r.IsActive = active != 0
		r.IsSystem = system != 0
		var ts timeScanner
		r.CreatedAt = ts.scan("created_at", createdRaw)
		r.UpdatedAt = ts.scan("updated_at", updatedRaw)
		if ts.err != nil {
			return nil, fmt.Errorf("role %d: %w", r.ID, ts.err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
