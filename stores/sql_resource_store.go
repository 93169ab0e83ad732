package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oarkflow/permit"
)

const resourceColumns = `id, key, parent_id, name, description, created_at, updated_at`

func (s *SQLStore) CreateResource(ctx context.Context, r *permit.Resource) error {
	q := `INSERT INTO resources(id, key, parent_id, name, description, created_at, updated_at) VALUES(:id, :key, :parent_id, :name, :description, :created_at, :updated_at)`
	id, err := s.insert(ctx, q, resourceArgs(r))
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (s *SQLStore) UpdateResource(ctx context.Context, r *permit.Resource) error {
	q := `UPDATE resources SET key=:key, parent_id=:parent_id, name=:name, description=:description, created_at=:created_at, updated_at=:updated_at WHERE id=:id`
	return s.exec(ctx, "resource", r.ID, q, resourceArgs(r))
}

func (s *SQLStore) DeleteResource(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "resources", "resource", id)
}

func (s *SQLStore) GetResource(ctx context.Context, id int64) (*permit.Resource, error) {
	list, err := s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("resource", id)
	}
	return list[0], nil
}

func (s *SQLStore) GetResourceByKey(ctx context.Context, key string) (*permit.Resource, error) {
	list, err := s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources WHERE key = :key`, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("resource", key)
	}
	return list[0], nil
}

func (s *SQLStore) ListResources(ctx context.Context) ([]*permit.Resource, error) {
	return s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`, map[string]any{})
}

func resourceArgs(r *permit.Resource) map[string]any {
	return map[string]any{
		"id":          nullID(r.ID),
		"key":         r.Key,
		"parent_id":   nullInt(r.ParentID),
		"name":        r.Name,
		"description": r.Description,
		"created_at":  formatTime(r.CreatedAt),
		"updated_at":  formatTime(r.UpdatedAt),
	}
}

func (s *SQLStore) queryResources(ctx context.Context, q string, args map[string]any) ([]*permit.Resource, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.Resource, 0)
	for rows.Next() {
		var r permit.Resource
		var parent sql.NullInt64
		var createdRaw, updatedRaw interface{}
		if err := rows.Scan(&r.ID, &r.Key, &parent, &r.Name, &r.Description, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		r.ParentID = parent.Int64
		var ts timeScanner
		r.CreatedAt = ts.scan("created_at", createdRaw)
		r.UpdatedAt = ts.scan("updated_at", updatedRaw)
		if ts.err != nil {
			return nil, fmt.Errorf("resource %d: %w", r.ID, ts.err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

const actionColumns = `id, key, name, created_at, updated_at`

func (s *SQLStore) CreateAction(ctx context.Context, a *permit.Action) error {
	q := `INSERT INTO actions(id, key, name, created_at, updated_at) VALUES(:id, :key, :name, :created_at, :updated_at)`
	id, err := s.insert(ctx, q, actionArgs(a))
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (s *SQLStore) UpdateAction(ctx context.Context, a *permit.Action) error {
	q := `UPDATE actions SET key=:key, name=:name, created_at=:created_at, updated_at=:updated_at WHERE id=:id`
	return s.exec(ctx, "action", a.ID, q, actionArgs(a))
}

func (s *SQLStore) DeleteAction(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "actions", "action", id)
}

func (s *SQLStore) GetAction(ctx context.Context, id int64) (*permit.Action, error) {
	list, err := s.queryActions(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("action", id)
	}
	return list[0], nil
}

func (s *SQLStore) GetActionByKey(ctx context.Context, key string) (*permit.Action, error) {
	list, err := s.queryActions(ctx, `SELECT `+actionColumns+` FROM actions WHERE key = :key`, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFound("action", key)
	}
	return list[0], nil
}

func (s *SQLStore) ListActions(ctx context.Context) ([]*permit.Action, error) {
	return s.queryActions(ctx, `SELECT `+actionColumns+` FROM actions ORDER BY id`, map[string]any{})
}

func actionArgs(a *permit.Action) map[string]any {
	return map[string]any{
		"id":         nullID(a.ID),
		"key":        a.Key,
		"name":       a.Name,
		"created_at": formatTime(a.CreatedAt),
		"updated_at": formatTime(a.UpdatedAt),
	}
}

func (s *SQLStore) queryActions(ctx context.Context, q string, args map[string]any) ([]*permit.Action, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.Action, 0)
	for rows.Next() {
		var a permit.Action
		var createdRaw, updatedRaw interface{}
		if err := rows.Scan(&a.ID, &a.Key, &a.Name, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		var ts timeScanner
		a.CreatedAt = ts.scan("created_at", createdRaw)
		a.UpdatedAt = ts.scan("updated_at", updatedRaw)
		if ts.err != nil {
			return nil, fmt.Errorf("action %d: %w", a.ID, ts.err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
