package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLGroupMembership implements permit.GroupProvider backed by the
// group_members table.
type SQLGroupMembership struct {
	db *squealx.DB
}

func NewSQLGroupMembership(db *squealx.DB) *SQLGroupMembership {
	return &SQLGroupMembership{db: db}
}

func (s *SQLGroupMembership) AddMember(ctx context.Context, userID, groupID int64) error {
	q := `INSERT OR IGNORE INTO group_members(user_id, group_id) VALUES(:user_id, :group_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "group_id": groupID})
	return err
}

func (s *SQLGroupMembership) RemoveMember(ctx context.Context, userID, groupID int64) error {
	q := `DELETE FROM group_members WHERE user_id = :user_id AND group_id = :group_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "group_id": groupID})
	return err
}

func (s *SQLGroupMembership) ListGroups(ctx context.Context, userID int64) ([]int64, error) {
	out := make([]int64, 0)
	q := `SELECT group_id FROM group_members WHERE user_id = :user_id ORDER BY group_id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g int64
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLGroupMembership) GroupsFor(ctx context.Context, subject *permit.Subject) ([]int64, error) {
	if !subject.Authenticated() {
		return nil, nil
	}
	return s.ListGroups(ctx, subject.ID)
}

var _ permit.GroupProvider = (*SQLGroupMembership)(nil)
