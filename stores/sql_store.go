package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLStore persists every permit entity in SQL (squealx). Run Migrate on
// the database first.
type SQLStore struct {
	db    *squealx.DB
	clock func() time.Time
}

type SQLStoreOption func(*SQLStore)

// WithSQLClock sets the clock used for history snapshots.
func WithSQLClock(now func() time.Time) SQLStoreOption {
	return func(s *SQLStore) { s.clock = now }
}

func NewSQLStore(db *squealx.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *squealx.DB { return s.db }

func (s *SQLStore) insert(ctx context.Context, q string, args map[string]any) (int64, error) {
	res, err := s.db.NamedExecContext(ctx, q, args)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// exec runs a write addressed to one row and reports ErrNotFound when no
// row matched.
func (s *SQLStore) exec(ctx context.Context, what string, id int64, q string, args map[string]any) error {
	res, err := s.db.NamedExecContext(ctx, q, args)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

func (s *SQLStore) deleteByID(ctx context.Context, table, what string, id int64) error {
	return s.exec(ctx, what, id, `DELETE FROM `+table+` WHERE id = :id`, map[string]any{"id": id})
}

var _ permit.Store = (*SQLStore)(nil)
