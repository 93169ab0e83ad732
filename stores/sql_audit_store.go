package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLAuditStore persists decision logs in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *permit.AuditEntry) error {
	traceB, _ := json.Marshal(entry.Trace)
	q := `INSERT INTO audit_log(timestamp, subject_id, action, resource, org_key, allowed, matched_by, reason, trace_json) VALUES(:timestamp, :subject_id, :action, :resource, :org_key, :allowed, :matched_by, :reason, :trace_json)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"timestamp":  formatTime(entry.Timestamp),
		"subject_id": entry.SubjectID,
		"action":     entry.Action,
		"resource":   entry.Resource,
		"org_key":    entry.OrgKey,
		"allowed":    boolToInt(entry.Allowed),
		"matched_by": entry.MatchedBy,
		"reason":     entry.Reason,
		"trace_json": string(traceB),
	})
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter permit.AuditFilter) ([]*permit.AuditEntry, error) {
	q := `SELECT id, timestamp, subject_id, action, resource, org_key, allowed, matched_by, reason, trace_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != 0 {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	q += " ORDER BY id"
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	rows, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*permit.AuditEntry, 0)
	for rows.Next() {
		var entry permit.AuditEntry
		var timestampRaw interface{}
		var allowed int
		var traceJSON string
		if err := rows.Scan(&entry.ID, &timestampRaw, &entry.SubjectID, &entry.Action, &entry.Resource, &entry.OrgKey,
			&allowed, &entry.MatchedBy, &entry.Reason, &traceJSON); err != nil {
			return nil, err
		}
		ts, err := scanTime(timestampRaw)
		if err != nil {
			return nil, fmt.Errorf("audit entry %d: timestamp: %w", entry.ID, err)
		}
		entry.Timestamp = ts
		entry.Allowed = allowed != 0
		if traceJSON != "" {
			if err := json.Unmarshal([]byte(traceJSON), &entry.Trace); err != nil {
				return nil, fmt.Errorf("audit entry %d: trace: %w", entry.ID, err)
			}
		}
		// time bounds are applied after parsing since rows may carry any layout
		if !filter.Match(&entry) {
			continue
		}
		out = append(out, &entry)
		if len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

var _ permit.AuditStore = (*SQLAuditStore)(nil)
