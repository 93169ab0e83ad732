package permit

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// DECISION AUDIT
// ============================================================================

// AuditStore manages decision logs
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry is one recorded decision.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SubjectID int64     `json:"subject_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	OrgKey    string    `json:"org_key,omitempty"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by,omitempty"`
	Trace     []string  `json:"trace,omitempty"`
}

// AuditFilter for querying decision logs. Zero fields do not filter.
type AuditFilter struct {
	SubjectID int64
	Resource  string
	Action    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Match reports whether entry passes every set field except Limit.
func (f AuditFilter) Match(entry *AuditEntry) bool {
	if f.SubjectID != 0 && entry.SubjectID != f.SubjectID {
		return false
	}
	if f.Resource != "" && entry.Resource != f.Resource {
		return false
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && entry.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && entry.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

type MemoryAuditStore struct {
	mu      sync.RWMutex
	seq     int64
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) LogDecision(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	dup := *entry
	dup.ID = s.seq
	entry.ID = dup.ID
	s.entries = append(s.entries, &dup)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if !filter.Match(entry) {
			continue
		}
		dup := *entry
		result = append(result, &dup)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// auditQueueSize bounds the number of decisions waiting to be written.
const auditQueueSize = 1024

// WithAuditStore records every decision in store. Entries are written by a
// background worker; when the queue is full the entry is dropped and a
// warning is logged, so decisions never wait on the audit store.
func WithAuditStore(store AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = store
		return nil
	}
}

func (e *Engine) startAudit() {
	if e.auditStore == nil {
		return
	}
	e.auditCh = make(chan AuditEntry, auditQueueSize)
	e.auditDone = make(chan struct{})
	go func() {
		defer close(e.auditDone)
		bg := context.Background()
		for entry := range e.auditCh {
			if err := e.auditStore.LogDecision(bg, &entry); err != nil {
				e.logger.Warn("permit audit write failed", "err", err, "subject", entry.SubjectID)
			}
		}
	}()
}

func (e *Engine) audit(subject *Subject, action, resource, orgKey string, d *Decision) {
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		Timestamp: d.Timestamp,
		Action:    action,
		Resource:  resource,
		OrgKey:    orgKey,
		Allowed:   d.Allowed,
		Reason:    d.Reason,
		MatchedBy: d.MatchedBy,
		Trace:     d.Trace,
	}
	if subject != nil {
		entry.SubjectID = subject.ID
	}
	e.auditMu.RLock()
	defer e.auditMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Warn("permit audit queue full, dropping entry", "subject", entry.SubjectID, "action", action, "resource", resource)
	}
}

// AccessLog queries the configured audit store. Without one it returns
// nothing.
func (e *Engine) AccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.auditStore == nil {
		return nil, nil
	}
	return e.auditStore.GetAccessLog(ctx, filter)
}

// Close flushes pending audit entries and releases the default cache.
// Decisions made after Close are no longer audited.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			e.auditMu.Lock()
			e.closed = true
			close(e.auditCh)
			e.auditMu.Unlock()
			<-e.auditDone
		}
		if e.ownsCache {
			if c, ok := e.cache.(*CompiledCache); ok {
				c.Close()
			}
		}
	})
}
