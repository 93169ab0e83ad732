package permit

import (
	"context"
	"sync"
	"testing"
)

func TestDecisionsAreAudited(t *testing.T) {
	audit := NewMemoryAuditStore()
	f := newFixture(t, WithAuditStore(audit))
	p := f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.assign(t, "R", 4)

	f.engine.Can(f.ctx, &Subject{ID: 4}, "view", "doc", WithOrgKey("north"))
	f.engine.Can(f.ctx, &Subject{ID: 4}, "update", "doc")
	f.engine.Can(f.ctx, &Subject{ID: 6}, "view", "doc")
	f.engine.Close()

	all, err := audit.GetAccessLog(f.ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	first := all[0]
	if !first.Allowed || first.MatchedBy != policyRef(p.ID) || first.OrgKey != "north" || first.SubjectID != 4 {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if !first.Timestamp.Equal(f.clock.Now()) {
		t.Fatalf("expected decision timestamp, got %v", first.Timestamp)
	}

	mine, _ := audit.GetAccessLog(f.ctx, AuditFilter{SubjectID: 4, Action: "update"})
	if len(mine) != 1 || mine[0].Allowed || mine[0].Reason != ReasonNoMatch {
		t.Fatalf("unexpected filtered entries %+v", mine)
	}
	limited, _ := audit.GetAccessLog(f.ctx, AuditFilter{Resource: "doc", Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestAccessLogWithoutStore(t *testing.T) {
	f := newFixture(t)
	f.engine.Can(f.ctx, &Subject{ID: 4}, "view", "doc")
	entries, err := f.engine.AccessLog(f.ctx, AuditFilter{})
	if err != nil || entries != nil {
		t.Fatalf("expected no audit without a store, got %v %v", entries, err)
	}
	f.engine.Close()
	f.engine.Close()
}

func TestDecisionsAfterCloseAreNotAudited(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache, err := NewCompiledCache(store)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()
	audit := NewMemoryAuditStore()
	eng, err := NewEngine(store, WithCache(cache), WithAuditStore(audit))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	admin := &Subject{ID: 1, IsSuperuser: true}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				eng.Can(ctx, admin, "view", "doc")
			}
		}()
	}
	eng.Close()
	wg.Wait()

	before, _ := audit.GetAccessLog(ctx, AuditFilter{})
	if !eng.Can(ctx, admin, "view", "doc") {
		t.Fatalf("superuser must still be allowed after close")
	}
	after, _ := audit.GetAccessLog(ctx, AuditFilter{})
	if len(after) != len(before) {
		t.Fatalf("decision after close was audited: %d -> %d", len(before), len(after))
	}
}
