package permit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore can make index builds fail after setup.
type failingStore struct {
	*MemoryStore
	fail atomic.Bool
}

func (s *failingStore) ListPolicies(ctx context.Context) ([]*Policy, error) {
	if s.fail.Load() {
		return nil, errors.New("store down")
	}
	return s.MemoryStore.ListPolicies(ctx)
}

type groupProviderFunc func(ctx context.Context, s *Subject) ([]int64, error)

func (f groupProviderFunc) GroupsFor(ctx context.Context, s *Subject) ([]int64, error) {
	return f(ctx, s)
}

type fixture struct {
	ctx    context.Context
	store  Store
	admin  *Admin
	engine *Engine
	clock  *fakeClock
}

func testBaseline() Baseline {
	return Baseline{
		Resources: []ResourceSpec{{Key: "doc"}, {Key: "compose"}, {Key: "compose.journal", Parent: "compose"}},
		Actions:   []ActionSpec{{Key: "view"}, {Key: "list"}, {Key: "update"}},
		Roles:     []RoleSpec{{Name: "R"}, {Name: "S"}, {Name: "ops", System: true}},
	}
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	return newFixtureWithStore(t, NewMemoryStore(), opts...)
}

func newFixtureWithStore(t *testing.T, store Store, opts ...EngineOption) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	eng, err := NewEngine(store, append([]EngineOption{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	admin, err := NewAdmin(store, WithListener(eng), WithAdminClock(clock.Now))
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	if _, err := Seed(ctx, admin, testBaseline()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{ctx: ctx, store: store, admin: admin, engine: eng, clock: clock}
}

func (f *fixture) roleID(t *testing.T, name string) int64 {
	t.Helper()
	r, err := f.store.GetRoleByName(f.ctx, name)
	if err != nil {
		t.Fatalf("role %s: %v", name, err)
	}
	return r.ID
}

func (f *fixture) resourceID(t *testing.T, key string) int64 {
	t.Helper()
	r, err := f.store.GetResourceByKey(f.ctx, key)
	if err != nil {
		t.Fatalf("resource %s: %v", key, err)
	}
	return r.ID
}

func (f *fixture) actionID(t *testing.T, key string) int64 {
	t.Helper()
	a, err := f.store.GetActionByKey(f.ctx, key)
	if err != nil {
		t.Fatalf("action %s: %v", key, err)
	}
	return a.ID
}

func (f *fixture) newPolicy(t *testing.T, role, resource, action string, effect Effect, kind ConditionKind, params ConditionParams, priority int) *Policy {
	t.Helper()
	return &Policy{
		RoleID:     f.roleID(t, role),
		ResourceID: f.resourceID(t, resource),
		ActionID:   f.actionID(t, action),
		Effect:     effect,
		Condition:  kind,
		Params:     params,
		Priority:   priority,
		Enabled:    true,
	}
}

func (f *fixture) policy(t *testing.T, role, resource, action string, effect Effect, kind ConditionKind, params ConditionParams, priority int) *Policy {
	t.Helper()
	p := f.newPolicy(t, role, resource, action, effect, kind, params, priority)
	if err := f.admin.CreatePolicy(f.ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	return p
}

func (f *fixture) assign(t *testing.T, role string, userID int64) *RoleAssignment {
	t.Helper()
	as := &RoleAssignment{RoleID: f.roleID(t, role), UserID: userID, Enabled: true}
	if err := f.admin.CreateAssignment(f.ctx, as); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return as
}
