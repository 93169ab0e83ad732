package permit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSuperuserAllowsEverything(t *testing.T) {
	f := newFixture(t)
	root := &Subject{ID: 1, IsSuperuser: true}
	for _, pair := range [][2]string{{"view", "doc"}, {"delete", "nothing.here"}, {"list", "compose.journal"}} {
		if !f.engine.Can(f.ctx, root, pair[0], pair[1]) {
			t.Fatalf("expected superuser allow for %v", pair)
		}
	}
}

func TestNoGrantsDenies(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	d := f.engine.Decide(f.ctx, &Subject{ID: 42}, "view", "doc")
	if d.Allowed || d.Reason != ReasonNoGrants {
		t.Fatalf("expected deny with no grants, got %+v", d)
	}
}

func TestUnauthenticatedDenies(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.assign(t, "R", 5)
	if f.engine.Can(f.ctx, nil, "view", "doc") {
		t.Fatalf("nil subject must be denied")
	}
	if f.engine.Can(f.ctx, &Subject{ID: 0, IsSuperuser: true}, "view", "doc") {
		t.Fatalf("anonymous subject must be denied even if flagged superuser")
	}
}

func TestDenyOverridesAllowRegardlessOfOrder(t *testing.T) {
	for _, denyFirst := range []bool{true, false} {
		f := newFixture(t)
		if denyFirst {
			f.policy(t, "S", "doc", "view", EffectDeny, CondNone, ConditionParams{}, -5)
			f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 10)
			f.assign(t, "S", 5)
			f.assign(t, "R", 5)
		} else {
			f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 10)
			f.policy(t, "R", "doc", "view", EffectAllow, CondOwnAuthor, ConditionParams{}, 3)
			f.policy(t, "S", "doc", "view", EffectDeny, CondNone, ConditionParams{}, -5)
			f.assign(t, "R", 5)
			f.assign(t, "S", 5)
		}
		d := f.engine.Decide(f.ctx, &Subject{ID: 5}, "view", "doc", WithObject(Attrs{"author_id": 5}))
		if d.Allowed || d.Reason != ReasonDenied {
			t.Fatalf("denyFirst=%v: expected deny, got %+v", denyFirst, d)
		}
	}
}

func TestDenyOnOwnDepartmentScenario(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.policy(t, "R", "doc", "view", EffectDeny, CondOwnDepartment, ConditionParams{Departments: []int64{7}}, 1)
	f.assign(t, "R", 11)
	subject := &Subject{ID: 11, DepartmentID: 7, IsActive: true}

	if f.engine.Can(f.ctx, subject, "view", "doc", WithObject(Attrs{"department_id": 7})) {
		t.Fatalf("expected deny for an object of the subject's own department")
	}
	if !f.engine.Can(f.ctx, subject, "view", "doc", WithObject(Attrs{"department_id": 9})) {
		t.Fatalf("expected allow for an object of another department")
	}
}

func TestExpiredAssignmentGrantsNothing(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	as := &RoleAssignment{
		RoleID:   f.roleID(t, "R"),
		UserID:   3,
		Enabled:  true,
		Validity: Validity{Until: f.clock.Now().Add(-time.Hour)},
	}
	if err := f.admin.CreateAssignment(f.ctx, as); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if f.engine.Can(f.ctx, &Subject{ID: 3}, "view", "doc") {
		t.Fatalf("expired assignment must not grant")
	}

	future := &RoleAssignment{
		RoleID:   f.roleID(t, "S"),
		UserID:   3,
		Enabled:  true,
		Validity: Validity{From: f.clock.Now().Add(time.Hour)},
	}
	f.policy(t, "S", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	if err := f.admin.CreateAssignment(f.ctx, future); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if f.engine.Can(f.ctx, &Subject{ID: 3}, "view", "doc") {
		t.Fatalf("not yet valid assignment must not grant")
	}
	f.clock.Advance(2 * time.Hour)
	if !f.engine.Can(f.ctx, &Subject{ID: 3}, "view", "doc") {
		t.Fatalf("assignment should be active once its window opens")
	}
}

func TestWindowsClosingUnderWarmIndex(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	short := &RoleAssignment{RoleID: f.roleID(t, "R"), UserID: 3, Enabled: true, Validity: Validity{Until: now.Add(time.Minute)}}
	if err := f.admin.CreateAssignment(f.ctx, short); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	p := f.newPolicy(t, "S", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	p.Validity = Validity{Until: now.Add(3 * time.Minute)}
	if err := f.admin.CreatePolicy(f.ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	f.assign(t, "S", 4)

	if !f.engine.Can(f.ctx, &Subject{ID: 3}, "view", "doc") || !f.engine.Can(f.ctx, &Subject{ID: 4}, "view", "doc") {
		t.Fatalf("expected both grants while their windows are open")
	}
	f.clock.Advance(2 * time.Minute)
	if f.engine.Can(f.ctx, &Subject{ID: 3}, "view", "doc") {
		t.Fatalf("assignment expired a minute ago but still grants")
	}
	if !f.engine.Can(f.ctx, &Subject{ID: 4}, "view", "doc") {
		t.Fatalf("policy window is still open")
	}
	f.clock.Advance(2 * time.Minute)
	if f.engine.Can(f.ctx, &Subject{ID: 4}, "view", "doc") {
		t.Fatalf("expired policy still grants")
	}
}

func TestMutationsAreVisibleImmediately(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	as := f.assign(t, "R", 8)
	u := &Subject{ID: 8}
	if !f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("expected allow")
	}

	deny := f.policy(t, "R", "doc", "view", EffectDeny, CondNone, ConditionParams{}, 1)
	if f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("new deny must be visible on the very next call")
	}

	if err := f.admin.SetPolicyEnabled(f.ctx, deny.ID, false); err != nil {
		t.Fatalf("disable policy: %v", err)
	}
	if !f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("disabled deny must stop applying")
	}

	if err := f.admin.DeleteAssignment(f.ctx, as.ID); err != nil {
		t.Fatalf("delete assignment: %v", err)
	}
	if f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("revoked assignment must stop granting")
	}
}

func TestOrgKeyRule(t *testing.T) {
	f := newFixture(t)
	p := f.newPolicy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	p.OrgKey = "north"
	if err := f.admin.CreatePolicy(f.ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	cases := []struct {
		user int64
		org  string
		want bool
	}{
		{1, "south", false},
		{2, "north", true},
		{3, "", true},
	}
	for _, c := range cases {
		as := &RoleAssignment{RoleID: f.roleID(t, "R"), UserID: c.user, OrgKey: c.org, Enabled: true}
		if err := f.admin.CreateAssignment(f.ctx, as); err != nil {
			t.Fatalf("create assignment: %v", err)
		}
		if got := f.engine.Can(f.ctx, &Subject{ID: c.user}, "view", "doc"); got != c.want {
			t.Fatalf("assignment org %q: got %v want %v", c.org, got, c.want)
		}
	}
}

func TestAssignmentScopeUsesCallerOrg(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "update", EffectAllow, CondAssignmentScope, ConditionParams{}, 0)
	f.assign(t, "R", 4)
	u := &Subject{ID: 4}
	obj := Attrs{"org_key": "north"}
	if !f.engine.Can(f.ctx, u, "update", "doc", WithObject(obj), WithOrgKey("north")) {
		t.Fatalf("expected allow inside the caller's org")
	}
	if f.engine.Can(f.ctx, u, "update", "doc", WithObject(obj), WithOrgKey("south")) {
		t.Fatalf("expected deny outside the caller's org")
	}
	if f.engine.Can(f.ctx, u, "update", "doc", WithObject(obj), WithExtra(map[string]Value{"org_key": "north"})) {
		t.Fatalf("extras must not supply the org key")
	}
}

func TestGroupGrants(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	as := &RoleAssignment{RoleID: f.roleID(t, "R"), GroupID: 77, Enabled: true}
	if err := f.admin.CreateAssignment(f.ctx, as); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if !f.engine.Can(f.ctx, &Subject{ID: 9, Groups: []int64{76, 77}}, "view", "doc") {
		t.Fatalf("expected allow through declared group")
	}
	if f.engine.Can(f.ctx, &Subject{ID: 9}, "view", "doc") {
		t.Fatalf("expected deny without the group")
	}
}

func TestGroupProvider(t *testing.T) {
	var fail bool
	provider := groupProviderFunc(func(ctx context.Context, s *Subject) ([]int64, error) {
		if fail {
			return nil, errors.New("directory down")
		}
		return []int64{77}, nil
	})
	f := newFixture(t, WithGroupProvider(provider))
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	if err := f.admin.CreateAssignment(f.ctx, &RoleAssignment{RoleID: f.roleID(t, "R"), GroupID: 77, Enabled: true}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if !f.engine.Can(f.ctx, &Subject{ID: 9}, "view", "doc") {
		t.Fatalf("expected allow through provided group")
	}
	fail = true
	d := f.engine.Decide(f.ctx, &Subject{ID: 9}, "view", "doc")
	if d.Allowed || d.Reason != ReasonGroupLookup {
		t.Fatalf("expected fail-closed deny, got %+v", d)
	}
}

func TestStoreFailureFailsClosed(t *testing.T) {
	fs := &failingStore{MemoryStore: NewMemoryStore()}
	f := newFixtureWithStore(t, fs)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.assign(t, "R", 2)
	fs.fail.Store(true)
	f.engine.Invalidate()
	d := f.engine.Decide(f.ctx, &Subject{ID: 2}, "view", "doc")
	if d.Allowed || d.Reason != ReasonUnavailable {
		t.Fatalf("expected deny on store failure, got %+v", d)
	}
	fs.fail.Store(false)
	if !f.engine.Can(f.ctx, &Subject{ID: 2}, "view", "doc") {
		t.Fatalf("expected recovery once the store is back")
	}
}

func TestInactiveRoleAndDisabledPolicy(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	off := f.newPolicy(t, "R", "doc", "list", EffectAllow, CondNone, ConditionParams{}, 0)
	off.Enabled = false
	if err := f.admin.CreatePolicy(f.ctx, off); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	f.assign(t, "R", 6)
	u := &Subject{ID: 6}
	if f.engine.Can(f.ctx, u, "list", "doc") {
		t.Fatalf("disabled policy must not grant")
	}
	role, _ := f.store.GetRole(f.ctx, f.roleID(t, "R"))
	role.IsActive = false
	if err := f.admin.UpdateRole(f.ctx, role); err != nil {
		t.Fatalf("deactivate role: %v", err)
	}
	if f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("inactive role must not grant")
	}
}

func TestUnknownPermissionDenies(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.assign(t, "R", 6)
	if f.engine.Can(f.ctx, &Subject{ID: 6}, "view", "missing") {
		t.Fatalf("unknown resource must deny")
	}
	if f.engine.Can(f.ctx, &Subject{ID: 6}, "destroy", "doc") {
		t.Fatalf("unknown action must deny")
	}
}

func TestAdvancedConditionDegradesToFalse(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondAdvanced, ConditionParams{Tree: []byte(`{"op":"regex","args":[]}`)}, 0)
	f.policy(t, "R", "doc", "update", EffectAllow, CondAdvanced,
		ConditionParams{Tree: []byte(`{"op":"and","args":[{"op":"==","args":[{"var":"obj.status"},{"lit":"draft"}]},{"op":">=","args":[{"var":"ctx.level"},{"lit":2}]}]}`)}, 0)
	f.assign(t, "R", 6)
	u := &Subject{ID: 6}
	if f.engine.Can(f.ctx, u, "view", "doc") {
		t.Fatalf("unknown operator must never match")
	}
	ok := f.engine.Can(f.ctx, u, "update", "doc", WithObject(Attrs{"status": "draft"}), WithExtra(map[string]Value{"level": 3}))
	if !ok {
		t.Fatalf("expected advanced tree to match")
	}
}

func TestExplainTrace(t *testing.T) {
	f := newFixture(t)
	p := f.policy(t, "R", "doc", "view", EffectAllow, CondOwnAuthor, ConditionParams{}, 0)
	f.assign(t, "R", 6)
	d := f.engine.Explain(f.ctx, &Subject{ID: 6}, "view", "doc", WithObject(Attrs{"author_id": 6}))
	if !d.Allowed || d.MatchedBy != policyRef(p.ID) {
		t.Fatalf("unexpected decision %+v", d)
	}
	joined := strings.Join(d.Trace, "\n")
	if !strings.Contains(joined, "obj.author_id") || !strings.Contains(joined, "ALLOW") {
		t.Fatalf("trace lacks detail: %s", joined)
	}
	if plain := f.engine.Decide(f.ctx, &Subject{ID: 6}, "view", "doc"); len(plain.Trace) != 0 {
		t.Fatalf("Decide must not trace")
	}
}

func TestBatchDecide(t *testing.T) {
	f := newFixture(t)
	f.policy(t, "R", "doc", "view", EffectAllow, CondNone, ConditionParams{}, 0)
	f.assign(t, "R", 6)
	out := f.engine.BatchDecide(f.ctx, []CheckRequest{
		{Subject: &Subject{ID: 6}, Action: "view", Resource: "doc"},
		{Subject: &Subject{ID: 6}, Action: "list", Resource: "doc"},
		{Subject: nil, Action: "view", Resource: "doc"},
	})
	if len(out) != 3 || !out[0].Allowed || out[1].Allowed || out[2].Allowed {
		t.Fatalf("unexpected batch result %+v %+v %+v", out[0], out[1], out[2])
	}
}
