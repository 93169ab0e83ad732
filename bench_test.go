package permit

import (
	"context"
	"testing"
)

func benchFixture(b *testing.B) (*Engine, *Subject) {
	b.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	eng, err := NewEngine(store)
	if err != nil {
		b.Fatalf("new engine: %v", err)
	}
	admin, _ := NewAdmin(store, WithListener(eng))
	if _, err := Seed(ctx, admin, DefaultBaseline()); err != nil {
		b.Fatalf("seed: %v", err)
	}
	role, _ := store.GetRoleByName(ctx, "employee")
	res, _ := store.GetResourceByKey(ctx, "compose.document")
	act, _ := store.GetActionByKey(ctx, "view")
	for i, kind := range []ConditionKind{CondOwnAuthor, CondSpecificDepartments, CondOwnDepartment} {
		p := &Policy{RoleID: role.ID, ResourceID: res.ID, ActionID: act.ID, Effect: EffectAllow, Condition: kind,
			Params: ConditionParams{Departments: []int64{1, 2, 3, 4}}, Priority: i, Enabled: true}
		if err := admin.CreatePolicy(ctx, p); err != nil {
			b.Fatalf("policy: %v", err)
		}
	}
	if err := admin.CreateAssignment(ctx, &RoleAssignment{RoleID: role.ID, UserID: 1, Enabled: true}); err != nil {
		b.Fatalf("assign: %v", err)
	}
	return eng, &Subject{ID: 1, DepartmentID: 9}
}

func BenchmarkCan(b *testing.B) {
	eng, u := benchFixture(b)
	defer eng.Close()
	ctx := context.Background()
	obj := Attrs{"department_id": int64(3), "author_id": int64(2)}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !eng.Can(ctx, u, "view", "compose.document", WithObject(obj)) {
			b.Fatal("expected allow")
		}
	}
}

func BenchmarkCanParallel(b *testing.B) {
	eng, u := benchFixture(b)
	defer eng.Close()
	ctx := context.Background()
	obj := Attrs{"department_id": int64(7), "author_id": int64(1)}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			eng.Can(ctx, u, "view", "compose.document", WithObject(obj))
		}
	})
}

func BenchmarkIndexBuild(b *testing.B) {
	eng, _ := benchFixture(b)
	defer eng.Close()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := BuildIndex(ctx, eng.store, eng.clock()); err != nil {
			b.Fatal(err)
		}
	}
}
