package permit

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"
)

func evalAt(t *testing.T, expr Expr, subject *Subject, obj ContextObject, now time.Time, orgKey string) bool {
	t.Helper()
	return Evaluate(expr, NewEvalContext(subject, obj, now, orgKey, nil))
}

func TestCompileConditionIsDeterministic(t *testing.T) {
	cases := []struct {
		kind   ConditionKind
		params ConditionParams
	}{
		{CondNone, ConditionParams{}},
		{CondOwnDepartment, ConditionParams{}},
		{CondAssignmentScope, ConditionParams{}},
		{CondSpecificDepartments, ConditionParams{Departments: []int64{9, 3, 9, 1}}},
		{CondOwnObject, ConditionParams{Field: "owner_id"}},
		{CondOwnAuthor, ConditionParams{}},
		{CondOwnCurator, ConditionParams{}},
		{CondSpecificJournals, ConditionParams{Journals: []int64{4}}},
		{CondSpecificDocTypes, ConditionParams{DocTypes: []int64{2, 1}}},
		{CondSpecificDocSubtypes, ConditionParams{DocSubtypes: []int64{7}}},
		{CondTimeWindow, ConditionParams{Start: "09:00", End: "17:30"}},
		{CondAdvanced, ConditionParams{Tree: []byte(`{"op":"==","args":[{"var":"obj.status"},{"lit":"draft"}]}`)}},
	}
	for _, tc := range cases {
		a, err := CompileCondition(tc.kind, tc.params)
		if err != nil {
			t.Fatalf("%s: compile: %v", tc.kind, err)
		}
		b, err := CompileCondition(tc.kind, tc.params)
		if err != nil {
			t.Fatalf("%s: second compile: %v", tc.kind, err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: trees differ: %s vs %s", tc.kind, a, b)
		}
		ja, _ := MarshalExpr(a)
		jb, _ := MarshalExpr(b)
		if !bytes.Equal(ja, jb) {
			t.Fatalf("%s: wire forms differ: %s vs %s", tc.kind, ja, jb)
		}
	}
}

func TestCompileConditionCanonicalisesIDs(t *testing.T) {
	a, _ := CompileCondition(CondSpecificDepartments, ConditionParams{Departments: []int64{3, 1, 3}})
	b, _ := CompileCondition(CondSpecificDepartments, ConditionParams{Departments: []int64{1, 3}})
	if a.String() != b.String() {
		t.Fatalf("expected equal trees, got %s and %s", a, b)
	}
	if a.String() != "(obj.department_id in [1, 3])" {
		t.Fatalf("unexpected tree %s", a)
	}
}

func TestCompileConditionRejectsMissingParams(t *testing.T) {
	cases := []struct {
		kind   ConditionKind
		params ConditionParams
	}{
		{CondSpecificDepartments, ConditionParams{}},
		{CondSpecificJournals, ConditionParams{Journals: []int64{}}},
		{CondSpecificDocTypes, ConditionParams{}},
		{CondSpecificDocSubtypes, ConditionParams{}},
		{CondOwnObject, ConditionParams{}},
		{CondOwnObject, ConditionParams{Field: "owner id"}},
		{CondTimeWindow, ConditionParams{Start: "09:00"}},
		{CondTimeWindow, ConditionParams{Start: "25:00", End: "10:00"}},
		{CondAdvanced, ConditionParams{}},
		{CondAdvanced, ConditionParams{Tree: []byte(`{"op":`)}},
		{CondAdvanced, ConditionParams{Tree: []byte(`null`)}},
		{ConditionKind("whatever"), ConditionParams{}},
	}
	for _, tc := range cases {
		if _, err := CompileCondition(tc.kind, tc.params); !errors.Is(err, ErrInvalidCondition) {
			t.Fatalf("%s %+v: expected ErrInvalidCondition, got %v", tc.kind, tc.params, err)
		}
	}
}

func TestCompiledPresetsEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	alice := &Subject{ID: 7, Username: "alice", DepartmentID: 3, IsActive: true}

	own, _ := CompileCondition(CondOwnAuthor, ConditionParams{})
	if !evalAt(t, own, alice, Attrs{"author_id": 7}, now, "") {
		t.Fatalf("expected author match")
	}
	if evalAt(t, own, alice, Attrs{"author_id": 8}, now, "") {
		t.Fatalf("expected author mismatch")
	}
	if evalAt(t, own, alice, nil, now, "") {
		t.Fatalf("expected false without object")
	}

	dept, _ := CompileCondition(CondOwnDepartment, ConditionParams{})
	if !evalAt(t, dept, alice, Attrs{"department_id": int32(3)}, now, "") {
		t.Fatalf("expected department match across int widths")
	}
	if evalAt(t, dept, &Subject{ID: 8}, Attrs{"department_id": 0}, now, "") {
		t.Fatalf("subject without department must not match")
	}

	field, _ := CompileCondition(CondOwnObject, ConditionParams{Field: "reviewer_id"})
	if !evalAt(t, field, alice, Attrs{"reviewer_id": 7.0}, now, "") {
		t.Fatalf("expected own_object match on float id")
	}

	scope, _ := CompileCondition(CondAssignmentScope, ConditionParams{})
	if !evalAt(t, scope, alice, Attrs{"org_key": "north"}, now, "north") {
		t.Fatalf("expected org match")
	}
	if evalAt(t, scope, alice, Attrs{"org_key": ""}, now, "") {
		t.Fatalf("blank org scope must not match")
	}

	types, _ := CompileCondition(CondSpecificDocTypes, ConditionParams{DocTypes: []int64{5, 6}})
	if !evalAt(t, types, alice, Attrs{"doc_type_id": 6}, now, "") {
		t.Fatalf("expected doc type membership")
	}
	if evalAt(t, types, alice, Attrs{"doc_type_id": "6"}, now, "") {
		t.Fatalf("string id must not equal numeric id")
	}
}

func TestTimeWindow(t *testing.T) {
	day, _ := CompileCondition(CondTimeWindow, ConditionParams{Start: "09:00", End: "17:00"})
	night, _ := CompileCondition(CondTimeWindow, ConditionParams{Start: "22:00", End: "06:00"})
	u := &Subject{ID: 1}
	at := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }

	checks := []struct {
		expr Expr
		now  time.Time
		want bool
	}{
		{day, at(9, 0), true},
		{day, at(17, 0), true},
		{day, at(17, 1), false},
		{day, at(8, 59), false},
		{night, at(23, 15), true},
		{night, at(5, 59), true},
		{night, at(12, 0), false},
	}
	for _, c := range checks {
		if got := evalAt(t, c.expr, u, nil, c.now, ""); got != c.want {
			t.Fatalf("%s at %s: got %v want %v", c.expr, c.now.Format("15:04"), got, c.want)
		}
	}
	if !inTimeWindow(ConditionParams{Start: "22:00", End: "06:00"}, at(1, 0)) {
		t.Fatalf("expected wrap-around window to contain 01:00")
	}
}
