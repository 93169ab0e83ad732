package permit

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAbsentOperandsNeverMatch(t *testing.T) {
	c := NewEvalContext(&Subject{ID: 1}, Attrs{"n": 5}, time.Now(), "", nil)
	for _, op := range []CmpOp{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte} {
		if Evaluate(Cmp(op, Var("obj.missing"), Lit(5)), c) {
			t.Fatalf("%s with absent left operand must be false", op)
		}
		if Evaluate(Cmp(op, Lit(5), Var("ctx.missing")), c) {
			t.Fatalf("%s with absent right operand must be false", op)
		}
	}
	if Evaluate(In(Var("obj.missing"), Lit([]int64{5})), c) {
		t.Fatalf("absent needle must not be a member")
	}
	if !Evaluate(Cmp(OpNe, Var("obj.n"), Lit(6)), c) {
		t.Fatalf("expected 5 != 6")
	}
}

func TestTruthinessAndLogic(t *testing.T) {
	c := NewEvalContext(nil, Attrs{
		"zero":  0,
		"name":  "x",
		"empty": "",
		"tags":  []string{"a"},
		"none":  []string{},
	}, time.Now(), "", nil)
	cases := []struct {
		expr Expr
		want bool
	}{
		{Var("obj.zero"), false},
		{Var("obj.name"), true},
		{Var("obj.empty"), false},
		{Var("obj.tags"), true},
		{Var("obj.none"), false},
		{Var("obj.nothing"), false},
		{Not(Var("obj.nothing")), true},
		{And(), false},
		{Or(), false},
		{And(Lit(true), Var("obj.name")), true},
		{Or(Lit(false), Var("obj.zero"), Var("obj.tags")), true},
		{In(Lit("a"), Var("obj.tags")), true},
		{In(Lit("a"), Var("obj.name")), false},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.expr, c); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.expr, got, tc.want)
		}
	}
	if Evaluate(nil, c) {
		t.Fatalf("nil tree must be false")
	}
}

func TestNestedContextPaths(t *testing.T) {
	c := NewEvalContext(nil, nil, time.Now(), "north", map[string]Value{
		"meta":    map[string]Value{"region": "eu"},
		"org_key": "south",
	})
	if !Evaluate(Eq(Var("ctx.meta.region"), Lit("eu")), c) {
		t.Fatalf("expected nested ctx lookup")
	}
	if !Evaluate(Eq(Var("ctx.org_key"), Lit("north")), c) {
		t.Fatalf("extras must not shadow org_key")
	}
	if Evaluate(Eq(Var("env.region"), Lit("eu")), c) {
		t.Fatalf("unknown namespace must be absent")
	}
}

func TestMalformedTreesEvaluateFalse(t *testing.T) {
	c := NewEvalContext(&Subject{ID: 1}, nil, time.Now(), "", nil)
	for _, raw := range []string{
		`{"op":"xor","args":[{"lit":true},{"lit":true}]}`,
		`{"op":"not","args":[]}`,
		`{"op":"==","args":[{"lit":1}]}`,
		`{"weird":true}`,
		`[1,2,3]`,
		`{"op":"or","args":[{"op":"match","args":[]}]}`,
	} {
		expr, err := UnmarshalExpr([]byte(raw))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if Evaluate(expr, c) {
			t.Fatalf("%s: malformed tree must be false", raw)
		}
	}
	if _, err := UnmarshalExpr([]byte(`{"op":`)); !errors.Is(err, ErrInvalidCondition) {
		t.Fatalf("expected ErrInvalidCondition for broken JSON, got %v", err)
	}
}

func TestDeepTreesAreBounded(t *testing.T) {
	raw := strings.Repeat(`{"op":"not","args":[`, 200) + `{"lit":true}` + strings.Repeat(`]}`, 200)
	expr, err := UnmarshalExpr([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := NewEvalContext(nil, nil, time.Now(), "", nil)
	_ = Evaluate(expr, c)

	var deep Expr = Lit(true)
	for i := 0; i < 500; i++ {
		deep = And(deep)
	}
	if Evaluate(deep, c) {
		t.Fatalf("over-deep tree must evaluate false")
	}
}

func TestExprWireRoundTrip(t *testing.T) {
	expr := Or(
		And(Eq(Var("obj.author_id"), Var("user.id")), Not(Var("obj.locked"))),
		In(Var("obj.journal_id"), Lit([]int64{1, 2})),
		Cmp(OpLte, Add(Mul(Var("now.hour"), Lit(60)), Var("now.minute")), Lit(600)),
	)
	data, err := MarshalExpr(expr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalExpr(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(expr, back) {
		t.Fatalf("round trip changed tree: %s vs %s", expr, back)
	}
}
