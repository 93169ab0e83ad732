package permit

import (
	"fmt"
	"strings"
)

// ============================================================================
// EXPRESSION LANGUAGE (compiled conditions)
// ============================================================================

// Expr is a node of a compiled condition tree. The set of node types is
// closed: VarExpr, LitExpr, AndExpr, OrExpr, NotExpr, CmpExpr, InExpr,
// ArithExpr and InvalidExpr.
type Expr interface {
	String() string
	eval(c *EvalContext, depth int) Value
}

// maxEvalDepth bounds recursion for administrator-authored trees.
const maxEvalDepth = 64

// CmpOp is a comparison operator.
type CmpOp string

const (
	OpEq  CmpOp = "=="
	OpNe  CmpOp = "!="
	OpGt  CmpOp = ">"
	OpGte CmpOp = ">="
	OpLt  CmpOp = "<"
	OpLte CmpOp = "<="
)

func (op CmpOp) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// ArithOp is an arithmetic operator.
type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpMul ArithOp = "*"
)

// VarExpr resolves a dotted path such as "obj.author_id".
type VarExpr struct {
	Path string
}

func (e *VarExpr) eval(c *EvalContext, _ int) Value {
	v, ok := c.Lookup(e.Path)
	if !ok {
		return absent
	}
	return v
}

func (e *VarExpr) String() string { return e.Path }

// LitExpr is a constant scalar or list.
type LitExpr struct {
	Value Value
}

func (e *LitExpr) eval(_ *EvalContext, _ int) Value { return e.Value }

func (e *LitExpr) String() string {
	switch v := e.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case []Value:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = (&LitExpr{Value: v[i]}).String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(e.Value)
}

// AndExpr is true when every operand is truthy. An AndExpr without operands
// is malformed and evaluates to false.
type AndExpr struct {
	Args []Expr
}

func (e *AndExpr) eval(c *EvalContext, depth int) Value {
	if len(e.Args) == 0 || depth > maxEvalDepth {
		return false
	}
	for _, a := range e.Args {
		if a == nil || !truthy(a.eval(c, depth+1)) {
			return false
		}
	}
	return true
}

func (e *AndExpr) String() string { return joinExprs(e.Args, " and ") }

// OrExpr is true when any operand is truthy.
type OrExpr struct {
	Args []Expr
}

func (e *OrExpr) eval(c *EvalContext, depth int) Value {
	if depth > maxEvalDepth {
		return false
	}
	for _, a := range e.Args {
		if a != nil && truthy(a.eval(c, depth+1)) {
			return true
		}
	}
	return false
}

func (e *OrExpr) String() string { return joinExprs(e.Args, " or ") }

// NotExpr negates the truthiness of its operand.
type NotExpr struct {
	Arg Expr
}

func (e *NotExpr) eval(c *EvalContext, depth int) Value {
	if e.Arg == nil || depth > maxEvalDepth {
		return false
	}
	return !truthy(e.Arg.eval(c, depth+1))
}

func (e *NotExpr) String() string {
	if e.Arg == nil {
		return "not(?)"
	}
	return "not " + e.Arg.String()
}

// CmpExpr compares two operands. Any comparison involving an absent operand
// is false, whatever the operator.
type CmpExpr struct {
	Op    CmpOp
	Left  Expr
	Right Expr
}

func (e *CmpExpr) eval(c *EvalContext, depth int) Value {
	if e.Left == nil || e.Right == nil || depth > maxEvalDepth {
		return false
	}
	l := e.Left.eval(c, depth+1)
	r := e.Right.eval(c, depth+1)
	if isAbsent(l) || isAbsent(r) {
		return false
	}
	switch e.Op {
	case OpEq:
		return equalValues(l, r)
	case OpNe:
		return !equalValues(l, r)
	}
	cmp, ok := compareValues(l, r)
	if !ok {
		return false
	}
	switch e.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func (e *CmpExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", exprString(e.Left), e.Op, exprString(e.Right))
}

// InExpr tests list membership of Needle in Haystack.
type InExpr struct {
	Needle   Expr
	Haystack Expr
}

func (e *InExpr) eval(c *EvalContext, depth int) Value {
	if e.Needle == nil || e.Haystack == nil || depth > maxEvalDepth {
		return false
	}
	needle := e.Needle.eval(c, depth+1)
	if isAbsent(needle) {
		return false
	}
	list, ok := listOf(e.Haystack.eval(c, depth+1))
	if !ok {
		return false
	}
	for _, item := range list {
		if equalValues(needle, item) {
			return true
		}
	}
	return false
}

func (e *InExpr) String() string {
	return fmt.Sprintf("(%s in %s)", exprString(e.Needle), exprString(e.Haystack))
}

// ArithExpr combines two numbers. Non-numeric operands yield absent.
type ArithExpr struct {
	Op    ArithOp
	Left  Expr
	Right Expr
}

func (e *ArithExpr) eval(c *EvalContext, depth int) Value {
	if e.Left == nil || e.Right == nil || depth > maxEvalDepth {
		return absent
	}
	li, lf, lInt, lok := numeric(e.Left.eval(c, depth+1))
	ri, rf, rInt, rok := numeric(e.Right.eval(c, depth+1))
	if !lok || !rok {
		return absent
	}
	switch e.Op {
	case OpAdd:
		if lInt && rInt {
			return li + ri
		}
		return lf + rf
	case OpMul:
		if lInt && rInt {
			return li * ri
		}
		return lf * rf
	}
	return absent
}

func (e *ArithExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", exprString(e.Left), e.Op, exprString(e.Right))
}

// InvalidExpr stands in for a node that could not be understood. It never
// matches.
type InvalidExpr struct {
	Reason string
}

func (e *InvalidExpr) eval(_ *EvalContext, _ int) Value { return false }

func (e *InvalidExpr) String() string { return "invalid(" + e.Reason + ")" }

// Evaluate runs expr against c and coerces the result to a boolean. It never
// panics; nil trees and malformed nodes evaluate to false.
func Evaluate(expr Expr, c *EvalContext) (result bool) {
	if expr == nil || c == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			result = false
		}
	}()
	return truthy(expr.eval(c, 0))
}

// Constructors used by the condition compiler and by tests.

func Var(path string) Expr          { return &VarExpr{Path: path} }
func Lit(v Value) Expr              { return &LitExpr{Value: normalize(v)} }
func And(args ...Expr) Expr         { return &AndExpr{Args: args} }
func Or(args ...Expr) Expr          { return &OrExpr{Args: args} }
func Not(arg Expr) Expr             { return &NotExpr{Arg: arg} }
func Cmp(op CmpOp, l, r Expr) Expr  { return &CmpExpr{Op: op, Left: l, Right: r} }
func Eq(l, r Expr) Expr             { return Cmp(OpEq, l, r) }
func In(needle, haystack Expr) Expr { return &InExpr{Needle: needle, Haystack: haystack} }
func Add(l, r Expr) Expr            { return &ArithExpr{Op: OpAdd, Left: l, Right: r} }
func Mul(l, r Expr) Expr            { return &ArithExpr{Op: OpMul, Left: l, Right: r} }

func exprString(e Expr) string {
	if e == nil {
		return "?"
	}
	return e.String()
}

func joinExprs(args []Expr, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = exprString(a)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
