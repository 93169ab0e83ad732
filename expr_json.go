package permit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// maxDecodeDepth bounds nesting of stored or administrator-supplied trees.
const maxDecodeDepth = 32

// Wire form of a tree:
//
//	{"var": "obj.author_id"}
//	{"lit": 42} / {"lit": [1, 2]}
//	{"op": "and", "args": [...]}   ops: and or not == != > >= < <= in + *
//	{"invalid": "reason"}

// MarshalExpr encodes a tree into its JSON wire form.
func MarshalExpr(e Expr) ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return json.Marshal(exprToWire(e))
}

func exprToWire(e Expr) map[string]any {
	switch v := e.(type) {
	case *VarExpr:
		return map[string]any{"var": v.Path}
	case *LitExpr:
		return map[string]any{"lit": v.Value}
	case *AndExpr:
		return map[string]any{"op": "and", "args": wireArgs(v.Args...)}
	case *OrExpr:
		return map[string]any{"op": "or", "args": wireArgs(v.Args...)}
	case *NotExpr:
		return map[string]any{"op": "not", "args": wireArgs(v.Arg)}
	case *CmpExpr:
		return map[string]any{"op": string(v.Op), "args": wireArgs(v.Left, v.Right)}
	case *InExpr:
		return map[string]any{"op": "in", "args": wireArgs(v.Needle, v.Haystack)}
	case *ArithExpr:
		return map[string]any{"op": string(v.Op), "args": wireArgs(v.Left, v.Right)}
	case *InvalidExpr:
		return map[string]any{"invalid": v.Reason}
	}
	return map[string]any{"invalid": fmt.Sprintf("unknown node %T", e)}
}

func wireArgs(args ...Expr) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if a == nil {
			out[i] = nil
			continue
		}
		out[i] = exprToWire(a)
	}
	return out
}

// UnmarshalExpr decodes a JSON tree. Only syntactically broken JSON is an
// error; unknown operators, wrong arities and over-deep nesting decode to
// InvalidExpr so that they never match. Empty input decodes to nil.
func UnmarshalExpr(data []byte) (Expr, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: tree is not valid JSON", ErrInvalidCondition)
	}
	return decodeNode(data, 0), nil
}

func decodeNode(raw json.RawMessage, depth int) Expr {
	if depth > maxDecodeDepth {
		return &InvalidExpr{Reason: "nesting too deep"}
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return &InvalidExpr{Reason: "node is not an object"}
	}
	if rv, ok := m["var"]; ok {
		var path string
		if err := json.Unmarshal(rv, &path); err != nil || path == "" {
			return &InvalidExpr{Reason: "var needs a path"}
		}
		return &VarExpr{Path: path}
	}
	if rl, ok := m["lit"]; ok {
		dec := json.NewDecoder(bytes.NewReader(rl))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return &InvalidExpr{Reason: "bad literal"}
		}
		return &LitExpr{Value: normalize(v)}
	}
	if ri, ok := m["invalid"]; ok {
		var reason string
		_ = json.Unmarshal(ri, &reason)
		return &InvalidExpr{Reason: reason}
	}
	ro, ok := m["op"]
	if !ok {
		return &InvalidExpr{Reason: "unrecognised node"}
	}
	var op string
	if err := json.Unmarshal(ro, &op); err != nil {
		return &InvalidExpr{Reason: "op must be a string"}
	}
	var rawArgs []json.RawMessage
	if ra, ok := m["args"]; ok {
		if err := json.Unmarshal(ra, &rawArgs); err != nil {
			return &InvalidExpr{Reason: "args must be a list"}
		}
	}
	args := make([]Expr, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = decodeNode(a, depth+1)
	}
	switch op {
	case "and":
		return &AndExpr{Args: args}
	case "or":
		return &OrExpr{Args: args}
	case "not":
		if len(args) != 1 {
			return &InvalidExpr{Reason: "not takes one operand"}
		}
		return &NotExpr{Arg: args[0]}
	case "in":
		if len(args) != 2 {
			return &InvalidExpr{Reason: "in takes two operands"}
		}
		return &InExpr{Needle: args[0], Haystack: args[1]}
	case string(OpAdd), string(OpMul):
		if len(args) != 2 {
			return &InvalidExpr{Reason: op + " takes two operands"}
		}
		return &ArithExpr{Op: ArithOp(op), Left: args[0], Right: args[1]}
	}
	if cmp := CmpOp(op); cmp.valid() {
		if len(args) != 2 {
			return &InvalidExpr{Reason: op + " takes two operands"}
		}
		return &CmpExpr{Op: cmp, Left: args[0], Right: args[1]}
	}
	return &InvalidExpr{Reason: "unknown op " + op}
}
