package permit

import (
	"strings"
	"time"
)

// Context namespaces.
const (
	NamespaceUser = "user"
	NamespaceObj  = "obj"
	NamespaceNow  = "now"
	NamespaceCtx  = "ctx"
)

// EvalContext carries the four namespaces a condition can reference.
type EvalContext struct {
	User map[string]Value
	Obj  map[string]Value
	Now  map[string]Value
	Ctx  map[string]Value
}

// NewEvalContext builds the evaluation context for one decision. obj may be
// nil, in which case the "obj" namespace is empty. extra values land in the
// "ctx" namespace but never shadow org_key, which is absent when blank.
func NewEvalContext(subject *Subject, obj ContextObject, now time.Time, orgKey string, extra map[string]Value) *EvalContext {
	c := &EvalContext{
		User: make(map[string]Value, 5),
		Obj:  make(map[string]Value),
		Now: map[string]Value{
			"hour":   int64(now.Hour()),
			"minute": int64(now.Minute()),
			"iso":    now.Format(time.RFC3339),
		},
		Ctx: make(map[string]Value, len(extra)+1),
	}
	if subject != nil {
		c.User["id"] = subject.ID
		c.User["username"] = subject.Username
		c.User["is_staff"] = subject.IsStaff
		c.User["is_active"] = subject.IsActive
		if subject.DepartmentID != 0 {
			c.User["department_id"] = subject.DepartmentID
		}
	}
	if obj != nil {
		for k, v := range obj.ToContext() {
			c.Obj[k] = normalize(v)
		}
	}
	for k, v := range extra {
		c.Ctx[k] = normalize(v)
	}
	delete(c.Ctx, "org_key")
	if orgKey != "" {
		c.Ctx["org_key"] = orgKey
	}
	return c
}

// Lookup resolves a dotted path ("obj.author_id", "ctx.meta.region").
// Unknown namespaces and missing keys report ok=false.
func (c *EvalContext) Lookup(path string) (Value, bool) {
	ns, rest, found := strings.Cut(path, ".")
	if !found || rest == "" {
		return nil, false
	}
	var cur map[string]Value
	switch ns {
	case NamespaceUser:
		cur = c.User
	case NamespaceObj:
		cur = c.Obj
	case NamespaceNow:
		cur = c.Now
	case NamespaceCtx:
		cur = c.Ctx
	default:
		return nil, false
	}
	for {
		key, tail, more := strings.Cut(rest, ".")
		v, ok := cur[key]
		if !ok || v == nil {
			return nil, false
		}
		if !more {
			return normalize(v), true
		}
		next, isMap := v.(map[string]Value)
		if !isMap {
			return nil, false
		}
		cur = next
		rest = tail
	}
}
