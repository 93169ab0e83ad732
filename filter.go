package permit

import (
	"strings"
)

// FilterTerm matches rows whose Field equals one of Values.
type FilterTerm struct {
	Field  string  `json:"field"`
	Values []Value `json:"values"`
}

// Filter is a visibility predicate: All, or the OR of its terms. A filter
// with neither matches nothing.
type Filter struct {
	All   bool         `json:"all"`
	Terms []FilterTerm `json:"terms,omitempty"`
}

func (f *Filter) addIDs(field string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	vals := make([]Value, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	f.add(field, vals)
}

// add merges values into an existing term on the same field.
func (f *Filter) add(field string, vals []Value) {
	for i := range f.Terms {
		if f.Terms[i].Field != field {
			continue
		}
		for _, v := range vals {
			if !containsValue(f.Terms[i].Values, v) {
				f.Terms[i].Values = append(f.Terms[i].Values, v)
			}
		}
		return
	}
	f.Terms = append(f.Terms, FilterTerm{Field: field, Values: vals})
}

func containsValue(list []Value, v Value) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// None reports whether the filter matches no rows.
func (f Filter) None() bool { return !f.All && len(f.Terms) == 0 }

// Matches evaluates the filter against one object.
func (f Filter) Matches(obj ContextObject) bool {
	if f.All {
		return true
	}
	if obj == nil || len(f.Terms) == 0 {
		return false
	}
	attrs := obj.ToContext()
	for _, t := range f.Terms {
		v, ok := attrs[t.Field]
		if !ok {
			continue
		}
		if containsValue(t.Values, normalize(v)) {
			return true
		}
	}
	return false
}

// SQL renders the filter as a WHERE fragment with positional placeholders.
// Field names come from a validated FieldMap or policy parameters and are
// emitted as-is.
func (f Filter) SQL() (string, []any) {
	if f.All {
		return "1=1", nil
	}
	if len(f.Terms) == 0 {
		return "1=0", nil
	}
	var (
		parts []string
		args  []any
	)
	for _, t := range f.Terms {
		marks := make([]string, len(t.Values))
		for i, v := range t.Values {
			marks[i] = "?"
			args = append(args, v)
		}
		parts = append(parts, t.Field+" IN ("+strings.Join(marks, ", ")+")")
	}
	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
