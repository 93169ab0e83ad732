package permit

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oarkflow/permit/utils"
)

// ConditionKind selects one of the condition presets an administrator can
// attach to a policy.
type ConditionKind string

const (
	CondNone                ConditionKind = "none"
	CondOwnDepartment       ConditionKind = "own_department"
	CondAssignmentScope     ConditionKind = "assignment_scope"
	CondSpecificDepartments ConditionKind = "specific_departments"
	CondOwnObject           ConditionKind = "own_object"
	CondOwnAuthor           ConditionKind = "own_author"
	CondOwnCurator          ConditionKind = "own_curator"
	CondSpecificJournals    ConditionKind = "specific_journals"
	CondSpecificDocTypes    ConditionKind = "specific_doc_types"
	CondSpecificDocSubtypes ConditionKind = "specific_doc_subtypes"
	CondTimeWindow          ConditionKind = "time_window"
	CondAdvanced            ConditionKind = "advanced"
)

// ConditionKinds lists every supported preset.
var ConditionKinds = []ConditionKind{
	CondNone, CondOwnDepartment, CondAssignmentScope, CondSpecificDepartments,
	CondOwnObject, CondOwnAuthor, CondOwnCurator, CondSpecificJournals,
	CondSpecificDocTypes, CondSpecificDocSubtypes, CondTimeWindow, CondAdvanced,
}

// ConditionParams holds the parameters of every preset; each kind reads only
// the fields it needs.
type ConditionParams struct {
	Departments []int64         `json:"departments,omitempty"`
	Journals    []int64         `json:"journals,omitempty"`
	DocTypes    []int64         `json:"doc_types,omitempty"`
	DocSubtypes []int64         `json:"doc_subtypes,omitempty"`
	Field       string          `json:"field,omitempty"` // own_object
	Start       string          `json:"start,omitempty"` // time_window, "HH:MM"
	End         string          `json:"end,omitempty"`
	Tree        json.RawMessage `json:"tree,omitempty"` // advanced
}

// Object attribute names referenced by the presets.
const (
	AttrDepartmentID = "department_id"
	AttrOrgKey       = "org_key"
	AttrAuthorID     = "author_id"
	AttrCuratorID    = "curator_id"
	AttrJournalID    = "journal_id"
	AttrDocTypeID    = "doc_type_id"
	AttrDocSubtypeID = "doc_subtype_id"
)

// CompileCondition turns a preset into its expression tree. It is pure and
// deterministic: equal inputs always give structurally identical trees.
// Missing required parameters are reported as ErrInvalidCondition.
func CompileCondition(kind ConditionKind, params ConditionParams) (Expr, error) {
	switch kind {
	case CondNone:
		return Lit(true), nil
	case CondOwnDepartment:
		return Eq(objVar(AttrDepartmentID), Var("user.department_id")), nil
	case CondAssignmentScope:
		return Eq(objVar(AttrOrgKey), Var("ctx.org_key")), nil
	case CondSpecificDepartments:
		return idMembership(kind, AttrDepartmentID, params.Departments)
	case CondSpecificJournals:
		return idMembership(kind, AttrJournalID, params.Journals)
	case CondSpecificDocTypes:
		return idMembership(kind, AttrDocTypeID, params.DocTypes)
	case CondSpecificDocSubtypes:
		return idMembership(kind, AttrDocSubtypeID, params.DocSubtypes)
	case CondOwnObject:
		field := strings.TrimSpace(params.Field)
		if !utils.ValidIdentifier(field) {
			return nil, fmt.Errorf("%w: %s needs a field name, got %q", ErrInvalidCondition, kind, params.Field)
		}
		return Eq(objVar(field), Var("user.id")), nil
	case CondOwnAuthor:
		return Eq(objVar(AttrAuthorID), Var("user.id")), nil
	case CondOwnCurator:
		return Eq(objVar(AttrCuratorID), Var("user.id")), nil
	case CondTimeWindow:
		start, end, err := timeWindowBounds(params)
		if err != nil {
			return nil, err
		}
		return timeWindowExpr(start, end), nil
	case CondAdvanced:
		if len(params.Tree) == 0 {
			return nil, fmt.Errorf("%w: %s needs a tree", ErrInvalidCondition, kind)
		}
		tree, err := UnmarshalExpr(params.Tree)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return nil, fmt.Errorf("%w: %s needs a tree", ErrInvalidCondition, kind)
		}
		return tree, nil
	}
	return nil, fmt.Errorf("%w: unknown condition kind %q", ErrInvalidCondition, kind)
}

// Valid reports whether k is a known preset.
func (k ConditionKind) Valid() bool {
	return slices.Contains(ConditionKinds, k)
}

func objVar(attr string) Expr { return Var(NamespaceObj + "." + attr) }

func idMembership(kind ConditionKind, attr string, ids []int64) (Expr, error) {
	set := canonicalIDs(ids)
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one id", ErrInvalidCondition, kind)
	}
	return In(objVar(attr), Lit(set)), nil
}

// canonicalIDs sorts and de-duplicates ids.
func canonicalIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func timeWindowBounds(params ConditionParams) (start, end int64, err error) {
	if start, err = parseClock(params.Start); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(params.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int64, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: time_window bound %q must be HH:MM", ErrInvalidCondition, s)
	}
	return int64(t.Hour()*60 + t.Minute()), nil
}

func minuteOfDay() Expr {
	return Add(Mul(Var("now.hour"), Lit(60)), Var("now.minute"))
}

// timeWindowExpr is start <= minute <= end, or the wrap-around form when the
// window crosses midnight.
func timeWindowExpr(start, end int64) Expr {
	lower := Cmp(OpGte, minuteOfDay(), Lit(start))
	upper := Cmp(OpLte, minuteOfDay(), Lit(end))
	if start <= end {
		return And(lower, upper)
	}
	return Or(lower, upper)
}

// inTimeWindow applies the compiled window semantics to a clock reading.
func inTimeWindow(params ConditionParams, now time.Time) bool {
	start, end, err := timeWindowBounds(params)
	if err != nil {
		return false
	}
	m := int64(now.Hour()*60 + now.Minute())
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}
