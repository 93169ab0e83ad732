package permit

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Resource is a named permission namespace, e.g. "compose.document".
// Resources form a tree through ParentID.
type Resource struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	ParentID    int64     `json:"parent_id,omitempty"` // 0 = root
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Action is a verb applicable to any resource. The (Resource, Action) pair
// is the addressable permission unit.
type Action struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role owns policies and is granted through role assignments.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsSystem    bool      `json:"is_system"` // protected from deletion/deactivation while assigned
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Effect is the outcome a policy asks for when its condition matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

func (e Effect) Valid() bool { return e == EffectAllow || e == EffectDeny }

// Validity is a half-open [From, Until) window. Zero bounds are open.
type Validity struct {
	From  time.Time `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	Until time.Time `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

// Contains reports whether t lies inside the window.
func (v Validity) Contains(t time.Time) bool {
	if !v.From.IsZero() && t.Before(v.From) {
		return false
	}
	if !v.Until.IsZero() && !t.Before(v.Until) {
		return false
	}
	return true
}

func (v Validity) valid() bool {
	return v.From.IsZero() || v.Until.IsZero() || v.From.Before(v.Until)
}

// Policy grants or denies a role an action on a resource under a condition.
// Compiled is derived from Condition+Params on every write and must not be
// set by callers.
type Policy struct {
	ID         int64           `json:"id"`
	RoleID     int64           `json:"role_id"`
	ResourceID int64           `json:"resource_id"`
	ActionID   int64           `json:"action_id"`
	Effect     Effect          `json:"effect"`
	Condition  ConditionKind   `json:"condition"`
	Params     ConditionParams `json:"params"`
	Compiled   Expr            `json:"-"`
	Priority   int             `json:"priority"` // higher = evaluated first
	OrgKey     string          `json:"org_key,omitempty"`
	Validity   Validity        `json:"validity"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RoleAssignment grants a role to a user, a group, or both.
type RoleAssignment struct {
	ID        int64     `json:"id"`
	RoleID    int64     `json:"role_id"`
	UserID    int64     `json:"user_id,omitempty"`
	GroupID   int64     `json:"group_id,omitempty"`
	OrgKey    string    `json:"org_key,omitempty"`
	Validity  Validity  `json:"validity"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subject is the caller whose access is being decided. A subject with a
// non-positive ID is unauthenticated.
type Subject struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	DepartmentID int64   `json:"department_id,omitempty"`
	IsStaff      bool    `json:"is_staff"`
	IsActive     bool    `json:"is_active"`
	IsSuperuser  bool    `json:"is_superuser"`
	Groups       []int64 `json:"groups,omitempty"`
}

// Authenticated reports whether the subject identifies a logged-in user.
func (s *Subject) Authenticated() bool {
	return s != nil && s.ID > 0
}

// ContextObject is implemented by every object type that can be checked
// against a policy. The returned map becomes the "obj" namespace.
type ContextObject interface {
	ToContext() map[string]Value
}

// Attrs is a ready-made ContextObject for callers that already hold the
// object as a flat map.
type Attrs map[string]Value

func (a Attrs) ToContext() map[string]Value { return a }
