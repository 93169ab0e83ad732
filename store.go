package permit

import (
	"context"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// ResourceStore manages resource persistence
type ResourceStore interface {
	CreateResource(ctx context.Context, r *Resource) error
	UpdateResource(ctx context.Context, r *Resource) error
	DeleteResource(ctx context.Context, id int64) error
	GetResource(ctx context.Context, id int64) (*Resource, error)
	GetResourceByKey(ctx context.Context, key string) (*Resource, error)
	ListResources(ctx context.Context) ([]*Resource, error)
}

// ActionStore manages action persistence
type ActionStore interface {
	CreateAction(ctx context.Context, a *Action) error
	UpdateAction(ctx context.Context, a *Action) error
	DeleteAction(ctx context.Context, id int64) error
	GetAction(ctx context.Context, id int64) (*Action, error)
	GetActionByKey(ctx context.Context, key string) (*Action, error)
	ListActions(ctx context.Context) ([]*Action, error)
}

// RoleStore manages role persistence
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id int64) error
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
}

// PolicyStore manages policy persistence. Stores keep the compiled tree
// alongside the policy.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id int64) error
	GetPolicy(ctx context.Context, id int64) (*Policy, error)
	ListPolicies(ctx context.Context) ([]*Policy, error)
}

// AssignmentStore manages role assignment persistence
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *RoleAssignment) error
	UpdateAssignment(ctx context.Context, a *RoleAssignment) error
	DeleteAssignment(ctx context.Context, id int64) error
	GetAssignment(ctx context.Context, id int64) (*RoleAssignment, error)
	ListAssignments(ctx context.Context) ([]*RoleAssignment, error)
}

// Store bundles every entity store. Create methods assign the ID; Get
// methods return ErrNotFound (wrapped) for unknown records.
type Store interface {
	ResourceStore
	ActionStore
	RoleStore
	PolicyStore
	AssignmentStore
}

// Entity names a stored record type.
type Entity string

const (
	EntityResource   Entity = "resource"
	EntityAction     Entity = "action"
	EntityRole       Entity = "role"
	EntityPolicy     Entity = "policy"
	EntityAssignment Entity = "assignment"
)

// MutationOp is the kind of write that happened.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Mutation describes one committed write.
type Mutation struct {
	Entity Entity     `json:"entity"`
	Op     MutationOp `json:"op"`
	ID     int64      `json:"id"`
}

// MutationListener is told about every committed write. Listeners are
// called synchronously before the write call returns.
type MutationListener interface {
	OnMutation(ctx context.Context, m Mutation)
}

// MutationListenerFunc adapts a function to MutationListener.
type MutationListenerFunc func(ctx context.Context, m Mutation)

func (f MutationListenerFunc) OnMutation(ctx context.Context, m Mutation) { f(ctx, m) }

// GroupProvider supplies group memberships that are not carried on the
// Subject itself, e.g. from a directory service.
type GroupProvider interface {
	GroupsFor(ctx context.Context, subject *Subject) ([]int64, error)
}
