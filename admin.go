package permit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// ADMINISTRATIVE WRITE PATH
// ============================================================================

// Admin validates and persists configuration changes and notifies its
// listeners after every committed write. Writes through one Admin are
// serialised so that uniqueness checks cannot interleave.
type Admin struct {
	mu        sync.Mutex
	store     Store
	listeners []MutationListener
	logger    logger.Logger
	clock     func() time.Time
}

// AdminOption configures an Admin.
type AdminOption func(*Admin) error

// WithListener registers a listener, typically an Engine or a CompiledCache.
func WithListener(l MutationListener) AdminOption {
	return func(a *Admin) error {
		if l == nil {
			return fmt.Errorf("nil mutation listener")
		}
		a.listeners = append(a.listeners, l)
		return nil
	}
}

func WithAdminLogger(l logger.Logger) AdminOption {
	return func(a *Admin) error {
		a.logger = l
		return nil
	}
}

func WithAdminClock(now func() time.Time) AdminOption {
	return func(a *Admin) error {
		a.clock = now
		return nil
	}
}

func NewAdmin(store Store, opts ...AdminOption) (*Admin, error) {
	a := &Admin{
		store:  store,
		logger: logger.NewNullLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Store exposes the underlying store for reads.
func (a *Admin) Store() Store { return a.store }

// AddListener registers a listener after construction.
func (a *Admin) AddListener(l MutationListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *Admin) notify(ctx context.Context, entity Entity, op MutationOp, id int64) {
	m := Mutation{Entity: entity, Op: op, ID: id}
	for _, l := range a.listeners {
		l.OnMutation(ctx, m)
	}
	a.logger.Info("permit "+string(entity)+" "+string(op), "id", id)
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ---------------------------------------------------------------------------
// resources
// ---------------------------------------------------------------------------

func (a *Admin) CreateResource(ctx context.Context, r *Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkResource(ctx, r); err != nil {
		return err
	}
	if r.ParentID != 0 {
		if _, err := a.store.GetResource(ctx, r.ParentID); err != nil {
			return referenceErr("parent resource", r.ParentID, err)
		}
	}
	r.CreatedAt = a.clock()
	r.UpdatedAt = r.CreatedAt
	if err := a.store.CreateResource(ctx, r); err != nil {
		return err
	}
	a.notify(ctx, EntityResource, OpCreate, r.ID)
	return nil
}

func (a *Admin) UpdateResource(ctx context.Context, r *Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, err := a.store.GetResource(ctx, r.ID)
	if err != nil {
		return err
	}
	if err := a.checkResource(ctx, r); err != nil {
		return err
	}
	if err := a.checkParent(ctx, r.ID, r.ParentID); err != nil {
		return err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = a.clock()
	if err := a.store.UpdateResource(ctx, r); err != nil {
		return err
	}
	a.notify(ctx, EntityResource, OpUpdate, r.ID)
	return nil
}

// DeleteResource refuses while policies or child resources reference it.
func (a *Admin) DeleteResource(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.store.GetResource(ctx, id); err != nil {
		return err
	}
	policies, err := a.store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if p.ResourceID == id {
			return fmt.Errorf("%w: resource %d is used by policy %d", ErrResourceInUse, id, p.ID)
		}
	}
	resources, err := a.store.ListResources(ctx)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if r.ParentID == id {
			return fmt.Errorf("%w: resource %d has child %q", ErrResourceInUse, id, r.Key)
		}
	}
	if err := a.store.DeleteResource(ctx, id); err != nil {
		return err
	}
	a.notify(ctx, EntityResource, OpDelete, id)
	return nil
}

func (a *Admin) checkResource(ctx context.Context, r *Resource) error {
	r.Key = utils.NormalizeKey(r.Key)
	if !utils.ValidKey(r.Key) {
		return fmt.Errorf("%w: resource %q", ErrInvalidKey, r.Key)
	}
	if strings.TrimSpace(r.Name) == "" {
		r.Name = r.Key
	}
	other, err := a.store.GetResourceByKey(ctx, r.Key)
	switch {
	case err == nil && other.ID != r.ID:
		return fmt.Errorf("%w: resource %q", ErrDuplicate, r.Key)
	case err != nil && !isNotFound(err):
		return err
	}
	return nil
}

// checkParent walks up from parentID and fails if it reaches id.
func (a *Admin) checkParent(ctx context.Context, id, parentID int64) error {
	seen := map[int64]bool{}
	for cur := parentID; cur != 0; {
		if cur == id {
			return fmt.Errorf("%w: resource %d", ErrResourceCycle, id)
		}
		if seen[cur] {
			return fmt.Errorf("%w: resource %d", ErrResourceCycle, cur)
		}
		seen[cur] = true
		parent, err := a.store.GetResource(ctx, cur)
		if err != nil {
			return referenceErr("parent resource", cur, err)
		}
		cur = parent.ParentID
	}
	return nil
}

// ---------------------------------------------------------------------------
// actions
// ---------------------------------------------------------------------------

func (a *Admin) CreateAction(ctx context.Context, act *Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkAction(ctx, act); err != nil {
		return err
	}
	act.CreatedAt = a.clock()
	act.UpdatedAt = act.CreatedAt
	if err := a.store.CreateAction(ctx, act); err != nil {
		return err
	}
	a.notify(ctx, EntityAction, OpCreate, act.ID)
	return nil
}

func (a *Admin) UpdateAction(ctx context.Context, act *Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, err := a.store.GetAction(ctx, act.ID)
	if err != nil {
		return err
	}
	if err := a.checkAction(ctx, act); err != nil {
		return err
	}
	act.CreatedAt = existing.CreatedAt
	act.UpdatedAt = a.clock()
	if err := a.store.UpdateAction(ctx, act); err != nil {
		return err
	}
	a.notify(ctx, EntityAction, OpUpdate, act.ID)
	return nil
}

func (a *Admin) DeleteAction(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.store.GetAction(ctx, id); err != nil {
		return err
	}
	policies, err := a.store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if p.ActionID == id {
			return fmt.Errorf("%w: action %d is used by policy %d", ErrActionInUse, id, p.ID)
		}
	}
	if err := a.store.DeleteAction(ctx, id); err != nil {
		return err
	}
	a.notify(ctx, EntityAction, OpDelete, id)
	return nil
}

func (a *Admin) checkAction(ctx context.Context, act *Action) error {
	act.Key = utils.NormalizeKey(act.Key)
	if !utils.ValidKey(act.Key) {
		return fmt.Errorf("%w: action %q", ErrInvalidKey, act.Key)
	}
	if strings.TrimSpace(act.Name) == "" {
		act.Name = act.Key
	}
	other, err := a.store.GetActionByKey(ctx, act.Key)
	switch {
	case err == nil && other.ID != act.ID:
		return fmt.Errorf("%w: action %q", ErrDuplicate, act.Key)
	case err != nil && !isNotFound(err):
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// roles
// ---------------------------------------------------------------------------

func (a *Admin) CreateRole(ctx context.Context, r *Role) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkRole(ctx, r); err != nil {
		return err
	}
	r.CreatedAt = a.clock()
	r.UpdatedAt = r.CreatedAt
	if err := a.store.CreateRole(ctx, r); err != nil {
		return err
	}
	a.notify(ctx, EntityRole, OpCreate, r.ID)
	return nil
}

// UpdateRole refuses to deactivate a system role that is still assigned, or
// to clear its system flag.
func (a *Admin) UpdateRole(ctx context.Context, r *Role) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, err := a.store.GetRole(ctx, r.ID)
	if err != nil {
		return err
	}
	if err := a.checkRole(ctx, r); err != nil {
		return err
	}
	deactivating := existing.IsActive && !r.IsActive
	if existing.IsSystem && (deactivating || !r.IsSystem) {
		assigned, err := a.roleAssigned(ctx, r.ID)
		if err != nil {
			return err
		}
		if assigned && deactivating {
			return fmt.Errorf("%w: cannot deactivate role %q", ErrProtectedRole, existing.Name)
		}
		if assigned {
			return fmt.Errorf("%w: cannot clear the system flag of role %q", ErrProtectedRole, existing.Name)
		}
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = a.clock()
	if err := a.store.UpdateRole(ctx, r); err != nil {
		return err
	}
	a.notify(ctx, EntityRole, OpUpdate, r.ID)
	return nil
}

// DeleteRole removes the role with its policies and assignments. System
// roles cannot be deleted while assigned.
func (a *Admin) DeleteRole(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	role, err := a.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	assignments, err := a.store.ListAssignments(ctx)
	if err != nil {
		return err
	}
	if role.IsSystem {
		for _, as := range assignments {
			if as.RoleID == id {
				return fmt.Errorf("%w: cannot delete role %q", ErrProtectedRole, role.Name)
			}
		}
	}
	policies, err := a.store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if p.RoleID != id {
			continue
		}
		if err := a.store.DeletePolicy(ctx, p.ID); err != nil {
			return err
		}
		a.notify(ctx, EntityPolicy, OpDelete, p.ID)
	}
	for _, as := range assignments {
		if as.RoleID != id {
			continue
		}
		if err := a.store.DeleteAssignment(ctx, as.ID); err != nil {
			return err
		}
		a.notify(ctx, EntityAssignment, OpDelete, as.ID)
	}
	if err := a.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	a.notify(ctx, EntityRole, OpDelete, id)
	return nil
}

func (a *Admin) checkRole(ctx context.Context, r *Role) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return fmt.Errorf("%w: role name is empty", ErrInvalidKey)
	}
	other, err := a.store.GetRoleByName(ctx, r.Name)
	switch {
	case err == nil && other.ID != r.ID:
		return fmt.Errorf("%w: role %q", ErrDuplicate, r.Name)
	case err != nil && !isNotFound(err):
		return err
	}
	return nil
}

func (a *Admin) roleAssigned(ctx context.Context, roleID int64) (bool, error) {
	assignments, err := a.store.ListAssignments(ctx)
	if err != nil {
		return false, err
	}
	for _, as := range assignments {
		if as.RoleID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// policies
// ---------------------------------------------------------------------------

// CreatePolicy validates references, compiles the condition and enforces
// uniqueness of (role, resource, action, org_key, priority).
func (a *Admin) CreatePolicy(ctx context.Context, p *Policy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.preparePolicy(ctx, p); err != nil {
		return err
	}
	p.CreatedAt = a.clock()
	p.UpdatedAt = p.CreatedAt
	if err := a.store.CreatePolicy(ctx, p); err != nil {
		return err
	}
	a.notify(ctx, EntityPolicy, OpCreate, p.ID)
	return nil
}

func (a *Admin) UpdatePolicy(ctx context.Context, p *Policy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, err := a.store.GetPolicy(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := a.preparePolicy(ctx, p); err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = a.clock()
	if err := a.store.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	a.notify(ctx, EntityPolicy, OpUpdate, p.ID)
	return nil
}

func (a *Admin) DeletePolicy(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.DeletePolicy(ctx, id); err != nil {
		return err
	}
	a.notify(ctx, EntityPolicy, OpDelete, id)
	return nil
}

// SetPolicyEnabled flips the enabled flag of a policy.
func (a *Admin) SetPolicyEnabled(ctx context.Context, id int64, enabled bool) error {
	p, err := a.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	p.Enabled = enabled
	return a.UpdatePolicy(ctx, p)
}

func (a *Admin) preparePolicy(ctx context.Context, p *Policy) error {
	if _, err := a.store.GetRole(ctx, p.RoleID); err != nil {
		return referenceErr("role", p.RoleID, err)
	}
	if _, err := a.store.GetResource(ctx, p.ResourceID); err != nil {
		return referenceErr("resource", p.ResourceID, err)
	}
	if _, err := a.store.GetAction(ctx, p.ActionID); err != nil {
		return referenceErr("action", p.ActionID, err)
	}
	if !p.Effect.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEffect, p.Effect)
	}
	if !p.Validity.valid() {
		return ErrInvalidValidity
	}
	if p.Condition == "" {
		p.Condition = CondNone
	}
	p.Params.Departments = canonicalIDs(p.Params.Departments)
	p.Params.Journals = canonicalIDs(p.Params.Journals)
	p.Params.DocTypes = canonicalIDs(p.Params.DocTypes)
	p.Params.DocSubtypes = canonicalIDs(p.Params.DocSubtypes)
	p.Params.Field = strings.TrimSpace(p.Params.Field)
	compiled, err := CompileCondition(p.Condition, p.Params)
	if err != nil {
		return err
	}
	p.Compiled = compiled
	p.OrgKey = strings.TrimSpace(p.OrgKey)

	policies, err := a.store.ListPolicies(ctx)
	if err != nil {
		return err
	}
	for _, other := range policies {
		if other.ID == p.ID {
			continue
		}
		if other.RoleID == p.RoleID && other.ResourceID == p.ResourceID && other.ActionID == p.ActionID &&
			other.OrgKey == p.OrgKey && other.Priority == p.Priority {
			return fmt.Errorf("%w: policy %d has the same role, resource, action, org_key and priority", ErrPolicyConflict, other.ID)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// assignments
// ---------------------------------------------------------------------------

func (a *Admin) CreateAssignment(ctx context.Context, as *RoleAssignment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkAssignment(ctx, as); err != nil {
		return err
	}
	as.CreatedAt = a.clock()
	as.UpdatedAt = as.CreatedAt
	if err := a.store.CreateAssignment(ctx, as); err != nil {
		return err
	}
	a.notify(ctx, EntityAssignment, OpCreate, as.ID)
	return nil
}

func (a *Admin) UpdateAssignment(ctx context.Context, as *RoleAssignment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, err := a.store.GetAssignment(ctx, as.ID)
	if err != nil {
		return err
	}
	if err := a.checkAssignment(ctx, as); err != nil {
		return err
	}
	as.CreatedAt = existing.CreatedAt
	as.UpdatedAt = a.clock()
	if err := a.store.UpdateAssignment(ctx, as); err != nil {
		return err
	}
	a.notify(ctx, EntityAssignment, OpUpdate, as.ID)
	return nil
}

func (a *Admin) DeleteAssignment(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.DeleteAssignment(ctx, id); err != nil {
		return err
	}
	a.notify(ctx, EntityAssignment, OpDelete, id)
	return nil
}

func (a *Admin) checkAssignment(ctx context.Context, as *RoleAssignment) error {
	if as.UserID <= 0 && as.GroupID <= 0 {
		return ErrAssignmentSubject
	}
	if _, err := a.store.GetRole(ctx, as.RoleID); err != nil {
		return referenceErr("role", as.RoleID, err)
	}
	if !as.Validity.valid() {
		return ErrInvalidValidity
	}
	as.OrgKey = strings.TrimSpace(as.OrgKey)
	assignments, err := a.store.ListAssignments(ctx)
	if err != nil {
		return err
	}
	for _, other := range assignments {
		if other.ID == as.ID || other.RoleID != as.RoleID || other.OrgKey != as.OrgKey {
			continue
		}
		if as.UserID > 0 && other.UserID == as.UserID {
			return fmt.Errorf("%w: user %d already holds role %d", ErrAssignmentConflict, as.UserID, as.RoleID)
		}
		if as.GroupID > 0 && other.GroupID == as.GroupID {
			return fmt.Errorf("%w: group %d already holds role %d", ErrAssignmentConflict, as.GroupID, as.RoleID)
		}
	}
	return nil
}

func referenceErr(what string, id int64, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s %d", ErrUnknownReference, what, id)
	}
	return err
}
