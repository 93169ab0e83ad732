package permit

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemoryStore implements Store in-memory for tests, demos and single-process
// embedding. Records are copied on the way in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         map[Entity]int64
	resources   map[int64]*Resource
	actions     map[int64]*Action
	roles       map[int64]*Role
	policies    map[int64]*Policy
	assignments map[int64]*RoleAssignment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:         make(map[Entity]int64),
		resources:   make(map[int64]*Resource),
		actions:     make(map[int64]*Action),
		roles:       make(map[int64]*Role),
		policies:    make(map[int64]*Policy),
		assignments: make(map[int64]*RoleAssignment),
	}
}

func (s *MemoryStore) nextID(e Entity, requested int64) int64 {
	if requested > 0 {
		if requested > s.seq[e] {
			s.seq[e] = requested
		}
		return requested
	}
	s.seq[e]++
	return s.seq[e]
}

func notFound(e Entity, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, e, id)
}

func sortedValues[T any](m map[int64]*T, clone func(*T) *T) []*T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m[id]))
	}
	return out
}

// resources

func cloneResource(r *Resource) *Resource { dup := *r; return &dup }

func (s *MemoryStore) CreateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; ok && r.ID > 0 {
		return fmt.Errorf("%w: resource %d", ErrDuplicate, r.ID)
	}
	r.ID = s.nextID(EntityResource, r.ID)
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *MemoryStore) UpdateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; !ok {
		return notFound(EntityResource, r.ID)
	}
	s.resources[r.ID] = cloneResource(r)
	return nil
}

func (s *MemoryStore) DeleteResource(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return notFound(EntityResource, id)
	}
	delete(s.resources, id)
	return nil
}

func (s *MemoryStore) GetResource(ctx context.Context, id int64) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, notFound(EntityResource, id)
	}
	return cloneResource(r), nil
}

func (s *MemoryStore) GetResourceByKey(ctx context.Context, key string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.resources {
		if r.Key == key {
			return cloneResource(r), nil
		}
	}
	return nil, fmt.Errorf("%w: resource %q", ErrNotFound, key)
}

func (s *MemoryStore) ListResources(ctx context.Context) ([]*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.resources, cloneResource), nil
}

// actions

func cloneAction(a *Action) *Action { dup := *a; return &dup }

func (s *MemoryStore) CreateAction(ctx context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; ok && a.ID > 0 {
		return fmt.Errorf("%w: action %d", ErrDuplicate, a.ID)
	}
	a.ID = s.nextID(EntityAction, a.ID)
	s.actions[a.ID] = cloneAction(a)
	return nil
}

func (s *MemoryStore) UpdateAction(ctx context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; !ok {
		return notFound(EntityAction, a.ID)
	}
	s.actions[a.ID] = cloneAction(a)
	return nil
}

func (s *MemoryStore) DeleteAction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return notFound(EntityAction, id)
	}
	delete(s.actions, id)
	return nil
}

func (s *MemoryStore) GetAction(ctx context.Context, id int64) (*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, notFound(EntityAction, id)
	}
	return cloneAction(a), nil
}

func (s *MemoryStore) GetActionByKey(ctx context.Context, key string) (*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.actions {
		if a.Key == key {
			return cloneAction(a), nil
		}
	}
	return nil, fmt.Errorf("%w: action %q", ErrNotFound, key)
}

func (s *MemoryStore) ListActions(ctx context.Context) ([]*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.actions, cloneAction), nil
}

// roles

func cloneRole(r *Role) *Role { dup := *r; return &dup }

func (s *MemoryStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok && r.ID > 0 {
		return fmt.Errorf("%w: role %d", ErrDuplicate, r.ID)
	}
	r.ID = s.nextID(EntityRole, r.ID)
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) UpdateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return notFound(EntityRole, r.ID)
	}
	s.roles[r.ID] = cloneRole(r)
	return nil
}

func (s *MemoryStore) DeleteRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return notFound(EntityRole, id)
	}
	delete(s.roles, id)
	return nil
}

func (s *MemoryStore) GetRole(ctx context.Context, id int64) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, notFound(EntityRole, id)
	}
	return cloneRole(r), nil
}

func (s *MemoryStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return cloneRole(r), nil
		}
	}
	return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
}

func (s *MemoryStore) ListRoles(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.roles, cloneRole), nil
}

// policies

func clonePolicy(p *Policy) *Policy {
	dup := *p
	dup.Params = cloneParams(p.Params)
	return &dup
}

func cloneParams(p ConditionParams) ConditionParams {
	p.Departments = slices.Clone(p.Departments)
	p.Journals = slices.Clone(p.Journals)
	p.DocTypes = slices.Clone(p.DocTypes)
	p.DocSubtypes = slices.Clone(p.DocSubtypes)
	p.Tree = slices.Clone(p.Tree)
	return p
}

func (s *MemoryStore) CreatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; ok && p.ID > 0 {
		return fmt.Errorf("%w: policy %d", ErrDuplicate, p.ID)
	}
	p.ID = s.nextID(EntityPolicy, p.ID)
	s.policies[p.ID] = clonePolicy(p)
	return nil
}

func (s *MemoryStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return notFound(EntityPolicy, p.ID)
	}
	s.policies[p.ID] = clonePolicy(p)
	return nil
}

func (s *MemoryStore) DeletePolicy(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return notFound(EntityPolicy, id)
	}
	delete(s.policies, id)
	return nil
}

func (s *MemoryStore) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, notFound(EntityPolicy, id)
	}
	return clonePolicy(p), nil
}

func (s *MemoryStore) ListPolicies(ctx context.Context) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.policies, clonePolicy), nil
}

// assignments

func cloneAssignment(a *RoleAssignment) *RoleAssignment { dup := *a; return &dup }

func (s *MemoryStore) CreateAssignment(ctx context.Context, a *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; ok && a.ID > 0 {
		return fmt.Errorf("%w: assignment %d", ErrDuplicate, a.ID)
	}
	a.ID = s.nextID(EntityAssignment, a.ID)
	s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (s *MemoryStore) UpdateAssignment(ctx context.Context, a *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return notFound(EntityAssignment, a.ID)
	}
	s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (s *MemoryStore) DeleteAssignment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return notFound(EntityAssignment, id)
	}
	delete(s.assignments, id)
	return nil
}

func (s *MemoryStore) GetAssignment(ctx context.Context, id int64) (*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, notFound(EntityAssignment, id)
	}
	return cloneAssignment(a), nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context) ([]*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.assignments, cloneAssignment), nil
}

var _ Store = (*MemoryStore)(nil)
